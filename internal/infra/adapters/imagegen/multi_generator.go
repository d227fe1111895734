package imagegen

import (
	"context"
	"errors"
	"strings"
	"time"

	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/infra/metrics"
)

var _ adapter.ImageGenerator = (*MultiGenerator)(nil)

// MultiGenerator routes each request to a provider by model name.
type MultiGenerator struct {
	defaultProvider string
	byProvider      map[string]adapter.ImageGenerator
	modelToProvider map[string]string // model -> provider
}

func NewMultiGenerator(
	defaultProvider string,
	byProvider map[string]adapter.ImageGenerator,
	modelToProvider map[string]string,
) *MultiGenerator {
	return &MultiGenerator{
		defaultProvider: strings.ToLower(defaultProvider),
		byProvider:      byProvider,
		modelToProvider: modelToProvider,
	}
}

func (m *MultiGenerator) Name() string { return "multi" }

// resolveProvider reports the provider for model and whether model names a
// provider model, either through the explicit map or a known prefix.
func (m *MultiGenerator) resolveProvider(model string) (string, bool) {
	if p := m.modelToProvider[model]; p != "" {
		return strings.ToLower(p), true
	}
	l := strings.ToLower(model)
	switch {
	case strings.HasPrefix(l, "imagen"), strings.HasPrefix(l, "gemini"):
		return "gemini", true
	case strings.HasPrefix(l, "dall-e"), strings.HasPrefix(l, "gpt-image"):
		return "openai", true
	default:
		return m.defaultProvider, false
	}
}

func (m *MultiGenerator) pick(model string) (adapter.ImageGenerator, bool) {
	prov, known := m.resolveProvider(model)
	if g := m.byProvider[prov]; g != nil {
		return g, known
	}
	if g := m.byProvider[m.defaultProvider]; g != nil {
		return g, false
	}
	return nil, false
}

func (m *MultiGenerator) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GeneratedImage, error) {
	g, known := m.pick(req.Model)
	if g == nil {
		return adapter.GeneratedImage{}, errors.New("imagegen: no provider for model " + req.Model)
	}
	// Other category names are labels only; the provider uses its default model.
	if !known {
		req.Model = ""
	}

	start := time.Now()
	img, err := g.Generate(ctx, req)
	metrics.ObserveGeneration(g.Name(), modelLabel(req.Model), time.Since(start), err == nil)
	return img, err
}

func modelLabel(model string) string {
	if model == "" {
		return "default"
	}
	return model
}

func modelOrDefault(model, def string) string {
	if model == "" {
		return def
	}
	return model
}

// withStyle appends the style name as a prompt hint.
func withStyle(prompt, style string) string {
	if style == "" {
		return prompt
	}
	return prompt + ", " + style + " style"
}
