package imagegen

import (
	"context"
	"errors"
	"math"

	"google.golang.org/genai"

	"image-task-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ImageGenerator = (*GeminiGenerator)(nil)

// GeminiGenerator renders with Imagen through the Gemini API.
type GeminiGenerator struct {
	client       *genai.Client
	defaultModel string
}

func NewGeminiGenerator(ctx context.Context, apiKey, baseURL, defaultModel string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiGenerator{client: c, defaultModel: defaultModel}, nil
}

func (g *GeminiGenerator) Name() string { return "gemini" }

func (g *GeminiGenerator) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GeneratedImage, error) {
	cfg := &genai.GenerateImagesConfig{
		NegativePrompt: req.NegativePrompt,
		NumberOfImages: 1,
		AspectRatio:    aspectRatio(req.Width, req.Height),
		OutputMIMEType: "image/png",
	}
	if req.Guidance > 0 {
		gs := float32(req.Guidance)
		cfg.GuidanceScale = &gs
	}
	if req.Seed > 0 && req.Seed <= math.MaxInt32 {
		seed := int32(req.Seed)
		cfg.Seed = &seed
	}

	resp, err := g.client.Models.GenerateImages(ctx, modelOrDefault(req.Model, g.defaultModel), withStyle(req.Prompt, req.Style), cfg)
	if err != nil {
		return adapter.GeneratedImage{}, err
	}
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			continue
		}
		ct := gi.Image.MIMEType
		if ct == "" {
			ct = "image/png"
		}
		return adapter.GeneratedImage{Data: gi.Image.ImageBytes, ContentType: ct}, nil
	}
	return adapter.GeneratedImage{}, errors.New("gemini: no image in response")
}

// aspectRatio picks the Imagen ratio closest to width:height.
func aspectRatio(w, h int) string {
	if w <= 0 || h <= 0 {
		return "1:1"
	}
	ratios := []struct {
		label string
		value float64
	}{
		{"1:1", 1}, {"3:4", 0.75}, {"4:3", 4.0 / 3}, {"9:16", 9.0 / 16}, {"16:9", 16.0 / 9},
	}
	want := float64(w) / float64(h)
	best := ratios[0]
	for _, r := range ratios[1:] {
		if math.Abs(r.value-want) < math.Abs(best.value-want) {
			best = r
		}
	}
	return best.label
}
