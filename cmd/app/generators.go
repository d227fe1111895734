package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"image-task-pipeline/internal/config"
	"image-task-pipeline/internal/domain/ports/adapter"
	"image-task-pipeline/internal/infra/adapters/imagegen"
)

// buildGenerator registers every configured provider behind one router.
// The placeholder is always available so unknown models still render.
func buildGenerator(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (adapter.ImageGenerator, error) {
	gc := cfg.Generation
	byProvider := map[string]adapter.ImageGenerator{
		"placeholder": imagegen.NewPlaceholderGenerator(),
	}

	if gc.ServiceURL != "" {
		g, err := imagegen.NewHTTPGenerator(gc.ServiceURL, gc.ServiceKey, cfg.Worker.JobTimeout)
		if err != nil {
			return nil, err
		}
		byProvider[g.Name()] = g
	}
	if gc.GeminiKey != "" {
		g, err := imagegen.NewGeminiGenerator(ctx, gc.GeminiKey, gc.GeminiURL, gc.GeminiModel)
		if err != nil {
			return nil, err
		}
		byProvider[g.Name()] = g
	}
	if gc.OpenAIKey != "" {
		g, err := imagegen.NewOpenAIGenerator(gc.OpenAIKey, gc.OpenAIModel)
		if err != nil {
			return nil, err
		}
		byProvider[g.Name()] = g
	}

	if _, ok := byProvider[gc.Provider]; !ok {
		return nil, fmt.Errorf("provider %q is selected but not configured", gc.Provider)
	}
	names := make([]string, 0, len(byProvider))
	for name := range byProvider {
		names = append(names, name)
	}
	logger.Info().Str("default", gc.Provider).Strs("providers", names).
		Int("concurrency", gc.ConcurrentLimit).Msg("image generators ready")

	multi := imagegen.NewMultiGenerator(gc.Provider, byProvider, gc.ModelProviders)
	return imagegen.NewLimited(multi, gc.ConcurrentLimit), nil
}
