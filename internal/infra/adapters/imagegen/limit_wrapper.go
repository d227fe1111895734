package imagegen

import (
	"context"

	"image-task-pipeline/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.ImageGenerator = (*limitedGenerator)(nil)

type limitedGenerator struct {
	inner adapter.ImageGenerator
	sem   chan struct{}
}

// NewLimited caps concurrent calls into inner. maxConcurrent <= 0 disables the cap.
func NewLimited(inner adapter.ImageGenerator, maxConcurrent int) adapter.ImageGenerator {
	if maxConcurrent <= 0 {
		return inner
	}
	return &limitedGenerator{
		inner: inner,
		sem:   make(chan struct{}, maxConcurrent),
	}
}

func (l *limitedGenerator) Name() string { return l.inner.Name() }

func (l *limitedGenerator) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GeneratedImage, error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return adapter.GeneratedImage{}, ctx.Err()
	}
	defer func() { <-l.sem }()
	return l.inner.Generate(ctx, req)
}
