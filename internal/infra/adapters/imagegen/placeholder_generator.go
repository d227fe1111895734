package imagegen

import (
	"bytes"
	"context"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"

	"image-task-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ImageGenerator = (*PlaceholderGenerator)(nil)

// PlaceholderGenerator renders a solid PNG whose color derives from the prompt
// and seed. Used for local runs without a model service.
type PlaceholderGenerator struct{}

func NewPlaceholderGenerator() *PlaceholderGenerator { return &PlaceholderGenerator{} }

func (p *PlaceholderGenerator) Name() string { return "placeholder" }

func (p *PlaceholderGenerator) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GeneratedImage, error) {
	if err := ctx.Err(); err != nil {
		return adapter.GeneratedImage{}, err
	}
	w, h := req.Width, req.Height
	if w <= 0 {
		w = 1024
	}
	if h <= 0 {
		h = 1024
	}

	hs := fnv.New32a()
	_, _ = hs.Write([]byte(req.Prompt))
	sum := hs.Sum32() ^ uint32(req.Seed)
	fill := color.RGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 0xff}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = fill.R
		img.Pix[i+1] = fill.G
		img.Pix[i+2] = fill.B
		img.Pix[i+3] = fill.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return adapter.GeneratedImage{}, err
	}
	return adapter.GeneratedImage{Data: buf.Bytes(), ContentType: "image/png"}, nil
}
