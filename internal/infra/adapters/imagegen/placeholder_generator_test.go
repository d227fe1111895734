package imagegen

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"image-task-pipeline/internal/domain/ports/adapter"
)

func TestPlaceholderGenerator(t *testing.T) {
	g := NewPlaceholderGenerator()
	img, err := g.Generate(context.Background(), adapter.GenerateRequest{Prompt: "a cat", Width: 320, Height: 256, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if img.ContentType != "image/png" {
		t.Fatalf("content type = %q", img.ContentType)
	}
	decoded, err := png.Decode(bytes.NewReader(img.Data))
	if err != nil {
		t.Fatalf("not a png: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 320 || b.Dy() != 256 {
		t.Fatalf("bounds = %v", b)
	}
}

func TestAspectRatio(t *testing.T) {
	cases := map[[2]int]string{
		{1024, 1024}: "1:1",
		{1920, 1080}: "16:9",
		{768, 1024}:  "3:4",
		{0, 10}:      "1:1",
	}
	for in, want := range cases {
		if got := aspectRatio(in[0], in[1]); got != want {
			t.Errorf("aspectRatio(%d,%d) = %q, want %q", in[0], in[1], got, want)
		}
	}
}

func TestOpenAISize(t *testing.T) {
	if openAISize(1024, 1024) != "1024x1024" || openAISize(2048, 1024) != "1792x1024" || openAISize(512, 1024) != "1024x1792" {
		t.Fatal("unexpected size mapping")
	}
}
