package adapter

import "context"

// GenerateRequest is one text-to-image call.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Style          string
	Width          int
	Height         int
	Steps          int
	Guidance       float64
	Seed           int64
}

type GeneratedImage struct {
	Data        []byte
	ContentType string
}

// ImageGenerator is the port to the remote model service. Calls may take tens
// of seconds and may fail transiently.
type ImageGenerator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (GeneratedImage, error)
}
