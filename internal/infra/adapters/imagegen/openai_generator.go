package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"image-task-pipeline/internal/domain/ports/adapter"
)

var _ adapter.ImageGenerator = (*OpenAIGenerator)(nil)

// OpenAIGenerator uses the Images API and asks for base64 output.
type OpenAIGenerator struct {
	client       openai.Client
	defaultModel string
}

func NewOpenAIGenerator(apiKey, defaultModel string, opts ...option.RequestOption) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key empty")
	}
	if defaultModel == "" {
		defaultModel = openai.ImageModelDallE3
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIGenerator{client: openai.NewClient(opts...), defaultModel: defaultModel}, nil
}

func (o *OpenAIGenerator) Name() string { return "openai" }

func (o *OpenAIGenerator) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GeneratedImage, error) {
	prompt := withStyle(req.Prompt, req.Style)
	if req.NegativePrompt != "" {
		prompt += "\nAvoid: " + req.NegativePrompt
	}
	resp, err := o.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(modelOrDefault(req.Model, o.defaultModel)),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize(openAISize(req.Width, req.Height)),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return adapter.GeneratedImage{}, err
	}
	for _, img := range resp.Data {
		if img.B64JSON == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(img.B64JSON)
		if err != nil {
			return adapter.GeneratedImage{}, fmt.Errorf("openai: decode image: %w", err)
		}
		return adapter.GeneratedImage{Data: data, ContentType: http.DetectContentType(data)}, nil
	}
	return adapter.GeneratedImage{}, errors.New("openai: no image in response")
}

// openAISize maps to the sizes the Images API accepts.
func openAISize(w, h int) string {
	switch {
	case w > h:
		return "1792x1024"
	case h > w:
		return "1024x1792"
	}
	return "1024x1024"
}
