package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"image-task-pipeline/internal/domain/ports/adapter"
)

// Compile-time assurance this adapter satisfies the port
var _ adapter.ImageGenerator = (*HTTPGenerator)(nil)

// maxImageBytes bounds any image body read from the service.
const maxImageBytes = 32 << 20

// HTTPGenerator calls a self-hosted model service at POST {base}/generate.
// The service may answer with a raw image body, or JSON carrying either
// imageBase64 or imageUrl.
type HTTPGenerator struct {
	apiKey string
	base   string
	client *http.Client
}

func NewHTTPGenerator(base, apiKey string, timeout time.Duration) (*HTTPGenerator, error) {
	if base == "" {
		return nil, errors.New("imagegen: empty service url")
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPGenerator{
		apiKey: apiKey,
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: timeout},
	}, nil
}

func (h *HTTPGenerator) Name() string { return "http" }

type httpGenerateRequest struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negativePrompt,omitempty"`
	Model          string  `json:"model,omitempty"`
	Style          string  `json:"style,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Steps          int     `json:"steps"`
	Guidance       float64 `json:"guidance"`
	Seed           int64   `json:"seed"`
}

type httpGenerateResponse struct {
	ImageBase64 string `json:"imageBase64"`
	ImageURL    string `json:"imageUrl"`
	ContentType string `json:"contentType"`
}

func (h *HTTPGenerator) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GeneratedImage, error) {
	b, err := json.Marshal(httpGenerateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          req.Model,
		Style:          req.Style,
		Width:          req.Width,
		Height:         req.Height,
		Steps:          req.Steps,
		Guidance:       req.Guidance,
		Seed:           req.Seed,
	})
	if err != nil {
		return adapter.GeneratedImage{}, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/generate", bytes.NewReader(b))
	if err != nil {
		return adapter.GeneratedImage{}, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if h.apiKey != "" {
		hreq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(hreq)
	if err != nil {
		return adapter.GeneratedImage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return adapter.GeneratedImage{}, fmt.Errorf("model service http %d", resp.StatusCode)
	}

	ct := mediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "image/") {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		if err != nil {
			return adapter.GeneratedImage{}, err
		}
		return adapter.GeneratedImage{Data: data, ContentType: ct}, nil
	}

	var payload httpGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return adapter.GeneratedImage{}, fmt.Errorf("decode model service response: %w", err)
	}
	switch {
	case payload.ImageBase64 != "":
		return decodeBase64Image(payload.ImageBase64, payload.ContentType)
	case payload.ImageURL != "":
		return h.fetch(ctx, payload.ImageURL)
	}
	return adapter.GeneratedImage{}, errors.New("model service returned no image")
}

func (h *HTTPGenerator) fetch(ctx context.Context, url string) (adapter.GeneratedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return adapter.GeneratedImage{}, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return adapter.GeneratedImage{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return adapter.GeneratedImage{}, fmt.Errorf("fetch image http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return adapter.GeneratedImage{}, err
	}
	ct := mediaType(resp.Header.Get("Content-Type"))
	if ct == "" || !strings.HasPrefix(ct, "image/") {
		ct = http.DetectContentType(data)
	}
	return adapter.GeneratedImage{Data: data, ContentType: ct}, nil
}

// decodeBase64Image accepts plain base64 or a data: URL.
func decodeBase64Image(s, contentType string) (adapter.GeneratedImage, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i > 0 {
			meta := strings.TrimSuffix(strings.TrimPrefix(s[:i], "data:"), ";base64")
			if contentType == "" {
				contentType = meta
			}
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return adapter.GeneratedImage{}, fmt.Errorf("decode image: %w", err)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return adapter.GeneratedImage{Data: data, ContentType: contentType}, nil
}

func mediaType(header string) string {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return mt
}
