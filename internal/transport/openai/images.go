package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/domain"
	"github.com/kailas-cloud/pixelquota/internal/domain/generation"
	"github.com/kailas-cloud/pixelquota/internal/metrics"
)

const (
	msgNoImage       = "The AI couldn't generate an image for this prompt. This might be due to safety filters or the specific nature of your request. Please try rephrasing or using a different prompt."
	msgMissingData   = "Image data is missing in the API response."
	msgInvalidAPIKey = "Invalid API Key. Please check the configured image generation API key."
	msgAPIQuota      = "API quota exceeded. Please try again later or check your quota limits."
)

// ImageGenerator produces pixel-art images through the OpenAI-compatible images API.
type ImageGenerator struct {
	client *openai.Client
	model  string
	user   string
	logger *zap.Logger
}

// Config holds the image provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	User    string
	Logger  *zap.Logger
}

// NewImageGenerator creates an OpenAI-compatible image generator.
func NewImageGenerator(cfg *Config) *ImageGenerator {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}

	return &ImageGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		user:   cfg.User,
		logger: cfg.Logger,
	}
}

// PixelArtPrompt wraps the user's subject in the pixel-art style instructions.
func PixelArtPrompt(subject string) string {
	return fmt.Sprintf(`Generate a pixel art image. The subject is: "%s". Style: 8-bit retro game, detailed pixel illustration.`, subject)
}

// SizeFor maps an aspect ratio to the closest size the API accepts.
func SizeFor(r generation.AspectRatio) string {
	switch {
	case r.Landscape():
		return openai.CreateImageSize1792x1024
	case r.Portrait():
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}

// Generate implements the generation service's Generator.
func (g *ImageGenerator) Generate(ctx context.Context, prompt string, ratio generation.AspectRatio) (generation.Image, error) {
	req := openai.ImageRequest{
		Prompt:         PixelArtPrompt(prompt),
		Model:          g.model,
		N:              1,
		Size:           SizeFor(ratio),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		User:           g.user,
	}

	start := time.Now()
	resp, err := g.client.CreateImage(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "error").Inc()
		g.logger.Error("Image generation request failed",
			zap.String("model", g.model),
			zap.String("aspect_ratio", string(ratio)),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return generation.Image{}, parseAPIError(err)
	}

	if len(resp.Data) == 0 {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "empty").Inc()
		return generation.Image{}, &domain.GenerationError{Message: msgNoImage}
	}
	b64 := resp.Data[0].B64JSON
	if b64 == "" {
		metrics.GenerationRequestsTotal.WithLabelValues(g.model, "empty").Inc()
		return generation.Image{}, &domain.GenerationError{Message: msgMissingData}
	}

	metrics.GenerationRequestsTotal.WithLabelValues(g.model, "success").Inc()
	metrics.GenerationRequestDuration.WithLabelValues(g.model).Observe(duration.Seconds())

	return generation.Image{
		DataURL: "data:image/png;base64," + b64,
		AltText: generation.AltTextFor(prompt, ratio),
	}, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (g *ImageGenerator) HealthCheck(ctx context.Context) error {
	if _, err := g.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError turns a provider failure into a *domain.GenerationError
// carrying a message fit for the user.
func parseAPIError(err error) error {
	status, detail := 0, err.Error()

	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		status, detail = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		if d := extractDetail(reqErr.Body); d != "" {
			detail = d
		} else if len(reqErr.Body) > 0 {
			detail = string(reqErr.Body)
		}
	}

	lower := strings.ToLower(detail)
	switch {
	case status == http.StatusUnauthorized || strings.Contains(lower, "api key"):
		return &domain.GenerationError{Message: msgInvalidAPIKey, Err: err}
	case status == http.StatusTooManyRequests || strings.Contains(lower, "quota"):
		return &domain.GenerationError{Message: msgAPIQuota, Err: err}
	default:
		return &domain.GenerationError{Message: "Failed to generate image: " + detail, Err: err}
	}
}

// extractDetail pulls the message out of a JSON error body. Handles both the
// OpenAI {"error":{"message"}} and the {"detail"} shapes.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return parsed.Detail
}
