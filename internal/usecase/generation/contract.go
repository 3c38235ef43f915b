package generation

import (
	"context"

	domgen "github.com/kailas-cloud/pixelquota/internal/domain/generation"
	"github.com/kailas-cloud/pixelquota/internal/domain/quota"
)

// Generator produces an image for a validated prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, ratio domgen.AspectRatio) (domgen.Image, error)
}

// Session is the quota gate of the signed-in user.
type Session interface {
	CheckQuota(ctx context.Context) error
	OnGenerationSuccess(ctx context.Context) error
	CurrentQuota() quota.Quota
}
