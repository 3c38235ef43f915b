package generation

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/pixelquota/internal/domain"
)

// AspectRatio is the requested image shape.
type AspectRatio string

const (
	Ratio1x1  AspectRatio = "1:1"
	Ratio16x9 AspectRatio = "16:9"
	Ratio4x3  AspectRatio = "4:3"
	Ratio9x16 AspectRatio = "9:16"
	Ratio3x4  AspectRatio = "3:4"
)

// DefaultRatio is used when the request leaves the ratio empty.
const DefaultRatio = Ratio1x1

// MaxPromptLength bounds the user prompt in runes.
const MaxPromptLength = 1000

var ratios = []AspectRatio{Ratio1x1, Ratio16x9, Ratio4x3, Ratio9x16, Ratio3x4}

// Ratios returns all supported ratios.
func Ratios() []AspectRatio {
	out := make([]AspectRatio, len(ratios))
	copy(out, ratios)
	return out
}

// ParseAspectRatio validates s. Empty means DefaultRatio.
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRatio, nil
	}
	for _, r := range ratios {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unsupported aspect ratio %q: %w", s, domain.ErrInvalidRequest)
}

// Landscape reports whether the image is wider than tall.
func (r AspectRatio) Landscape() bool { return r == Ratio16x9 || r == Ratio4x3 }

// Portrait reports whether the image is taller than wide.
func (r AspectRatio) Portrait() bool { return r == Ratio9x16 || r == Ratio3x4 }

// ValidatePrompt trims the prompt and checks it is non-blank and bounded.
func ValidatePrompt(prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("prompt is empty: %w", domain.ErrInvalidRequest)
	}
	if n := len([]rune(prompt)); n > MaxPromptLength {
		return "", fmt.Errorf("prompt is %d characters, max %d: %w", n, MaxPromptLength, domain.ErrInvalidRequest)
	}
	return prompt, nil
}

// Image is a generated picture ready for display.
type Image struct {
	DataURL string
	AltText string
}

// AltTextFor describes the image generated for prompt.
func AltTextFor(prompt string, ratio AspectRatio) string {
	return fmt.Sprintf("Pixel art for: %s (intended aspect ratio: %s)", prompt, ratio)
}
