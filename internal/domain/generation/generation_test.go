package generation

import (
	"errors"
	"strings"
	"testing"

	"github.com/kailas-cloud/pixelquota/internal/domain"
)

func TestParseAspectRatio(t *testing.T) {
	for _, r := range Ratios() {
		got, err := ParseAspectRatio(string(r))
		if err != nil || got != r {
			t.Errorf("ParseAspectRatio(%q) = %q, %v", r, got, err)
		}
	}

	got, err := ParseAspectRatio("")
	if err != nil || got != DefaultRatio {
		t.Errorf("empty ratio = %q, %v", got, err)
	}

	for _, bad := range []string{"2:1", "1x1", "16/9", "square"} {
		if _, err := ParseAspectRatio(bad); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("ParseAspectRatio(%q) error = %v, want ErrInvalidRequest", bad, err)
		}
	}
}

func TestAspectRatio_Orientation(t *testing.T) {
	if !Ratio16x9.Landscape() || Ratio16x9.Portrait() {
		t.Error("16:9 should be landscape")
	}
	if !Ratio3x4.Portrait() || Ratio3x4.Landscape() {
		t.Error("3:4 should be portrait")
	}
	if Ratio1x1.Landscape() || Ratio1x1.Portrait() {
		t.Error("1:1 is neither")
	}
}

func TestValidatePrompt(t *testing.T) {
	got, err := ValidatePrompt("  a castle  ")
	if err != nil || got != "a castle" {
		t.Errorf("ValidatePrompt = %q, %v", got, err)
	}

	if _, err := ValidatePrompt("   "); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("blank prompt error = %v", err)
	}
	if _, err := ValidatePrompt(strings.Repeat("a", MaxPromptLength+1)); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("long prompt error = %v", err)
	}
	if _, err := ValidatePrompt(strings.Repeat("ä", MaxPromptLength)); err != nil {
		t.Errorf("prompt at limit rejected: %v", err)
	}
}
