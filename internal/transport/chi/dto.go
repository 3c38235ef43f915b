package chi

import (
	"time"

	"github.com/kailas-cloud/pixelquota/internal/domain/quota"
	"github.com/kailas-cloud/pixelquota/internal/usecase/session"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadRequest       = "bad_request"
	CodeUnauthorized     = "unauthorized"
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidToken     = "invalid_token"
	CodeNotSignedIn      = "not_signed_in"
	CodeMissingEmail     = "missing_email"
	CodeQuotaExhausted   = "quota_exhausted"
	CodeRateLimited      = "rate_limited"
	CodeGenerationFailed = "generation_failed"
	CodeInternalError    = "internal_error"
)

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Code     string     `json:"code"`
	Message  string     `json:"message"`
	ResetsAt *time.Time `json:"resets_at,omitempty"`
}

// SignInRequest is the body of POST /v1/auth/sign-in.
type SignInRequest struct {
	IDToken string `json:"id_token"`
}

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

// GenerateResponse is the body returned by POST /v1/generate.
type GenerateResponse struct {
	ImageDataURL string `json:"image_data_url"`
	AltText      string `json:"alt_text"`
	Quota        any    `json:"quota"`
	Warning      string `json:"warning,omitempty"`
}

// QuotaResponse is the body of GET /v1/quota.
type QuotaResponse struct {
	Quota     any       `json:"quota"`
	Limit     int       `json:"limit"`
	Untracked bool      `json:"untracked,omitempty"`
	ResetsAt  time.Time `json:"resets_at"`
}

// UserResponse is the signed-in user inside SessionResponse.
type UserResponse struct {
	UID       string `json:"uid"`
	Email     string `json:"email,omitempty"`
	SessionID string `json:"session_id"`
	Quota     any    `json:"quota"`
	Limit     int    `json:"limit"`
	Untracked bool   `json:"untracked,omitempty"`
}

// SessionResponse is the reactive session value as JSON.
type SessionResponse struct {
	State               string         `json:"state"`
	User                *UserResponse  `json:"user"`
	Degraded            bool           `json:"degraded"`
	DurabilityUncertain bool           `json:"durability_uncertain"`
	Warning             string         `json:"warning,omitempty"`
	Error               *ErrorResponse `json:"error,omitempty"`
	Version             uint64         `json:"version"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// quotaValue renders a quota as a number or "unlimited".
func quotaValue(q quota.Quota) any {
	if q.IsUnlimited() {
		return q.String()
	}
	return q.Remaining()
}

func sessionToResponse(s session.Snapshot) SessionResponse {
	resp := SessionResponse{
		State:               string(s.State),
		Degraded:            s.Degraded,
		DurabilityUncertain: s.DurabilityUncertain,
		Warning:             s.Warning,
		Version:             s.Version,
		UpdatedAt:           s.UpdatedAt,
	}
	if s.User != nil {
		resp.User = &UserResponse{
			UID:       s.User.UID,
			Email:     s.User.Email,
			SessionID: s.User.SessionID,
			Quota:     quotaValue(s.User.Quota),
			Limit:     s.User.Quota.Limit(),
			Untracked: s.User.Quota.IsUntracked(),
		}
	}
	if s.Err != nil {
		code, msg := classify(s.Err)
		resp.Error = &ErrorResponse{Code: code, Message: msg}
	}
	return resp
}
