package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/pixelquota/internal/domain"
)

// Codes only seen on errors attached to the session value.
const (
	CodeStoreUnavailable = "store_unavailable"
	CodePersistFailed    = "persist_failed"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// sentinels lists the errors whose message is safe to show, in match order.
var sentinels = []struct {
	err  error
	code string
}{
	{domain.ErrQuotaExhausted, CodeQuotaExhausted},
	{domain.ErrNotSignedIn, CodeNotSignedIn},
	{domain.ErrMissingEmail, CodeMissingEmail},
	{domain.ErrInvalidToken, CodeInvalidToken},
	{domain.ErrInvalidRequest, CodeInvalidRequest},
	{domain.ErrGeneration, CodeGenerationFailed},
	{domain.ErrRateLimited, CodeRateLimited},
	{domain.ErrStoreInit, CodeStoreUnavailable},
	{domain.ErrPersist, CodePersistFailed},
}

// classify returns the error code and a client-safe message.
func classify(err error) (code, msg string) {
	var ge *domain.GenerationError
	if errors.As(err, &ge) {
		return CodeGenerationFailed, ge.Message
	}
	var qe *domain.QuotaExhaustedError
	if errors.As(err, &qe) {
		return CodeQuotaExhausted, exhaustedMessage(qe, time.Now())
	}
	if errors.Is(err, domain.ErrInvalidRequest) {
		return CodeInvalidRequest, err.Error()
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.code, s.err.Error()
		}
	}
	return CodeInternalError, "internal error"
}

// exhaustedMessage tells the user the limit and when it resets.
func exhaustedMessage(qe *domain.QuotaExhaustedError, now time.Time) string {
	msg := fmt.Sprintf("You have reached your daily image generation limit (%d images). Please try again tomorrow.", qe.Limit)
	if !qe.ResetsAt.IsZero() && qe.ResetsAt.After(now) {
		msg += fmt.Sprintf(" Quota resets in %s.", qe.ResetsAt.Sub(now).Truncate(time.Minute))
	}
	return msg
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		code, _ := classify(err)
		writeError(w, status, code, msg)
		return true
	}
}

// quotaExhaustedHandler adds resets_at and Retry-After to the 429 body.
func quotaExhaustedHandler(w http.ResponseWriter, err error, msg string) bool {
	var qe *domain.QuotaExhaustedError
	if !errors.As(err, &qe) {
		return false
	}
	resp := ErrorResponse{Code: CodeQuotaExhausted, Message: msg}
	if !qe.ResetsAt.IsZero() {
		resetsAt := qe.ResetsAt
		resp.ResetsAt = &resetsAt
		if secs := int(time.Until(resetsAt).Seconds()); secs > 0 {
			w.Header().Set("Retry-After", fmt.Sprint(secs))
		}
	}
	writeJSON(w, http.StatusTooManyRequests, resp)
	return true
}

func defaultErrorHandlers() []errorHandler {
	return []errorHandler{
		quotaExhaustedHandler,
		sentinelHandler(domain.ErrQuotaExhausted, http.StatusTooManyRequests),
		sentinelHandler(domain.ErrNotSignedIn, http.StatusUnauthorized),
		sentinelHandler(domain.ErrMissingEmail, http.StatusForbidden),
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest),
		sentinelHandler(domain.ErrInvalidToken, http.StatusUnauthorized),
		sentinelHandler(domain.ErrGeneration, http.StatusBadGateway),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests),
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	_, msg := classify(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
