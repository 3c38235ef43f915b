package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest signals malformed input (prompt, aspect ratio, body).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrStoreInit signals that the embedded usage store could not be initialized.
	ErrStoreInit = errors.New("usage store init failed")
	// ErrPersist signals that a snapshot of the usage store could not be saved.
	ErrPersist = errors.New("usage store persist failed")
	// ErrQuotaExhausted signals that the daily generation quota is spent.
	ErrQuotaExhausted = errors.New("daily quota exhausted")

	// ErrNotSignedIn signals an operation that needs a signed-in user.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrMissingEmail signals an identity without an email, which cannot be quota-tracked.
	ErrMissingEmail = errors.New("identity has no email")
	// ErrInvalidToken signals a rejected identity token.
	ErrInvalidToken = errors.New("invalid identity token")

	// ErrGeneration signals an image generation provider failure.
	ErrGeneration = errors.New("image generation failed")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)

// StoreInitError wraps ErrStoreInit with the underlying cause.
type StoreInitError struct {
	Err error
}

func (e *StoreInitError) Error() string {
	return fmt.Sprintf("%s: %v", ErrStoreInit.Error(), e.Err)
}

func (e *StoreInitError) Unwrap() []error { return []error{ErrStoreInit, e.Err} }

// PersistError wraps ErrPersist with the underlying cause.
// The in-memory store stays authoritative when this is returned.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %v", ErrPersist.Error(), e.Err)
}

func (e *PersistError) Unwrap() []error { return []error{ErrPersist, e.Err} }

// QuotaExhaustedError wraps ErrQuotaExhausted with the limit and the next reset instant.
type QuotaExhaustedError struct {
	Limit    int
	ResetsAt time.Time
}

func (e *QuotaExhaustedError) Error() string {
	return fmt.Sprintf("%s: limit of %d images reached, resets at %s",
		ErrQuotaExhausted.Error(), e.Limit, e.ResetsAt.Format(time.RFC3339))
}

func (e *QuotaExhaustedError) Unwrap() error { return ErrQuotaExhausted }

// NewQuotaExhausted creates a quota exhausted error.
func NewQuotaExhausted(limit int, resetsAt time.Time) error {
	return &QuotaExhaustedError{Limit: limit, ResetsAt: resetsAt}
}

// GenerationError carries a user-facing message for a failed generation.
type GenerationError struct {
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *GenerationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrGeneration}
	}
	return []error{ErrGeneration, e.Err}
}
