package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across subsystems.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("duplicate")
	ErrAllMethodsExhausted = errors.New("all extraction methods exhausted")
	ErrTemplateGeneration  = errors.New("template generation failed")
	ErrTemplateValidation  = errors.New("template validation failed")
	ErrNotArticlePage      = errors.New("url is not an article page")
	ErrLLMDisabled         = errors.New("llm disabled")
)

// FetchErrorKind classifies a fetch failure.
type FetchErrorKind string

// Fetch failure classes.
const (
	FetchTransient      FetchErrorKind = "transient"
	FetchBlocked        FetchErrorKind = "blocked"
	FetchCertExpired    FetchErrorKind = "cert_expired"
	FetchHeaderOverflow FetchErrorKind = "header_overflow"
	FetchPermanent      FetchErrorKind = "permanent"
)

// FetchError reports a classified fetch failure.
type FetchError struct {
	URL        string
	Kind       FetchErrorKind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d): %v", e.URL, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	return e.Kind == FetchTransient
}

// Fatal reports whether the target is known to refuse us (blocked, broken cert, oversized headers).
func (e *FetchError) Fatal() bool {
	switch e.Kind {
	case FetchBlocked, FetchCertExpired, FetchHeaderOverflow:
		return true
	default:
		return false
	}
}

// AsFetchError extracts a *FetchError from err.
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
