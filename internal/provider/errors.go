package provider

import (
	"errors"
	"fmt"
	"strings"
)

type AbortedError struct {
	Reason string
	Err    error
}

func (e *AbortedError) Error() string {
	reason := strings.TrimSpace(e.Reason)
	if reason == "" {
		reason = "aborted"
	}
	if e.Err == nil {
		return reason
	}
	return fmt.Sprintf("%s: %v", reason, e.Err)
}

func (e *AbortedError) Unwrap() error {
	return e.Err
}

func NewAbortedError(reason string, err error) error {
	return &AbortedError{Reason: strings.TrimSpace(reason), Err: err}
}

func IsAbortedError(err error) bool {
	var target *AbortedError
	return errors.As(err, &target)
}

// ProviderError is a non-2xx reply from the provider endpoint.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider_http_error"
	}
	name := strings.TrimSpace(e.Provider)
	if name == "" {
		name = "provider"
	}
	return fmt.Sprintf("%s_http_%d: %s", name, e.StatusCode, e.Message)
}

func IsProviderError(err error) bool {
	var target *ProviderError
	return errors.As(err, &target)
}

// ErrMalformedResponse marks a reply body that could not be decoded.
var ErrMalformedResponse = errors.New("provider_malformed_response")
