// Package apperr defines the error taxonomy shared by the ingestion and chat
// pipelines. Handlers map these to HTTP statuses; everything else wraps them
// with %w and checks with errors.Is.
package apperr

import "errors"

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrUpstream      = errors.New("upstream service failure")

	// ErrStreamInterrupted marks a chat stream cut short by the caller or the
	// transport. The accumulated partial answer is persisted before this is
	// returned.
	ErrStreamInterrupted = errors.New("stream interrupted")
)
