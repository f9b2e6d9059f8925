package models

import "errors"

// Error taxonomy shared by every layer. Wrap with fmt.Errorf("...: %w", Err*)
// and test with errors.Is; the API layer maps each kind to a status code.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrNotReady          = errors.New("not ready")
	ErrUpstreamTransient = errors.New("upstream transient failure")
	ErrUpstreamPermanent = errors.New("upstream permanent failure")
	ErrInternal          = errors.New("internal error")
)
