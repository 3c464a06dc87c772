package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolExists       = errors.New("tool already registered")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrTimeout          = errors.New("model request timed out")
	ErrNormalization    = errors.New("unrecognized model reply")
	ErrPersistence      = errors.New("persistence failure")
	ErrRateLimitStore   = errors.New("rate limit store unavailable")
	ErrForbidden        = errors.New("admin privileges required")
)
