// Package llm provides the model backend client and the resilience layer around it.
package llm

import (
	"context"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// GenerateRequest is one model call.
type GenerateRequest struct {
	Messages    []domain.Message
	Temperature float64
	MaxTokens   int
	Tools       []domain.ToolSchema
	Stream      bool
}

// Generator performs a single call against the model backend.
type Generator interface {
	// Generate sends the request and returns the normalized reply.
	Generate(ctx context.Context, req *GenerateRequest) (domain.ModelReply, error)

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) bool
}

// Ensure Client implements Generator interface.
var _ Generator = (*Client)(nil)
