package llm

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// MockClient is a Generator that echoes the last user message.
type MockClient struct{}

// NewMockClient creates a new mock client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements Generator interface.
var _ Generator = (*MockClient)(nil)

// Generate returns a canned reply derived from the request.
func (m *MockClient) Generate(ctx context.Context, req *GenerateRequest) (domain.ModelReply, error) {
	if err := ctx.Err(); err != nil {
		return domain.ModelReply{}, err
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		msg := req.Messages[i]
		if msg.Role == domain.RoleUser {
			return domain.ModelReply{Text: fmt.Sprintf("Mock response to: %s", msg.Content)}, nil
		}
	}
	return domain.ModelReply{Text: "Mock response"}, nil
}

// HealthCheck always succeeds.
func (m *MockClient) HealthCheck(ctx context.Context) bool {
	return true
}
