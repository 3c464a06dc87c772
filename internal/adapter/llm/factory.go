package llm

import (
	"os"
	"time"

	"github.com/go-logr/logr"
)

const (
	// EnvGatewayMode is the environment variable name for mode selection.
	EnvGatewayMode = "GATEWAY_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewGenerator creates a backend client based on the GATEWAY_MODE environment variable.
// If GATEWAY_MODE=MOCK, returns a MockClient; otherwise returns a real Client.
func NewGenerator(baseURL, apiKey, model string, timeout time.Duration, log logr.Logger) Generator {
	if os.Getenv(EnvGatewayMode) == ModeMock {
		log.Info("GATEWAY_MODE=MOCK detected, using mock model client")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, model, timeout, log)
}
