// Package tools holds the tool registry that dispatches model-issued tool
// calls to plugin-provided implementations.
package tools

import (
	"context"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// Tool is a single callable capability.
type Tool interface {
	Schema() domain.ToolSchema
	// Execute runs the tool. The result is sent to the model as text;
	// non-string values are JSON-encoded.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Plugin contributes a group of tools.
type Plugin interface {
	Name() string
	Tools() []Tool
}

// Initializer is implemented by plugins that need setup before their tools are listed.
type Initializer interface {
	Init(ctx context.Context) error
}

// Closer is implemented by plugins holding resources.
type Closer interface {
	Close() error
}

// Policy decides whether a tool call may run.
type Policy interface {
	Evaluate(ctx context.Context, input interface{}) (decision string, reason string, err error)
}

// ExecutorFunc is the body of a FuncTool.
type ExecutorFunc func(ctx context.Context, args map[string]any) (any, error)

// FuncTool adapts a function to the Tool interface.
type FuncTool struct {
	schema domain.ToolSchema
	exec   ExecutorFunc
}

// NewTool builds a function tool. params is a JSON-schema object.
func NewTool(name, description string, params map[string]any, exec ExecutorFunc) *FuncTool {
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FuncTool{
		schema: domain.ToolSchema{
			Type: "function",
			Function: domain.ToolFunction{
				Name:        name,
				Description: description,
				Parameters:  params,
			},
		},
		exec: exec,
	}
}

func (t *FuncTool) Schema() domain.ToolSchema { return t.schema }

func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.exec(ctx, args)
}
