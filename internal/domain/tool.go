package domain

import (
	"encoding/json"
	"time"
)

// ToolSchema describes a tool in the function-calling format understood by the model backend.
type ToolSchema struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the callable part of a ToolSchema.
type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCallRequest is a model-issued request to run a tool.
type ToolCallRequest struct {
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of one tool execution. ResultText is always a string.
type ToolResult struct {
	CallID     string        `json:"call_id,omitempty"`
	ToolName   string        `json:"tool_name"`
	ResultText string        `json:"result_text"`
	Status     ToolStatus    `json:"status"`
	Duration   time.Duration `json:"duration_ns"`
}

// Succeeded reports whether the execution produced a usable result.
func (r ToolResult) Succeeded() bool {
	return r.Status == ToolStatusSucceeded
}

// ToolExecution is the audit record of a tool call.
type ToolExecution struct {
	ExecutionID string          `json:"execution_id"`
	SessionID   int64           `json:"session_id"`
	ToolName    string          `json:"tool_name"`
	Status      ToolStatus      `json:"status"`
	Args        json.RawMessage `json:"args,omitempty"`
	Result      string          `json:"result,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	CreatedAt   time.Time       `json:"created_at"`
}

// PluginInfo describes a registered tool plugin.
type PluginInfo struct {
	Name    string   `json:"name"`
	Enabled bool     `json:"enabled"`
	Tools   []string `json:"tools"`
}
