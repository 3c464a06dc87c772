// Package domain defines the core domain models for the gateway.
package domain

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool, RoleSystem:
		return true
	}
	return false
}

// ToolStatus tags the outcome of a tool execution.
type ToolStatus string

const (
	ToolStatusSucceeded ToolStatus = "succeeded"
	ToolStatusNotFound  ToolStatus = "not_found"
	ToolStatusFailed    ToolStatus = "failed"
	ToolStatusBlocked   ToolStatus = "blocked"
)

// ReplyKind describes how the pipeline produced a reply.
type ReplyKind string

const (
	ReplyKindDirect      ReplyKind = "direct"
	ReplyKindToolRound   ReplyKind = "tool_round"
	ReplyKindToolsFailed ReplyKind = "tools_failed"
	ReplyKindThrottled   ReplyKind = "throttled"
	ReplyKindFailure     ReplyKind = "failure"
)
