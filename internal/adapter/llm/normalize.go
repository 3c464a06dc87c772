package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// Normalize converts a raw backend reply into a ModelReply. Accepted shapes:
//
//	hello                                   plain text
//	"hello"                                 JSON string
//	{"content": "..."}                      bare message
//	{"message": {"content": "...", "tool_calls": [...]}}
//	{"response": "..."}                     generate endpoint
//	{"choices": [{"message": {...}}]}       OpenAI-compatible
//
// Text that itself holds an encoded message object is unwrapped once.
func Normalize(raw []byte) (domain.ModelReply, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return domain.ModelReply{}, fmt.Errorf("%w: empty body", domain.ErrNormalization)
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return domain.ModelReply{}, fmt.Errorf("%w: %v", domain.ErrNormalization, err)
		}
		return domain.ModelReply{Text: unwrapText(s)}, nil
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			// Not JSON after all, keep it as text.
			return domain.ModelReply{Text: string(trimmed)}, nil
		}
		return normalizeObject(obj)
	case '[':
		if json.Valid(trimmed) {
			return domain.ModelReply{}, fmt.Errorf("%w: top-level array", domain.ErrNormalization)
		}
	}
	return domain.ModelReply{Text: string(raw)}, nil
}

func normalizeObject(obj map[string]any) (domain.ModelReply, error) {
	if choices, ok := obj["choices"].([]any); ok && len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				return normalizeMessage(msg)
			}
		}
	}
	if msg, ok := obj["message"].(map[string]any); ok {
		return normalizeMessage(msg)
	}
	if _, ok := obj["content"]; ok {
		return normalizeMessage(obj)
	}
	if _, ok := obj["tool_calls"]; ok {
		return normalizeMessage(obj)
	}
	if resp, ok := obj["response"].(string); ok {
		return domain.ModelReply{Text: unwrapText(resp)}, nil
	}
	return domain.ModelReply{}, fmt.Errorf("%w: no content, message or response field", domain.ErrNormalization)
}

func normalizeMessage(msg map[string]any) (domain.ModelReply, error) {
	var reply domain.ModelReply
	switch c := msg["content"].(type) {
	case string:
		reply.Text = c
	case nil:
	default:
		return reply, fmt.Errorf("%w: content of type %T", domain.ErrNormalization, c)
	}

	calls, err := parseToolCalls(msg["tool_calls"], 0)
	if err != nil {
		return domain.ModelReply{}, err
	}
	reply.ToolCalls = calls
	if len(calls) == 0 {
		reply.Text = unwrapText(reply.Text)
	}
	return reply, nil
}

// parseToolCalls decodes a tool_calls list. offset is added to the ordinal
// used for synthesized ids, for replies split across stream chunks.
func parseToolCalls(v any, offset int) ([]domain.ToolCallRequest, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: tool_calls of type %T", domain.ErrNormalization, v)
	}

	calls := make([]domain.ToolCallRequest, 0, len(items))
	for idx, item := range items {
		tc, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: tool call %d of type %T", domain.ErrNormalization, idx, item)
		}
		fn, ok := tc["function"].(map[string]any)
		if !ok {
			fn = tc
		}
		name, _ := fn["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call %d has no name", domain.ErrNormalization, idx)
		}
		args, err := parseArguments(fn["arguments"])
		if err != nil {
			return nil, fmt.Errorf("%w: tool call %s: %v", domain.ErrNormalization, name, err)
		}
		id, _ := tc["id"].(string)
		if id == "" {
			id = fmt.Sprintf("call_%s_%d", name, offset+idx)
		}
		calls = append(calls, domain.ToolCallRequest{ID: id, ToolName: name, Arguments: args})
	}
	return calls, nil
}

func parseArguments(v any) (map[string]any, error) {
	switch a := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return a, nil
	case string:
		if strings.TrimSpace(a) == "" {
			return map[string]any{}, nil
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(a), &args); err != nil {
			return nil, fmt.Errorf("arguments are not a JSON object: %w", err)
		}
		if args == nil {
			args = map[string]any{}
		}
		return args, nil
	default:
		return nil, fmt.Errorf("arguments of type %T", v)
	}
}

// unwrapText extracts the content of a message object that was serialized into text.
// Anything else is returned unchanged.
func unwrapText(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return s
	}
	if c, ok := obj["content"].(string); ok {
		return c
	}
	if msg, ok := obj["message"].(map[string]any); ok {
		if c, ok := msg["content"].(string); ok {
			return c
		}
	}
	return s
}
