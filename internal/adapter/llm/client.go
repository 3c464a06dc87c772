package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// Client talks to an Ollama-compatible /api/chat endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	log        logr.Logger
}

// NewClient creates a new backend client. timeout bounds a single HTTP attempt.
func NewClient(baseURL, apiKey, model string, timeout time.Duration, log logr.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		log: log.WithName("llm"),
	}
}

type chatRequest struct {
	Model    string              `json:"model"`
	Messages []chatMessage       `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  chatOptions         `json:"options"`
	Tools    []domain.ToolSchema `json:"tools,omitempty"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
}

type chatToolCall struct {
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func toChatMessages(msgs []domain.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		cm := chatMessage{Role: string(m.Role), Content: m.Content, ToolName: m.ToolName}
		for _, tc := range m.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, chatToolCall{
				Function: chatToolFunction{Name: tc.ToolName, Arguments: tc.Arguments},
			})
		}
		out = append(out, cm)
	}
	return out
}

// Generate sends one chat request. A server error on a request that carried
// tool schemas is retried once without them, for models without tool support.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (domain.ModelReply, error) {
	payload := chatRequest{
		Model:    c.model,
		Messages: toChatMessages(req.Messages),
		Stream:   req.Stream,
		Options:  chatOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
		Tools:    req.Tools,
	}

	resp, err := c.post(ctx, &payload)
	if err != nil {
		return domain.ModelReply{}, err
	}

	if resp.StatusCode >= http.StatusInternalServerError && len(payload.Tools) > 0 {
		body := readErrorBody(resp)
		c.log.Info("backend rejected request with tools, retrying without tools", "status", resp.StatusCode, "tools", len(payload.Tools), "body", body)
		payload.Tools = nil
		resp, err = c.post(ctx, &payload)
		if err != nil {
			return domain.ModelReply{}, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return domain.ModelReply{}, &BackendError{StatusCode: resp.StatusCode, Body: readErrorBody(resp)}
	}

	if req.Stream {
		return readStream(resp.Body)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.ModelReply{}, fmt.Errorf("failed to read response: %w", err)
	}
	return Normalize(raw)
}

func (c *Client) post(ctx context.Context, payload *chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", ErrInvalidRequest, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrInvalidRequest, err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return strings.TrimSpace(string(b))
}

// readStream concatenates the content of newline-delimited JSON chunks.
// Tool calls may arrive in any chunk and are collected in order.
func readStream(r io.Reader) (domain.ModelReply, error) {
	var text strings.Builder
	var calls []domain.ToolCallRequest
	chunks := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			continue
		}
		chunks++
		if msg, ok := obj["message"].(map[string]any); ok {
			if s, ok := msg["content"].(string); ok {
				text.WriteString(s)
			}
			more, err := parseToolCalls(msg["tool_calls"], len(calls))
			if err != nil {
				return domain.ModelReply{}, err
			}
			calls = append(calls, more...)
		} else if s, ok := obj["response"].(string); ok {
			text.WriteString(s)
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.ModelReply{}, fmt.Errorf("failed to read stream: %w", err)
	}
	if chunks == 0 {
		return domain.ModelReply{}, fmt.Errorf("%w: empty stream", domain.ErrNormalization)
	}
	return domain.ModelReply{Text: text.String(), ToolCalls: calls}, nil
}

// HealthCheck probes the backend base URL.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.V(1).Info("health check failed", "error", err.Error())
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
