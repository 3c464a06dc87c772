package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/gateway/internal/adapter/llm"
	"github.com/xiaot623/gogo/gateway/internal/domain"
)

const summaryPreviewRunes = 100

// toolRound executes the requested calls and asks the model once more to
// answer from their results. Exactly one synthesis call is made, without
// tools, and none at all when every call failed.
func (s *Service) toolRound(ctx context.Context, log logr.Logger, sessionID, chatID int64, messages []domain.Message, calls []domain.ToolCallRequest) (domain.Reply, error) {
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.ToolName)
	}
	reply := domain.Reply{ChatID: chatID, Kind: domain.ReplyKindToolRound, ToolCalled: true, ToolNames: names}

	if _, err := s.sessions.AppendTurn(ctx, sessionID, domain.RoleAssistant, "", nil, map[string]any{"tool_calls": calls}); err != nil {
		return domain.Reply{}, err
	}

	results := s.executeTools(ctx, log, sessionID, calls)

	anySucceeded := false
	for _, r := range results {
		meta := map[string]any{"tool_name": r.ToolName, "call_id": r.CallID, "status": r.Status}
		if _, err := s.sessions.AppendTurn(ctx, sessionID, domain.RoleTool, r.ResultText, nil, meta); err != nil {
			return domain.Reply{}, err
		}
		if r.Succeeded() {
			anySucceeded = true
		}
	}

	if !anySucceeded {
		log.Info("all tool calls failed, skipping synthesis", "calls", len(calls))
		reply.Kind = domain.ReplyKindToolsFailed
		reply.Text = MsgToolsFailed
		return reply, nil
	}

	synth := make([]domain.Message, 0, len(messages)+len(results)+2)
	synth = append(synth, messages...)
	synth = append(synth, domain.Message{Role: domain.RoleAssistant, ToolCalls: calls})
	for _, r := range results {
		synth = append(synth, domain.Message{Role: domain.RoleTool, Content: r.ResultText, ToolName: r.ToolName})
	}
	synth = append(synth, domain.Message{Role: domain.RoleUser, Content: SynthesisInstruction})

	log.V(1).Info("requesting synthesis", "results", len(results))
	final, err := s.model.Generate(ctx, &llm.GenerateRequest{
		Messages:    synth,
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("synthesis call failed: %w", err)
	}

	if final.HasToolCalls() {
		log.Info("model returned tool calls during synthesis, summarizing results", "calls", len(final.ToolCalls))
		reply.Text = summarize(results)
		return reply, nil
	}
	reply.Text = final.Text
	return reply, nil
}

// executeTools runs all calls concurrently. Results keep the order of calls.
func (s *Service) executeTools(ctx context.Context, log logr.Logger, sessionID int64, calls []domain.ToolCallRequest) []domain.ToolResult {
	results := make([]domain.ToolResult, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			res := s.executeTool(ctx, call)
			res.CallID = call.ID
			results[i] = res
			log.Info("tool executed", "tool", call.ToolName, "call_id", call.ID, "status", res.Status, "duration", res.Duration.String())
			s.audit(ctx, log, sessionID, call, res)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// executeTool bounds one execution by the tool timeout, even when the tool
// ignores its context.
func (s *Service) executeTool(ctx context.Context, call domain.ToolCallRequest) domain.ToolResult {
	if s.tools == nil {
		return domain.ToolResult{
			ToolName:   call.ToolName,
			Status:     domain.ToolStatusNotFound,
			ResultText: fmt.Sprintf("Error: %s: %s", domain.ErrToolNotFound, call.ToolName),
		}
	}

	tctx, cancel := context.WithTimeout(ctx, s.opts.ToolTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan domain.ToolResult, 1)
	go func() {
		done <- s.tools.Execute(tctx, call.ToolName, call.Arguments)
	}()

	select {
	case res := <-done:
		return res
	case <-tctx.Done():
		return domain.ToolResult{
			ToolName:   call.ToolName,
			Status:     domain.ToolStatusFailed,
			ResultText: fmt.Sprintf("Error: tool %s did not finish within %s", call.ToolName, s.opts.ToolTimeout),
			Duration:   time.Since(start),
		}
	}
}

func (s *Service) audit(ctx context.Context, log logr.Logger, sessionID int64, call domain.ToolCallRequest, res domain.ToolResult) {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = nil
	}
	exec := &domain.ToolExecution{
		ExecutionID: uuid.NewString(),
		SessionID:   sessionID,
		ToolName:    call.ToolName,
		Status:      res.Status,
		Args:        args,
		Result:      res.ResultText,
		DurationMs:  res.Duration.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateToolExecution(ctx, exec); err != nil {
		log.Error(err, "failed to record tool execution", "tool", call.ToolName)
	}
}

func summarize(results []domain.ToolResult) string {
	lines := make([]string, 0, len(results))
	for _, r := range results {
		text := r.ResultText
		if utf8.RuneCountInString(text) > summaryPreviewRunes {
			text = string([]rune(text)[:summaryPreviewRunes])
		}
		lines = append(lines, fmt.Sprintf("- %s: %s...", r.ToolName, text))
	}
	return fmt.Sprintf(MsgSynthesisFailed, strings.Join(lines, "\n"))
}
