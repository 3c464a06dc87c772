// Package service implements the message-processing pipeline: admission,
// context assembly, the model call, an optional tool round and persistence.
package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"

	"github.com/xiaot623/gogo/gateway/internal/adapter/llm"
	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/ratelimit"
	"github.com/xiaot623/gogo/gateway/internal/repository"
	"github.com/xiaot623/gogo/gateway/internal/session"
)

// Limiter is the admission control used by the pipeline.
type Limiter interface {
	CheckLimit(ctx context.Context, userID int64) (ratelimit.Decision, error)
	ConsumeToken(ctx context.Context, userID int64) error
}

// Model is the resilient model call.
type Model interface {
	Generate(ctx context.Context, req *llm.GenerateRequest) (domain.ModelReply, error)
}

// ToolRunner lists and executes tools.
type ToolRunner interface {
	ListSchemas() []domain.ToolSchema
	Execute(ctx context.Context, name string, args map[string]any) domain.ToolResult
}

// Replier delivers a reply to the chat it belongs to.
type Replier interface {
	SendReply(ctx context.Context, reply domain.Reply) error
}

// Options tunes the pipeline.
type Options struct {
	Temperature       float64
	MaxTokens         int
	MaxContextTokens  int
	ToolTimeout       time.Duration
	RateLimitFailOpen bool
}

// Service is the orchestrator. It holds no per-message state.
type Service struct {
	limiter  Limiter
	sessions *session.Manager
	store    store.Store
	model    Model
	tools    ToolRunner
	replier  Replier
	opts     Options
	prompt   atomic.Pointer[string]
	log      logr.Logger
}

// New creates the orchestrator. tools may be nil when no plugin is enabled.
func New(limiter Limiter, sessions *session.Manager, st store.Store, model Model, tools ToolRunner, opts Options, log logr.Logger) *Service {
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 15 * time.Second
	}
	return &Service{
		limiter:  limiter,
		sessions: sessions,
		store:    st,
		model:    model,
		tools:    tools,
		opts:     opts,
		log:      log.WithName("service"),
	}
}

// SetReplier sets the delivery target for HandleIncomingMessage. It must be
// called before messages are handled.
func (s *Service) SetReplier(r Replier) {
	s.replier = r
}

// SystemPrompt returns the prompt sent with every request.
func (s *Service) SystemPrompt(hasTools bool) string {
	base := defaultPersona
	if p := s.prompt.Load(); p != nil {
		base = *p
	}
	if hasTools {
		return base + "\n\n" + toolsParagraph
	}
	return base
}

// CustomSystemPrompt returns the admin override, or "" when none is set.
func (s *Service) CustomSystemPrompt() string {
	if p := s.prompt.Load(); p != nil {
		return *p
	}
	return ""
}

// SetSystemPrompt replaces the persona part of the system prompt.
func (s *Service) SetSystemPrompt(prompt string) {
	s.prompt.Store(&prompt)
}

// LoadSystemPrompt restores the active admin prompt from the store.
func (s *Service) LoadSystemPrompt(ctx context.Context) error {
	sp, err := s.store.GetActiveSystemPrompt(ctx)
	if err != nil {
		return fmt.Errorf("failed to load system prompt: %w", err)
	}
	if sp != nil {
		s.SetSystemPrompt(sp.Prompt)
		s.log.Info("loaded system prompt", "prompt_id", sp.ID, "set_by", sp.SetBy)
	}
	return nil
}

func (s *Service) schemas() []domain.ToolSchema {
	if s.tools == nil {
		return nil
	}
	return s.tools.ListSchemas()
}
