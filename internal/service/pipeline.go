package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-logr/logr"

	"github.com/xiaot623/gogo/gateway/internal/adapter/llm"
	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/pkg/logger"
)

var roleMarker = regexp.MustCompile(`(?i)^\s*\[assistant\]\s*`)

// HandleIncomingMessage processes one message and delivers the reply, if
// any, through the Replier. It never panics and returns nothing: every
// failure after admission becomes a reply.
func (s *Service) HandleIncomingMessage(ctx context.Context, in domain.IncomingMessage) {
	reply, ok := s.ProcessMessage(ctx, in)
	if !ok {
		return
	}
	if s.replier == nil {
		s.log.Info("no replier configured, dropping reply", "chat_id", in.ChatID)
		return
	}
	if err := s.replier.SendReply(ctx, reply); err != nil {
		s.log.Error(err, "failed to send reply", "chat_id", in.ChatID)
	}
}

// ProcessMessage runs the pipeline and returns the reply. The bool is false
// when the message is ignored and nothing should be sent.
func (s *Service) ProcessMessage(ctx context.Context, in domain.IncomingMessage) (reply domain.Reply, ok bool) {
	log := s.log.WithValues("request_id", in.RequestID, "chat_id", in.ChatID, "user_id", in.UserID)
	ctx = logger.WithContext(ctx, log)

	defer func() {
		if rec := recover(); rec != nil {
			log.Error(fmt.Errorf("panic: %v", rec), "message processing panicked")
			reply = failureReply(in.ChatID)
			ok = true
		}
	}()

	if in.IsGroup && !in.Addressed {
		return domain.Reply{}, false
	}
	text := roleMarker.ReplaceAllString(in.Text, "")

	if denied, ok := s.admit(ctx, log, in.UserID); !ok {
		denied.ChatID = in.ChatID
		return denied, true
	}

	reply, err := s.process(ctx, log, in, text)
	if err != nil {
		log.Error(err, "message processing failed")
		return failureReply(in.ChatID), true
	}
	log.Info("message processed", "kind", reply.Kind, "tool_called", reply.ToolCalled, "reply_length", len(reply.Text))
	return reply, true
}

// admit checks and then consumes the user's allowance. The returned reply is
// only meaningful when admission fails.
func (s *Service) admit(ctx context.Context, log logr.Logger, userID int64) (domain.Reply, bool) {
	decision, err := s.limiter.CheckLimit(ctx, userID)
	if err != nil {
		if s.opts.RateLimitFailOpen {
			log.Info("rate limit store unavailable, admitting", "error", err.Error())
			return domain.Reply{}, true
		}
		log.Error(err, "rate limit check failed")
		return domain.Reply{Text: MsgGenericFailure, Kind: domain.ReplyKindFailure}, false
	}
	if !decision.Allowed {
		log.V(1).Info("admission denied", "scope", decision.Scope, "retry_after", decision.RetryAfter)
		return domain.Reply{
			Text: fmt.Sprintf(MsgThrottled, decision.RetryAfter),
			Kind: domain.ReplyKindThrottled,
		}, false
	}
	if err := s.limiter.ConsumeToken(ctx, userID); err != nil {
		log.Error(err, "failed to consume rate limit token")
	}
	return domain.Reply{}, true
}

func (s *Service) process(ctx context.Context, log logr.Logger, in domain.IncomingMessage, text string) (domain.Reply, error) {
	sess, err := s.sessions.GetOrCreateSession(ctx, in.ChatID)
	if err != nil {
		return domain.Reply{}, err
	}

	// The user turn is stored before anything can fail downstream.
	chatType := "private"
	if in.IsGroup {
		chatType = "group"
	}
	if _, err := s.sessions.AppendTurn(ctx, sess.SessionID, domain.RoleUser, text, nil, map[string]any{"chat_type": chatType}); err != nil {
		return domain.Reply{}, err
	}

	window, err := s.sessions.GetContextWindow(ctx, sess.SessionID, s.opts.MaxContextTokens)
	if err != nil {
		return domain.Reply{}, err
	}
	if len(window) == 0 {
		window = []domain.Message{{Role: domain.RoleUser, Content: text}}
	}

	schemas := s.schemas()
	messages := make([]domain.Message, 0, len(window)+1)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: s.SystemPrompt(len(schemas) > 0)})
	messages = append(messages, window...)

	log.V(1).Info("calling model", "messages", len(messages), "tools", len(schemas))
	modelReply, err := s.model.Generate(ctx, &llm.GenerateRequest{
		Messages:    messages,
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
		Tools:       schemas,
	})
	if err != nil {
		return domain.Reply{}, fmt.Errorf("model call failed: %w", err)
	}

	reply := domain.Reply{ChatID: in.ChatID, Text: modelReply.Text, Kind: domain.ReplyKindDirect}
	if modelReply.HasToolCalls() {
		reply, err = s.toolRound(ctx, log, sess.SessionID, in.ChatID, messages, modelReply.ToolCalls)
		if err != nil {
			return domain.Reply{}, err
		}
	}

	if strings.TrimSpace(reply.Text) == "" {
		log.Info("model returned empty text, using fallback")
		reply.Text = MsgEmptyReply
	}

	meta := map[string]any{"tool_called": reply.ToolCalled}
	if len(reply.ToolNames) > 0 {
		meta["tools"] = reply.ToolNames
	}
	if _, err := s.sessions.AppendTurn(ctx, sess.SessionID, domain.RoleAssistant, reply.Text, nil, meta); err != nil {
		return domain.Reply{}, err
	}
	return reply, nil
}

func failureReply(chatID int64) domain.Reply {
	return domain.Reply{ChatID: chatID, Text: MsgGenericFailure, Kind: domain.ReplyKindFailure}
}
