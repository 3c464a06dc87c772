package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/xiaot623/gogo/gateway/internal/domain"
	"github.com/xiaot623/gogo/gateway/internal/repository"
	"github.com/xiaot623/gogo/gateway/internal/session"
)

// Reply texts for chat commands.
const (
	MsgStart          = "Hi! I'm an AI assistant. I can help with all kinds of tasks and answer your questions.\n\nUse /help to see the available commands."
	MsgResetPrivate   = "Conversation history cleared!"
	MsgResetGroup     = "Shared chat history cleared!"
	MsgAdminOnly      = "This command is available to administrators only."
	MsgPromptRequest  = "Please send the new system prompt as your next message.\nUse /cancel to abort."
	MsgPromptUpdated  = "System prompt updated."
	MsgPromptCanceled = "System prompt update canceled."
	MsgPromptFailed   = "Failed to update the system prompt."
	MsgPromptEmpty    = "No system prompt is set."
	MsgNothingPending = "Nothing to cancel."
	MsgPromptBusy     = "Another administrator is already updating the system prompt in this chat.\nUse /cancel to abort their update."
	MsgUnknown        = "Unknown command. Use /help to see the available commands."
	MsgCommandFailed  = "The command failed, please try again later."
)

var (
	errRateLimitsDisabled = errors.New("rate limits are not configured")
	errPromptBusy         = errors.New("another prompt update is pending")
)

// PromptSink receives system prompt changes.
type PromptSink interface {
	SystemPrompt(hasTools bool) string
	SetSystemPrompt(prompt string)
}

// RateLimits exposes per-user admission counters.
type RateLimits interface {
	Usage(ctx context.Context, userID int64) (user, global int, err error)
	ResetUser(ctx context.Context, userID int64) error
}

// Commands handles chat commands and the admin prompt workflow.
type Commands struct {
	isAdmin  func(userID int64) bool
	pending  *PendingStore
	sessions *session.Manager
	store    store.Store
	sink     PromptSink
	limits   RateLimits
	log      logr.Logger
}

// NewCommands creates the command handler.
func NewCommands(isAdmin func(int64) bool, pending *PendingStore, sessions *session.Manager, st store.Store, sink PromptSink, log logr.Logger) *Commands {
	return &Commands{
		isAdmin:  isAdmin,
		pending:  pending,
		sessions: sessions,
		store:    st,
		sink:     sink,
		log:      log.WithName("admin"),
	}
}

// SetRateLimits enables the rate limit admin operations.
func (c *Commands) SetRateLimits(rl RateLimits) {
	c.limits = rl
}

// Handle answers a message if it is a command or completes a pending prompt
// update. handled is false for ordinary messages, which belong to the pipeline.
func (c *Commands) Handle(ctx context.Context, in domain.IncomingMessage) (reply string, handled bool) {
	text := strings.TrimSpace(in.Text)
	cmd := commandName(text)

	// Commands other than /cancel never complete a pending update.
	if cmd == "" || cmd == "/cancel" {
		if reply, ok := c.Intercept(ctx, in.ChatID, in.UserID, text); ok {
			return reply, true
		}
	}
	if cmd == "" {
		return "", false
	}

	switch cmd {
	case "/start":
		return MsgStart, true
	case "/help":
		return c.Help(in.UserID), true
	case "/reset":
		if err := c.Reset(ctx, in.ChatID); err != nil {
			c.log.Error(err, "reset failed", "chat_id", in.ChatID)
			return MsgCommandFailed, true
		}
		if in.IsGroup {
			return MsgResetGroup, true
		}
		return MsgResetPrivate, true
	case "/get_system_prompt":
		prompt, err := c.GetSystemPrompt(ctx, in.UserID)
		if errors.Is(err, domain.ErrForbidden) {
			return MsgAdminOnly, true
		}
		if prompt == "" {
			prompt = MsgPromptEmpty
		}
		return "Current system prompt:\n\n```\n" + prompt + "\n```", true
	case "/set_system_prompt":
		if err := c.BeginPromptUpdate(ctx, in.ChatID, in.UserID); err != nil {
			if errors.Is(err, domain.ErrForbidden) {
				return MsgAdminOnly, true
			}
			if errors.Is(err, errPromptBusy) {
				return MsgPromptBusy, true
			}
			c.log.Error(err, "failed to begin prompt update", "chat_id", in.ChatID)
			return MsgCommandFailed, true
		}
		return MsgPromptRequest, true
	case "/cancel":
		return c.cancelOther(ctx, in.ChatID, in.UserID), true
	default:
		return MsgUnknown, true
	}
}

// Intercept completes or cancels the prompt update the sender started.
func (c *Commands) Intercept(ctx context.Context, chatID, userID int64, text string) (string, bool) {
	owned, err := c.pending.Take(ctx, chatID, userID)
	if err != nil {
		c.log.Error(err, "pending action lookup failed", "chat_id", chatID)
		return "", false
	}
	if !owned {
		return "", false
	}
	if commandName(text) == "/cancel" {
		c.log.Info("system prompt update canceled", "chat_id", chatID, "user_id", userID)
		return MsgPromptCanceled, true
	}
	if _, err := c.SetSystemPrompt(ctx, userID, text); err != nil {
		c.log.Error(err, "failed to update system prompt", "chat_id", chatID)
		return MsgPromptFailed, true
	}
	return MsgPromptUpdated, true
}

// commandName returns the lowercased command of text without any @bot
// suffix, or "" when text is not a command.
func commandName(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd)
}

// cancelOther lets an admin drop an update another admin left pending.
func (c *Commands) cancelOther(ctx context.Context, chatID, userID int64) string {
	if !c.isAdmin(userID) {
		return MsgNothingPending
	}
	owner, ok, err := c.pending.Pending(ctx, chatID)
	if err != nil {
		c.log.Error(err, "pending action lookup failed", "chat_id", chatID)
		return MsgCommandFailed
	}
	if !ok {
		return MsgNothingPending
	}
	if err := c.pending.Cancel(ctx, chatID); err != nil {
		c.log.Error(err, "failed to cancel pending action", "chat_id", chatID)
		return MsgCommandFailed
	}
	c.log.Info("system prompt update canceled", "chat_id", chatID, "user_id", userID, "owner", owner)
	return MsgPromptCanceled
}

// Help lists the commands visible to userID.
func (c *Commands) Help(userID int64) string {
	var b strings.Builder
	b.WriteString("*Bot Commands*\n\n")
	b.WriteString("/start - Start the bot\n")
	b.WriteString("/help - Show this help\n")
	b.WriteString("/reset - Clear conversation history\n")
	if c.isAdmin(userID) {
		b.WriteString("/get_system_prompt - Show current system prompt\n")
		b.WriteString("/set_system_prompt - Set new system prompt\n")
	}
	b.WriteString("\nJust send me a message to get started!")
	return b.String()
}

// Reset clears the chat's conversation history.
func (c *Commands) Reset(ctx context.Context, chatID int64) error {
	sess, err := c.sessions.GetOrCreateSession(ctx, chatID)
	if err != nil {
		return err
	}
	return c.sessions.ClearSession(ctx, sess.SessionID)
}

// GetSystemPrompt returns the effective persona prompt.
func (c *Commands) GetSystemPrompt(ctx context.Context, userID int64) (string, error) {
	if !c.isAdmin(userID) {
		return "", domain.ErrForbidden
	}
	return c.sink.SystemPrompt(false), nil
}

// BeginPromptUpdate makes the admin's next message in chatID the new prompt.
func (c *Commands) BeginPromptUpdate(ctx context.Context, chatID, userID int64) error {
	if !c.isAdmin(userID) {
		c.log.Info("non-admin requested prompt update", "chat_id", chatID, "user_id", userID)
		return domain.ErrForbidden
	}
	owner, ok, err := c.pending.Pending(ctx, chatID)
	if err != nil {
		return err
	}
	if ok && owner != userID {
		return errPromptBusy
	}
	if err := c.pending.Begin(ctx, chatID, userID); err != nil {
		return err
	}
	c.log.Info("waiting for system prompt", "chat_id", chatID, "user_id", userID)
	return nil
}

// SetSystemPrompt persists prompt as the single active one and applies it.
func (c *Commands) SetSystemPrompt(ctx context.Context, userID int64, prompt string) (*domain.SystemPrompt, error) {
	if !c.isAdmin(userID) {
		return nil, domain.ErrForbidden
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("prompt must not be empty")
	}
	sp, err := c.store.SetSystemPrompt(ctx, prompt, userID)
	if err != nil {
		return nil, err
	}
	c.sink.SetSystemPrompt(sp.Prompt)
	c.log.Info("system prompt updated", "user_id", userID, "prompt_id", sp.ID)
	return sp, nil
}

// RateLimitUsage returns userID's current and the global request counts.
func (c *Commands) RateLimitUsage(ctx context.Context, adminID, userID int64) (user, global int, err error) {
	if !c.isAdmin(adminID) {
		return 0, 0, domain.ErrForbidden
	}
	if c.limits == nil {
		return 0, 0, errRateLimitsDisabled
	}
	user, global, err = c.limits.Usage(ctx, userID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", domain.ErrRateLimitStore, err)
	}
	return user, global, nil
}

// ResetRateLimit clears userID's request counter.
func (c *Commands) ResetRateLimit(ctx context.Context, adminID, userID int64) error {
	if !c.isAdmin(adminID) {
		return domain.ErrForbidden
	}
	if c.limits == nil {
		return errRateLimitsDisabled
	}
	if err := c.limits.ResetUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrRateLimitStore, err)
	}
	c.log.Info("rate limit reset", "admin_id", adminID, "user_id", userID)
	return nil
}
