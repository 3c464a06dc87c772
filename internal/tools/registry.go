package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// ErrorPrefix marks a result text as a failure. Registry-produced errors start
// with it; a tool result containing it anywhere counts as failed.
const ErrorPrefix = "Error:"

type entry struct {
	plugin string
	tool   Tool
}

// Registry maps tool names to the plugin tools that implement them.
// Registration happens at startup; lookups afterwards are read-only.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]entry
	order   []string
	plugins []Plugin
	policy  Policy
	log     logr.Logger
}

// NewRegistry creates an empty registry. policy may be nil.
func NewRegistry(policy Policy, log logr.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]entry),
		policy: policy,
		log:    log.WithName("tools"),
	}
}

// Register initializes the plugin and adds all its tools. A name already
// provided by any plugin fails the whole registration with domain.ErrToolExists.
// A plugin rejected after Init is closed before Register returns.
func (r *Registry) Register(ctx context.Context, p Plugin) error {
	if p == nil {
		return fmt.Errorf("plugin is required")
	}
	if init, ok := p.(Initializer); ok {
		if err := init.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize plugin %s: %w", p.Name(), err)
		}
	}

	if err := r.add(p); err != nil {
		if c, ok := p.(Closer); ok {
			if cerr := c.Close(); cerr != nil {
				r.log.Error(cerr, "failed to close rejected plugin", "plugin", p.Name())
			}
		}
		return err
	}
	return nil
}

func (r *Registry) add(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tools := p.Tools()
	seen := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		name := t.Schema().Function.Name
		if name == "" {
			return fmt.Errorf("plugin %s: tool name is required", p.Name())
		}
		if existing, ok := r.tools[name]; ok {
			return fmt.Errorf("%w: %s (plugin %s, already provided by %s)", domain.ErrToolExists, name, p.Name(), existing.plugin)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("%w: %s (declared twice by plugin %s)", domain.ErrToolExists, name, p.Name())
		}
		seen[name] = struct{}{}
	}

	for _, t := range tools {
		name := t.Schema().Function.Name
		r.tools[name] = entry{plugin: p.Name(), tool: t}
		r.order = append(r.order, name)
	}
	r.plugins = append(r.plugins, p)
	r.log.Info("registered plugin", "plugin", p.Name(), "tools", len(tools))
	return nil
}

// ListSchemas returns every tool schema in registration order.
func (r *Registry) ListSchemas() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemas := make([]domain.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].tool.Schema())
	}
	return schemas
}

// HasTools reports whether any tool is registered.
func (r *Registry) HasTools() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order) > 0
}

// Plugins lists the registered plugins and their tool names.
func (r *Registry) Plugins() []domain.PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]domain.PluginInfo, 0, len(r.plugins))
	for _, p := range r.plugins {
		info := domain.PluginInfo{Name: p.Name(), Enabled: true}
		for _, name := range r.order {
			if r.tools[name].plugin == p.Name() {
				info.Tools = append(info.Tools, name)
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// Execute runs the named tool. It never returns an error: unknown names,
// policy blocks, tool errors and panics all come back as a tagged result
// whose text starts with ErrorPrefix.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result domain.ToolResult) {
	start := time.Now()
	result.ToolName = name
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error(fmt.Errorf("%v", rec), "tool panicked", "tool", name)
			result.Status = domain.ToolStatusFailed
			result.ResultText = fmt.Sprintf("%s tool %s panicked: %v", ErrorPrefix, name, rec)
		}
		result.Duration = time.Since(start)
	}()

	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		result.Status = domain.ToolStatusNotFound
		result.ResultText = fmt.Sprintf("%s %s: %s", ErrorPrefix, domain.ErrToolNotFound, name)
		return result
	}
	if args == nil {
		args = map[string]any{}
	}

	if r.policy != nil {
		decision, reason, err := r.policy.Evaluate(ctx, map[string]interface{}{
			"tool_name": name,
			"plugin":    e.plugin,
			"args":      args,
		})
		if err != nil {
			r.log.Error(err, "policy evaluation failed", "tool", name)
			result.Status = domain.ToolStatusFailed
			result.ResultText = fmt.Sprintf("%s policy evaluation failed", ErrorPrefix)
			return result
		}
		if decision == "block" {
			result.Status = domain.ToolStatusBlocked
			result.ResultText = fmt.Sprintf("%s blocked by policy: %s", ErrorPrefix, reason)
			return result
		}
	}

	out, err := e.tool.Execute(ctx, args)
	if err != nil {
		r.log.V(1).Info("tool failed", "tool", name, "error", err.Error())
		result.Status = domain.ToolStatusFailed
		result.ResultText = fmt.Sprintf("%s %s", ErrorPrefix, err.Error())
		return result
	}

	text, err := encodeResult(out)
	if err != nil {
		result.Status = domain.ToolStatusFailed
		result.ResultText = fmt.Sprintf("%s failed to encode result: %s", ErrorPrefix, err.Error())
		return result
	}
	result.ResultText = text
	result.Status = domain.ToolStatusSucceeded
	if strings.Contains(text, ErrorPrefix) {
		result.Status = domain.ToolStatusFailed
	}
	return result
}

// Close releases plugin resources.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, p := range r.plugins {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("plugin %s: %w", p.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}

func encodeResult(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case json.RawMessage:
		return string(val), nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
