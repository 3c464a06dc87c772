package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/gateway/internal/adapter/llm"
	"github.com/xiaot623/gogo/gateway/internal/admin"
	"github.com/xiaot623/gogo/gateway/internal/config"
	"github.com/xiaot623/gogo/gateway/internal/ratelimit"
	"github.com/xiaot623/gogo/gateway/internal/repository"
	"github.com/xiaot623/gogo/gateway/internal/service"
	"github.com/xiaot623/gogo/gateway/internal/session"
	"github.com/xiaot623/gogo/gateway/internal/tools"
	"github.com/xiaot623/gogo/gateway/internal/tools/plugins"
	transporthttp "github.com/xiaot623/gogo/gateway/internal/transport/http"
	"github.com/xiaot623/gogo/gateway/internal/transport/ws"
	"github.com/xiaot623/gogo/gateway/pkg/logger"
	"github.com/xiaot623/gogo/gateway/policy"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	Long: `Run the HTTP API and the WebSocket chat endpoint.

Configuration comes from defaults, then the YAML file given by --config or
$CONFIG_FILE, then environment variables. Set GATEWAY_MODE=MOCK to run
without a model backend.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, logger.New(cfg.LogLevel))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, cfg *config.Config, log logr.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	log.Info("starting gateway", "http_port", cfg.HTTPPort, "ws_path", cfg.WSPath, "database", cfg.DatabaseURL, "llm_base_url", cfg.LLMBaseURL, "llm_model", cfg.LLMModel)

	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer db.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Error(err, "redis is not reachable, admission will follow the fail-open setting", "fail_open", cfg.RateLimitFailOpen)
	}
	cancelPing()

	limiter := ratelimit.New(rdb, ratelimit.Limits{
		UserRequests:   cfg.RateLimitUserRequests,
		UserWindow:     cfg.RateLimitUserWindow,
		GlobalRequests: cfg.RateLimitGlobalRequests,
		GlobalWindow:   cfg.RateLimitGlobalWindow,
	})
	sessions := session.NewManager(db, cfg.HistoryLimit, log)

	engine, err := policy.LoadEngine(ctx, cfg.ToolPolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	registry, err := buildRegistry(ctx, cfg, engine, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := registry.Close(); err != nil {
			log.Error(err, "failed to close tool plugins")
		}
	}()

	gen := llm.NewGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMAttemptTimeout, log)
	gateway := llm.NewGateway(gen, llm.Settings{
		RequestTimeout:  cfg.LLMRequestTimeout,
		RetryAttempts:   cfg.LLMRetryAttempts,
		RetryMinWait:    cfg.LLMRetryMinWait,
		RetryMaxWait:    cfg.LLMRetryMaxWait,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}, log)

	svc := service.New(limiter, sessions, db, gateway, registry, service.Options{
		Temperature:       cfg.LLMTemperature,
		MaxTokens:         cfg.LLMMaxTokens,
		MaxContextTokens:  cfg.MaxContextTokens,
		ToolTimeout:       cfg.ToolTimeout,
		RateLimitFailOpen: cfg.RateLimitFailOpen,
	}, log)
	if err := svc.LoadSystemPrompt(ctx); err != nil {
		log.Error(err, "failed to load system prompt, using the default")
	}

	commands := admin.NewCommands(cfg.IsAdmin, admin.NewPendingStore(rdb, cfg.PendingActionTTL), sessions, db, svc, log)
	commands.SetRateLimits(limiter)

	hub := ws.NewHub(log)
	go hub.Run(ctx)
	wsServer := ws.NewServer(ws.Options{
		APIKey:            cfg.WSAPIKey,
		PingInterval:      cfg.WSPingInterval,
		WriteTimeout:      cfg.WSWriteTimeout,
		ReadTimeout:       cfg.WSReadTimeout,
		MaxMessageSize:    cfg.WSMaxMessageSize,
		BotUsername:       cfg.BotUsername,
		BotName:           cfg.BotName,
		ProcessingTimeout: cfg.ProcessingTimeout,
	}, hub, svc, commands, log)
	svc.SetReplier(wsServer)

	server := transporthttp.NewServer()
	handler := transporthttp.NewHandler(svc, commands, sessions, db, registry, gateway, wsServer, log)
	handler.SetAdminKey(cfg.AdminAPIKey)
	handler.RegisterRoutes(server.Echo())
	server.Echo().GET(cfg.WSPath, wsServer.HandleWebSocket)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("gateway started", "http_port", cfg.HTTPPort, "tools", len(registry.ListSchemas()))

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "failed to shutdown server gracefully")
	}
	log.Info("gateway stopped")
	return nil
}

// buildRegistry registers the configured plugins. A plugin whose
// initialization fails is left out and the gateway starts without it.
func buildRegistry(ctx context.Context, cfg *config.Config, p tools.Policy, log logr.Logger) (*tools.Registry, error) {
	registry := tools.NewRegistry(p, log)
	plugs, err := plugins.FromConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	for _, plug := range plugs {
		if err := registry.Register(ctx, plug); err != nil {
			log.Error(err, "plugin disabled", "plugin", plug.Name())
		}
	}
	return registry, nil
}
