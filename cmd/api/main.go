package main

import (
	"context"
	"crypto/tls"
	_ "embed"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/movario/moving-ai-platform/cmd/mainconfig"
	"github.com/movario/moving-ai-platform/internal/api/router"
	"github.com/movario/moving-ai-platform/internal/business"
	appconfig "github.com/movario/moving-ai-platform/internal/config"
	"github.com/movario/moving-ai-platform/internal/conversation"
	"github.com/movario/moving-ai-platform/internal/crm"
	"github.com/movario/moving-ai-platform/internal/geo"
	"github.com/movario/moving-ai-platform/internal/leads"
	"github.com/movario/moving-ai-platform/internal/notify"
	"github.com/movario/moving-ai-platform/internal/observability/metrics"
	"github.com/movario/moving-ai-platform/internal/webchat"
	"github.com/movario/moving-ai-platform/pkg/logging"
)

//go:embed widget.js
var widgetJS []byte

func main() {
	// Local development convenience; production runs on real env vars.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting moving-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"llm_provider", cfg.LLMProvider,
	)

	ctx := context.Background()

	// Persistence. Without DATABASE_URL everything runs in memory, which is
	// enough for local demos.
	var (
		pool      *pgxpool.Pool
		leadsRepo leads.Repository
		convStore conversation.Store
	)
	if cfg.DatabaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		leadsRepo = leads.NewPostgresRepository(pool)
		convStore = conversation.NewPostgresStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		leadsRepo = leads.NewInMemoryRepository()
		convStore = conversation.NewInMemoryStore()
	}

	redisClient := newRedisClient(cfg)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	}
	defer func() { _ = redisClient.Close() }()

	businessStore := business.NewStore(redisClient)
	contextCache := conversation.NewContextCache(redisClient, cfg.ContextTTL)

	llmClient, model, closeLLM, err := buildLLMClient(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize llm client", "error", err)
		os.Exit(1)
	}
	defer closeLLM()

	gateway := conversation.NewGateway(llmClient, model, logger,
		conversation.WithRetryPolicy(cfg.LLMRetryMax, cfg.LLMRetryBaseWait),
		conversation.WithMaxTokens(int32(cfg.LLMMaxTokens)),
	)

	prompt := conversation.NewPromptBuilder(
		geo.NewHTTPClient(cfg.DistanceBaseURL, logger),
		cfg.DistanceFallbackKm,
		logger,
	)

	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
	} else {
		logger.Warn("SENDGRID_API_KEY not set, lead notifications are logged only")
		emailSender = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewService(emailSender, businessStore, logger)

	var crmPusher conversation.CRMPusher
	if client := crm.NewWebhookClient(cfg.CRMWebhookURL, cfg.CRMWebhookToken, logger); client != nil {
		crmPusher = client
	}

	actions := conversation.NewActionTrigger(leadsRepo, convStore, notifier, crmPusher, logger)

	orch := conversation.NewOrchestrator(
		convStore,
		leadsRepo,
		businessStore,
		prompt,
		gateway,
		actions,
		logger,
		conversation.WithContextCache(contextCache),
	)

	conversationHandler := conversation.NewHandler(orch, logger)
	webchatHandler := webchat.NewHandler(orch, widgetJS, logger)

	r := router.New(&router.Config{
		Logger:              logger,
		ConversationHandler: conversationHandler,
		WebchatHandler:      webchatHandler,
		WidgetHandler:       http.HandlerFunc(webchatHandler.HandleWidgetJS),
		MetricsHandler:      promhttp.Handler(),
		HTTPMetrics:         metrics.NewHTTPMetrics(nil),
		HealthHandler:       healthHandler(pool, redisClient),
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerSecond:  cfg.RateLimitPerSecond,
		RateLimitBurst:      cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newRedisClient(cfg *appconfig.Config) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// buildLLMClient selects the completion provider. The returned closer releases
// provider resources on shutdown.
func buildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (conversation.LLMClient, string, func(), error) {
	switch cfg.LLMProvider {
	case "gemini":
		client, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, "", nil, err
		}
		logger.Info("llm provider ready", "provider", "gemini", "model", cfg.GeminiModelID)
		return client, cfg.GeminiModelID, func() { _ = client.Close() }, nil
	default:
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, "", nil, err
		}
		client := conversation.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
		logger.Info("llm provider ready", "provider", "bedrock", "model", cfg.BedrockModelID)
		return client, cfg.BedrockModelID, func() {}, nil
	}
}

func healthHandler(pool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := map[string]string{}
		healthy := true

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				checks["postgres"] = "down"
				healthy = false
			} else {
				checks["postgres"] = "ok"
			}
		}
		if err := redisClient.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			healthy = false
		} else {
			checks["redis"] = "ok"
		}

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": status,
			"checks": checks,
		})
	}
}
