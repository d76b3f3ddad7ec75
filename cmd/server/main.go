package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/apiforllm/chat-server-go/internal/config"
	"github.com/apiforllm/chat-server-go/internal/database"
	"github.com/apiforllm/chat-server-go/internal/dispatch"
	"github.com/apiforllm/chat-server-go/internal/handler"
	"github.com/apiforllm/chat-server-go/internal/jobs"
	"github.com/apiforllm/chat-server-go/internal/llm"
	"github.com/apiforllm/chat-server-go/internal/middleware"
	"github.com/apiforllm/chat-server-go/internal/pipeline"
	"github.com/apiforllm/chat-server-go/internal/redis"
	"github.com/apiforllm/chat-server-go/internal/repository"
	"github.com/apiforllm/chat-server-go/internal/service"
	"github.com/apiforllm/chat-server-go/internal/signing"
	"github.com/apiforllm/chat-server-go/internal/tokenizer"
	"github.com/apiforllm/chat-server-go/internal/ws"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	messageRepo := repository.NewMessageRepository(db.DB)
	templateRepo := repository.NewTemplateRepository(db.DB)
	functionRepo := repository.NewFunctionRepository(db.DB)
	serverRepo := repository.NewFunctionServerRepository(db.DB)
	balanceRepo := repository.NewBalanceRepository(db.DB)

	hub := ws.NewHub(redisClient)
	defer hub.Close()

	signer := signing.NewSigner(cfg.SecretKey)
	estimator := tokenizer.NewEstimator()
	llmClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	ledger := service.NewLedger(balanceRepo)
	dispatcher := dispatch.NewDispatcher(
		templateRepo, functionRepo, serverRepo, signer, cfg.SecretKey, cfg.DispatchTimeout(),
	)

	turnPipeline := pipeline.New(
		accountRepo, sessionRepo, messageRepo, templateRepo,
		ledger, llmClient, estimator, dispatcher, hub,
	)
	runner := pipeline.NewRunner(turnPipeline, hub, cfg.TurnTimeout())

	sessionService := service.NewSessionService(db, sessionRepo, messageRepo, templateRepo, serverRepo)

	authMiddleware := middleware.NewAuthMiddleware(accountRepo)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client)

	chatHandler := ws.NewChatHandler(accountRepo, sessionRepo, hub, runner)
	callbackHandler := ws.NewCallbackHandler(signer, cfg.CallbackTokenMaxAge(), sessionRepo, hub, runner)
	sessionHandler := handler.NewSessionHandler(sessionService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	// Websocket routes manage their own lifetimes and auth; no request
	// timeout here or long-lived connections would be cut off.
	r.Get("/ws/chat/{sessionID}", chatHandler.ServeHTTP)
	r.Get("/ws/function_result/{sessionID}", callbackHandler.ServeHTTP)

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Mount("/", sessionHandler.Routes())
	})

	janitorJob := jobs.NewJanitorJob(runner, hub, config.JanitorInterval)
	janitorJob.Start()
	defer janitorJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// In-flight turns have their own deadlines; let them finish so paid
	// completions are persisted and broadcast before the process exits.
	runner.Wait()

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
