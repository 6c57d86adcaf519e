package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"go-counsel/internal/ai"
	"go-counsel/internal/call"
	"go-counsel/internal/chat"
	"go-counsel/internal/config"
	"go-counsel/internal/consultation"
	"go-counsel/internal/db"
	"go-counsel/internal/message"
	"go-counsel/internal/metrics"
	myMiddleware "go-counsel/internal/middleware"
	"go-counsel/internal/notify"
	"go-counsel/internal/presence"
	"go-counsel/internal/rtc"
	"go-counsel/internal/summary"
	"go-counsel/internal/timer"
	"go-counsel/internal/user"
)

func main() {
	configPath := flag.String("config", "config.yaml", "optional YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("server stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	// 1. Config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer database.Close()
	logger.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}
	logger.Info("database schema initialized")

	// 3. Presence and fan-out: Redis when configured, in-process otherwise
	var (
		tracker      presence.Tracker
		broker       chat.Broker
		redisTracker *presence.RedisTracker
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := redisClient.Ping(ctx).Result(); err != nil {
			return err
		}
		defer redisClient.Close()
		redisTracker = presence.NewRedisTracker(redisClient, cfg.InstanceID, presence.DefaultStaleAfter, logger)
		// connections recorded by a previous run of this instance are gone
		if _, err := redisTracker.Reset(ctx); err != nil {
			return err
		}
		tracker = redisTracker
		broker = chat.NewRedisBroker(redisClient, logger)
		logger.Info("connected to redis", "addr", cfg.RedisAddr, "instance_id", cfg.InstanceID)
	} else {
		tracker = presence.NewMemoryTracker()
		broker = chat.NewLocalBroker(1024)
		logger.Info("redis not configured, running single instance")
	}

	// 4. Push notifications
	var dispatcher notify.Dispatcher = notify.NewLoggingDispatcher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := notify.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaNotifyTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		dispatcher = kafka
	}
	notifier := notify.NewAsync(dispatcher, logger)

	// 5. Hub
	m := metrics.New()
	hub := chat.NewHub(broker, logger, m)
	go hub.Run(ctx)

	// 6. Collaborators
	var (
		moderator  ai.Moderator = ai.AllowAll{}
		summarizer consultation.Summarizer
	)
	consultationRepo := consultation.NewRepository(database.Conn)
	messageRepo := message.NewRepository(database.Conn)
	if cfg.OpenAIAPIKey != "" {
		mod, err := ai.NewOpenAIModerator(ai.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.ModerationModel})
		if err != nil {
			return err
		}
		gen, err := ai.NewOpenAISummarizer(ai.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.SummaryModel})
		if err != nil {
			return err
		}
		moderator = mod
		summarizer = summary.NewService(messageRepo, consultationRepo, gen, logger)
	} else {
		logger.Warn("OPENAI_API_KEY not set, moderation allows everything and summaries are skipped")
	}

	tokens, err := rtc.NewJWTIssuer(cfg.RTCAppID, cfg.RTCAppCertificate)
	if err != nil {
		return err
	}
	timers := timer.NewMemoryRegistry()
	defer timers.Stop()

	// 7. Features
	messages := message.NewService(message.Deps{
		Store:             messageRepo,
		Consultations:     consultationRepo,
		Moderator:         moderator,
		Emitter:           hub,
		Notifier:          notifier,
		ModerationTimeout: cfg.ModerationTimeout,
		Logger:            logger,
		Metrics:           m,
	})

	lifecycle := consultation.NewService(consultation.Deps{
		Store:      consultationRepo,
		Payments:   consultationRepo,
		Messages:   messages,
		Emitter:    hub,
		Notifier:   notifier,
		Summarizer: summarizer,
		Timers:     timers,
		Logger:     logger,
		Metrics:    m,
	}, consultation.Options{
		TrialDuration:    cfg.TrialDuration,
		TrialWarningLead: cfg.TrialWarningLead,
		PendingExpiry:    cfg.PendingExpiry,
	})

	calls := call.NewService(call.Deps{
		Store:         call.NewMemoryStore(),
		Consultations: consultationRepo,
		Tokens:        tokens,
		Presence:      tracker,
		Emitter:       hub,
		Notifier:      notifier,
		Timers:        timers,
		Logger:        logger,
		Metrics:       m,
	}, call.Options{
		RingTimeout: cfg.CallRingTimeout,
		Retention:   cfg.CallRetention,
		TokenTTL:    cfg.RTCTokenTTL,
	})

	// 8. Trial timers do not survive a restart; re-derive them from the store
	expired, err := lifecycle.RecoverTrials(ctx)
	if err != nil {
		return err
	}
	logger.Info("trial timers recovered", "expired_while_down", expired)

	if err := lifecycle.StartPendingSweep(ctx, cfg.PendingSweepSchedule); err != nil {
		return err
	}

	// 9. Handlers
	userService := user.NewTokenService(cfg.JWTSecret)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)
	userHandler := user.NewHandler(user.NewRepository(database.Conn), tracker)
	chatHandler := chat.NewHandler(hub, tracker, messages, logger, m)
	consultationHandler := consultation.NewHandler(lifecycle, cfg.PaymentWebhookSecret)
	messageHandler := message.NewHandler(messages)
	callHandler := call.NewHandler(calls)

	// 10. Define Routes
	r := chi.NewRouter()
	r.Use(myMiddleware.RequestID)
	r.Use(myMiddleware.Recover)
	r.Use(myMiddleware.Logging(m))

	// Public Routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())
	r.Post("/api/payments/webhook", consultationHandler.PaymentWebhook)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		// WebSocket (Real-time)
		r.Get("/ws", chatHandler.ServeWs)

		r.Get("/api/users/status", userHandler.Status)
		r.Get("/api/users/{id}", userHandler.Profile)
		r.Route("/api/consultations", func(r chi.Router) {
			consultationHandler.Routes(r)
			messageHandler.Routes(r)
		})
		r.Route("/api/calls", callHandler.Routes)
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if redisTracker != nil {
		if _, err := redisTracker.Reset(shutdownCtx); err != nil {
			logger.Warn("presence reset failed", "error", err.Error())
		}
	}
	return nil
}
