package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/veritel-ai/dialer-service/internal/admission"
	"github.com/veritel-ai/dialer-service/internal/config"
	"github.com/veritel-ai/dialer-service/internal/dispatcher"
	"github.com/veritel-ai/dialer-service/internal/handler"
	"github.com/veritel-ai/dialer-service/internal/outcome"
	"github.com/veritel-ai/dialer-service/internal/poller"
	"github.com/veritel-ai/dialer-service/internal/provider"
	"github.com/veritel-ai/dialer-service/internal/provider/ari"
	"github.com/veritel-ai/dialer-service/internal/provider/sipnative"
	"github.com/veritel-ai/dialer-service/internal/reconciler"
	"github.com/veritel-ai/dialer-service/internal/repository"
	"github.com/veritel-ai/dialer-service/pkg/logger"
	"github.com/veritel-ai/dialer-service/pkg/redis"
	"go.uber.org/zap"
)

// Server wires the dialer service components together
type Server struct {
	config         *config.Config
	router         *mux.Router
	dispatcher     *dispatcher.Dispatcher
	notifier       *dispatcher.TerminalNotifier
	ariStream      *ari.EventStream
	handlerManager *handler.HandlerManager
}

// NewServer builds the full service from configuration
func NewServer(cfg *config.Config) (*Server, error) {
	table, err := outcome.LoadTable(cfg.SIPMappingFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcome mapping: %w", err)
	}

	store, campaigns, err := buildStore()
	if err != nil {
		return nil, err
	}

	var redisService redis.RedisServiceInterface
	if cfg.RedisEnabled {
		rs, rerr := redis.NewRedisService(&cfg.Redis)
		if rerr != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", rerr)
		}
		redisService = rs
	}

	adm := admission.NewController(admission.Config{
		FailureThreshold:   cfg.BreakerFailureThreshold,
		Cooldown:           cfg.BreakerCooldown,
		DefaultCampaignCap: cfg.DefaultCampaignCap,
		CampaignCaps:       cfg.CampaignCaps,
	})

	// The notifier and engine reference each other through the dispatcher,
	// so wire the publisher in after construction.
	engine := reconciler.NewEngine(reconciler.Config{
		Table:       table,
		Linger:      cfg.TerminalLinger,
		MailboxSize: cfg.MailboxSize,
	}, store, adm, nil)

	p := poller.New(poller.Config{
		Interval: cfg.PollInterval,
		Ceiling:  cfg.PollCeiling,
	}, engine)

	drivers := provider.NewRegistry()
	drivers.Register(sipnative.NewClient(cfg.SIPGatewayBaseURL, cfg.SIPGatewayAPIKey))
	ariClient := ari.NewClient(cfg.ARIBaseURL, cfg.ARIUsername, cfg.ARIPassword, cfg.ARIAppName)
	drivers.Register(ariClient)

	disp := dispatcher.New(dispatcher.Config{
		RatePerSecond: cfg.DispatchRatePerSecond,
		MaxRetries:    cfg.MaxDialRetries,
		RetryDelay:    cfg.RetryDelay,
	}, dispatcher.NewHopper(), adm, engine, drivers, p)

	notifier := dispatcher.NewTerminalNotifier(redisService, disp)
	engine.SetPublisher(notifier)

	router := mux.NewRouter()
	handlerManager := handler.NewHandlerManager(engine, disp, adm, drivers, p, campaigns)
	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		dispatcher:     disp,
		notifier:       notifier,
		ariStream:      ari.NewEventStream(ariClient, engine),
		handlerManager: handlerManager,
	}, nil
}

// buildStore opens the Postgres-backed record store, falling back to the
// in-memory store when no database is configured.
func buildStore() (reconciler.RecordStore, handler.CampaignFinder, error) {
	if os.Getenv("DB_HOST") == "" {
		logger.Base().Warn("DB_HOST not set, using in-memory call record store")
		return repository.NewMemoryCallRecordRepository(), nil, nil
	}

	dbConfig := repository.LoadDatabaseConfigFromEnv()
	db, err := repository.NewDatabaseConnection(dbConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	repo := repository.NewCallRecordRepository(db)
	return repo, repo, nil
}

// Start runs the background loops and serves HTTP until the context ends.
func (s *Server) Start(ctx context.Context) error {
	go s.dispatcher.Run(ctx)
	go s.ariStream.Run(ctx)
	if err := s.notifier.SubscribeCapacityReleases(ctx); err != nil {
		logger.Base().Warn("capacity release subscription failed", zap.Error(err))
	}

	addr := fmt.Sprintf(":%s", s.config.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("starting server", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func main() {
	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg := config.LoadConfigFromEnv()

	server, err := NewServer(cfg)
	if err != nil {
		logger.Base().Error("failed to initialize server", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
		logger.Base().Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Base().Info("server stopped")
}
