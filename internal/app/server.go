// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"settlement-service/internal/config"
	"settlement-service/internal/db"
	"settlement-service/internal/domain/agent"
	"settlement-service/internal/domain/notification"
	"settlement-service/internal/domain/topup"
	"settlement-service/internal/domain/wallet"
	agentHandler "settlement-service/internal/handlers/agent"
	notifyHandler "settlement-service/internal/handlers/notification"
	topupHandler "settlement-service/internal/handlers/topup"
	walletHandler "settlement-service/internal/handlers/wallet"
	wsHandler "settlement-service/internal/handlers/websocket"
	"settlement-service/internal/middleware"
	"settlement-service/internal/pkg/jwt"
	"settlement-service/internal/pkg/lock"
	"settlement-service/internal/pkg/ratelimit"
	"settlement-service/internal/repository/memory"
	"settlement-service/internal/repository/postgres"
	agenttxUsecase "settlement-service/internal/service/agenttx"
	credentialUsecase "settlement-service/internal/service/credential"
	notifyUsecase "settlement-service/internal/service/notification"
	schedulerUsecase "settlement-service/internal/service/scheduler"
	settlementUsecase "settlement-service/internal/service/settlement"
	topupUsecase "settlement-service/internal/service/topup"
	walletUsecase "settlement-service/internal/service/wallet"
	"settlement-service/internal/websocket"
	wsHandlers "settlement-service/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg        config.AppConfig
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	pool        *pgxpool.Pool
	redisClient *redis.Client
	hub         *websocket.Hub
	scheduler   *schedulerUsecase.SchedulerService

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type repositories struct {
	wallets       wallet.Repository
	requests      topup.Repository
	credentials   agent.CredentialRepository
	transactions  agent.TransactionRepository
	notifications notification.Repository
}

// NewServer loads configuration and wires every component. Nothing runs
// until Start.
func NewServer() (*Server, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// ----- Logger -----
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	s := &Server{cfg: cfg, logger: logger}
	if err := s.build(context.Background()); err != nil {
		s.closeStores()
		return nil, err
	}
	return s, nil
}

func newLogger(cfg config.AppConfig) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.cfg
	logger := s.logger

	location, err := cfg.Location()
	if err != nil {
		return err
	}

	// ----- Storage -----
	repos, err := s.buildRepositories(ctx)
	if err != nil {
		return err
	}

	// ----- Redis, locks & PIN limiter -----
	var locker lock.Locker
	var limiter credentialUsecase.AttemptLimiter
	if cfg.LockBackend == config.LockRedis {
		s.redisClient, err = db.NewRedisClient(ctx, db.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))

		locker = lock.NewRedisLocker(s.redisClient, cfg.LockTTL, logger)
		limiter = ratelimit.NewRedisLimiter(s.redisClient, "pin", int64(cfg.PinMaxAttempts), cfg.PinLockoutWindow)
	} else {
		logger.Warn("using in-process locks, run a single instance only")
		locker = lock.NewLocalLocker()
		limiter = ratelimit.NewLocalLimiter(int64(cfg.PinMaxAttempts), cfg.PinLockoutWindow)
	}

	// ----- JWT -----
	verifier, err := jwt.LoadVerifier(cfg.JWT)
	if err != nil {
		return fmt.Errorf("failed to load JWT verifier: %w", err)
	}

	// ----- WebSocket Hub -----
	s.hub = websocket.NewHub(logger)

	wired := wire(cfg, repos, locker, limiter, verifier, s.hub, location, logger)
	s.scheduler = wired.scheduler

	// ----- Router -----
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.engine = gin.New()
	SetupRouter(s.engine, logger, wired.handlers)

	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

type components struct {
	handlers  *Handlers
	scheduler *schedulerUsecase.SchedulerService
}

// wire builds services and handlers on top of already opened stores.
func wire(
	cfg config.AppConfig,
	repos *repositories,
	locker lock.Locker,
	limiter credentialUsecase.AttemptLimiter,
	verifier middleware.TokenVerifier,
	hub *websocket.Hub,
	location *time.Location,
	logger *zap.Logger,
) *components {
	// ----- Services (Usecases) -----
	walletService := walletUsecase.NewWalletService(repos.wallets, logger)
	notifService := notifyUsecase.NewNotificationService(repos.notifications, hub, logger)
	credentialService := credentialUsecase.NewCredentialService(repos.credentials, locker, limiter, logger)
	agentTxService := agenttxUsecase.NewAgentTxService(
		repos.transactions,
		repos.requests,
		credentialService,
		locker,
		location,
		logger,
	)
	topupService := topupUsecase.NewTopupService(
		repos.requests,
		walletService,
		agentTxService,
		notifService,
		locker,
		topupUsecase.Config{
			MinAmount: cfg.TopupMinAmount,
			MaxAmount: cfg.TopupMaxAmount,
			Location:  location,
		},
		logger,
	)
	settlementService := settlementUsecase.NewSettlementService(agentTxService, topupService, walletService, locker, logger)
	scheduler := schedulerUsecase.NewSchedulerService(topupService, settlementService, schedulerUsecase.Config{
		Interval:      cfg.SchedulerInterval,
		ExpiryAfter:   cfg.TopupExpiryAfter,
		ReminderAfter: cfg.TopupReminderAfter,
	}, logger)

	// Register WebSocket handlers
	hub.RegisterHandler(wsHandlers.NewNotificationHandler(notifService, logger))

	// ----- Handlers -----
	return &components{
		handlers: &Handlers{
			WalletHandler:  walletHandler.NewWalletHandler(walletService, logger),
			TopupHandler:   topupHandler.NewTopupHandler(topupService, logger),
			AgentHandler:   agentHandler.NewAgentHandler(credentialService, agentTxService, settlementService, logger),
			NotifHandler:   notifyHandler.NewNotificationHandler(notifService, logger),
			WSHandler:      wsHandler.NewWebSocketHandler(hub, cfg.AllowedOrigins, logger),
			AuthMiddleware: middleware.NewAuthMiddleware(verifier),
		},
		scheduler: scheduler,
	}
}

func (s *Server) buildRepositories(ctx context.Context) (*repositories, error) {
	if s.cfg.StorageDriver == config.StorageMemory {
		s.logger.Warn("using in-memory storage, data is lost on restart")
		return &repositories{
			wallets:       memory.NewWalletRepository(),
			requests:      memory.NewTopupRepository(),
			credentials:   memory.NewCredentialRepository(),
			transactions:  memory.NewAgentTransactionRepository(),
			notifications: memory.NewNotificationRepository(),
		}, nil
	}

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, db.PostgresConfig{
		URL:      s.cfg.DatabaseURL,
		MaxConns: int32(s.cfg.DBMaxConns),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	s.pool = pool

	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	s.logger.Info("postgres connected and migrated")

	return &repositories{
		wallets:       postgres.NewWalletRepository(pool),
		requests:      postgres.NewTopupRepository(pool),
		credentials:   postgres.NewCredentialRepository(pool),
		transactions:  postgres.NewAgentTransactionRepository(pool),
		notifications: postgres.NewNotificationRepository(pool),
	}, nil
}

// Start runs the hub and the scheduler, then serves HTTP until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(ctx)
	}()

	s.logger.Info("server running",
		zap.String("addr", s.cfg.HTTPAddr),
		zap.String("storage", s.cfg.StorageDriver),
		zap.String("locks", s.cfg.LockBackend),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, stops background work and closes stores.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		s.logger.Error("http shutdown failed", zap.Error(err))
	}

	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("background workers did not stop in time")
	}

	s.closeStores()
	_ = s.logger.Sync()
	return err
}

func (s *Server) closeStores() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
}
