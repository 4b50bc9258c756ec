// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/Oltking/hdticketdesk-sub002/internal/config"
	"github.com/Oltking/hdticketdesk-sub002/internal/events"
	"github.com/Oltking/hdticketdesk-sub002/internal/gateway"
	"github.com/Oltking/hdticketdesk-sub002/internal/health"
	"github.com/Oltking/hdticketdesk-sub002/internal/ledger"
	"github.com/Oltking/hdticketdesk-sub002/internal/logging"
	"github.com/Oltking/hdticketdesk-sub002/internal/metrics"
	"github.com/Oltking/hdticketdesk-sub002/internal/payments"
	"github.com/Oltking/hdticketdesk-sub002/internal/ratelimit"
	"github.com/Oltking/hdticketdesk-sub002/internal/refunds"
	"github.com/Oltking/hdticketdesk-sub002/internal/security"
	"github.com/Oltking/hdticketdesk-sub002/internal/tickets"
	"github.com/Oltking/hdticketdesk-sub002/internal/traces"
	"github.com/Oltking/hdticketdesk-sub002/internal/validation"
	"github.com/Oltking/hdticketdesk-sub002/internal/withdrawals"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	eventStore      events.Store
	ledger          *ledger.Ledger
	ticketService   *tickets.Service
	paymentStore    payments.Store
	reconciler      *payments.Reconciler
	withdrawService *withdrawals.Service
	refundService   *refunds.Service
	gateway         gateway.Client
	gatewayMock     *gateway.Mock // non-nil in dev mode

	maturationTimer *ledger.Timer
	sweeper         *payments.Sweeper
	withdrawSweeper *withdrawals.Sweeper
	rateLimiter     *ratelimit.Limiter
	healthChecks    *health.Registry

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGateway sets a custom payment gateway client (for testing)
func WithGateway(gw gateway.Client) Option {
	return func(s *Server) {
		s.gateway = gw
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, "json"),
		healthChecks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Gateway client: real HTTP client when configured, mock otherwise
	if s.gateway == nil {
		if cfg.GatewayBaseURL != "" {
			if cfg.IsProduction() {
				if err := security.ValidateGatewayURL(cfg.GatewayBaseURL); err != nil {
					return nil, fmt.Errorf("unsafe gateway URL: %w", err)
				}
			}
			s.gateway = gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewaySecret, cfg.GatewayTimeout)
			s.logger.Info("payment gateway configured", "base_url", cfg.GatewayBaseURL)
		} else {
			s.gatewayMock = gateway.NewMock()
			s.gateway = s.gatewayMock
			s.logger.Info("using mock payment gateway (dev mode)")
		}
	}

	var settler payments.Settler
	var applier refunds.Applier
	var ticketStore tickets.Store
	var withdrawalStore withdrawals.Store
	var refundStore refunds.Store

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		eventStore := events.NewPostgresStore(db)
		if err := eventStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate event store", "error", err)
		}
		s.eventStore = eventStore

		ledgerStore := ledger.NewPostgresStore(db)
		if err := ledgerStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		s.ledger = ledger.New(ledgerStore)

		tkStore := tickets.NewPostgresStore(db)
		if err := tkStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ticket store", "error", err)
		}
		ticketStore = tkStore

		payStore := payments.NewPostgresStore(db)
		if err := payStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate payment store", "error", err)
		}
		s.paymentStore = payStore
		settler = payments.NewPostgresSettler(db)

		wdStore := withdrawals.NewPostgresStore(db)
		if err := wdStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate withdrawal store", "error", err)
		}
		withdrawalStore = wdStore

		rfStore := refunds.NewPostgresStore(db)
		if err := rfStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate refund store", "error", err)
		}
		refundStore = rfStore
		applier = refunds.NewPostgresApplier(db)

		s.healthChecks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")

		memEvents := events.NewMemoryStore()
		events.SeedDev(memEvents)
		s.eventStore = memEvents

		s.ledger = ledger.New(ledger.NewMemoryStore())

		memTickets := tickets.NewMemoryStore()
		ticketStore = memTickets

		memPayments := payments.NewMemoryStore()
		s.paymentStore = memPayments
		settler = &payments.MemorySettler{
			Payments: memPayments,
			Tickets:  memTickets,
			Ledger:   s.ledger,
		}

		withdrawalStore = withdrawals.NewMemoryStore()
		refundStore = refunds.NewMemoryStore()
		applier = &refunds.MemoryApplier{
			Payments: memPayments,
			Tickets:  memTickets,
			Ledger:   s.ledger,
		}
	}

	s.ticketService = tickets.NewService(ticketStore)

	maturation := time.Duration(cfg.MaturationHours) * time.Hour
	s.reconciler = payments.NewReconciler(s.paymentStore, s.eventStore, ticketStore,
		s.gateway, settler, cfg.PlatformFeeRate, maturation, s.logger)
	s.sweeper = payments.NewSweeper(s.reconciler, s.paymentStore,
		cfg.SweepInterval, cfg.PendingSweepAfter, s.logger)
	s.maturationTimer = ledger.NewTimer(s.ledger, cfg.MaturationEvery, s.logger)

	s.withdrawService = withdrawals.NewService(withdrawalStore, s.ledger, s.gateway,
		withdrawals.NewLogSender(s.logger), cfg.MinWithdrawal, cfg.OTPTTL,
		cfg.OTPMaxAttempts, s.logger)
	s.withdrawSweeper = withdrawals.NewSweeper(withdrawalStore, s.ledger, s.gateway,
		cfg.SweepInterval, cfg.PendingSweepAfter, s.logger)

	s.refundService = refunds.NewService(refundStore, ticketStore, s.eventStore,
		s.paymentStore, s.gateway, applier, s.logger)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins in dev - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when no OTLP endpoint is configured)
	shutdownTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTraces(ctx); err != nil {
				s.logger.Warn("trace shutdown error", "error", err)
			}
		}()
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Background jobs: maturation of sale credits, stale payment sweep,
	// stranded withdrawal sweep
	go s.maturationTimer.Start(runCtx)
	go s.sweeper.Start(runCtx)
	go s.withdrawSweeper.Start(runCtx)

	// Database pool metrics
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (timers, sweeper)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.maturationTimer != nil {
		s.maturationTimer.Stop()
		s.logger.Info("maturation timer stopped")
	}

	if s.sweeper != nil {
		s.sweeper.Stop()
		s.logger.Info("payment sweeper stopped")
	}

	if s.withdrawSweeper != nil {
		s.withdrawSweeper.Stop()
		s.logger.Info("withdrawal sweeper stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}
