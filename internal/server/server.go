// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/mevguard/internal/config"
	"github.com/mbd888/mevguard/internal/detection"
	"github.com/mbd888/mevguard/internal/feed"
	"github.com/mbd888/mevguard/internal/gas"
	"github.com/mbd888/mevguard/internal/health"
	"github.com/mbd888/mevguard/internal/logging"
	"github.com/mbd888/mevguard/internal/metrics"
	"github.com/mbd888/mevguard/internal/ratelimit"
	"github.com/mbd888/mevguard/internal/realtime"
	"github.com/mbd888/mevguard/internal/relay"
	"github.com/mbd888/mevguard/internal/risk"
	"github.com/mbd888/mevguard/internal/security"
	"github.com/mbd888/mevguard/internal/simulation"
	"github.com/mbd888/mevguard/internal/sink"
	"github.com/mbd888/mevguard/internal/threat"
	"github.com/mbd888/mevguard/internal/validation"
	"github.com/mbd888/mevguard/migrations"
)

// Version is reported by /health.
const Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// ChainClient is the node access the server needs: chain id for health and
// the head block for relay targeting. *ethclient.Client satisfies it.
type ChainClient interface {
	health.ChainIDer
	relay.BlockNumberer
	Close()
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	db          *sql.DB // nil if using in-memory
	chain       ChainClient
	feed        feed.Feed
	mempool     *feed.Mempool // set when the feed owns a websocket connection
	sink        sink.Sink
	manager     *detection.Manager
	simulation  *simulation.Service
	relayClient relay.Client
	realtimeHub *realtime.Hub
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	drainDelay  time.Duration

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

// WithChain sets the node client (for testing)
func WithChain(c ChainClient) Option {
	return func(s *Server) {
		s.chain = c
	}
}

// WithFeed sets the transaction feed (for testing)
func WithFeed(f feed.Feed) Option {
	return func(s *Server) {
		s.feed = f
	}
}

// WithSink sets the event sink (for testing)
func WithSink(sk sink.Sink) Option {
	return func(s *Server) {
		s.sink = sk
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set chain/feed/sink/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		threatStore detection.Store
		riskStore   risk.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if cfg.MigrateOnStart {
			if err := migrateUp(ctx, db, s.logger); err != nil {
				_ = db.Close()
				return nil, err
			}
		}

		s.db = db
		threatStore = detection.NewPostgresStore(db)
		riskStore = risk.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		threatStore = detection.NewMemoryStore()
		riskStore = risk.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	if s.chain == nil {
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to RPC: %w", err)
		}
		s.chain = client
	}

	if s.feed == nil {
		switch cfg.FeedMode {
		case config.FeedMempool:
			m, err := feed.DialMempool(ctx, cfg.WSURL, cfg.ChainID, s.logger)
			if err != nil {
				return nil, err
			}
			s.feed = m
			s.mempool = m
			s.logger.Info("mempool feed enabled", "ws", maskDSN(cfg.WSURL))
		default:
			s.feed = feed.NewSynthetic(cfg.FeedInterval)
			s.logger.Info("synthetic feed enabled", "interval", cfg.FeedInterval)
		}
	}

	if s.sink == nil {
		s.sink = s.buildSink()
	}

	// Scoring and classification
	scorer := risk.NewScorer().WithHighGasPrice(gas.Gwei(cfg.HighGasPriceGwei))
	if large, err := gas.ParseETH(cfg.LargeValueETH); err == nil {
		scorer = scorer.WithLargeValue(large)
	} else {
		s.logger.Warn("ignoring LARGE_VALUE_ETH", "error", err)
	}

	var pricer threat.LossPricer = gas.FixedPrice(cfg.ETHUSDFallback)
	if cfg.PriceOracle {
		pricer = gas.NewPriceOracle(cfg.ETHUSDFallback, 5*time.Minute).Pricer(2 * time.Second)
		s.logger.Info("price oracle enabled", "fallback", cfg.ETHUSDFallback)
	}

	classifier := threat.Chain{
		Synthetic: threat.NewRandomClassifier(time.Now().UnixNano()).
			WithLossScale(cfg.LossScale).
			WithPricer(pricer),
		Decoded: threat.NewHeuristicClassifier(scorer).
			WithThreshold(cfg.DetectionThreshold).
			WithLowGasPrice(gas.Gwei(cfg.LowGasPriceGwei)).
			WithPricer(pricer),
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger).AllowOrigins(cfg.CORSOrigins)

	s.manager = detection.NewManager(s.feed, classifier, s.logger).
		WithStore(threatStore).
		WithSink(s.sink).
		WithBroadcaster(s.realtimeHub).
		WithCapacity(cfg.LedgerCapacity).
		WithStaleAfter(cfg.StaleAfter)

	gate := relay.NewGate(scorer)
	s.simulation = simulation.NewService(scorer, gate, s.logger).
		WithSignals(s.manager).
		WithStore(riskStore)

	// Private relay
	if cfg.RelayConfigured() {
		relayURL := relay.RelayURL(cfg.FlashbotsNetwork, cfg.FlashbotsRelayURL)
		if cfg.IsProduction() && cfg.FlashbotsRelayURL != "" {
			if err := security.ValidateEndpointURL(relayURL); err != nil {
				return nil, fmt.Errorf("invalid FLASHBOTS_RELAY_URL: %w", err)
			}
		}
		fb, err := relay.NewFlashbotsClient(relayURL, cfg.FlashbotsSignerKey, s.chain, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create relay client: %w", err)
		}
		s.relayClient = fb
		s.logger.Info("private relay enabled", "relay", relayURL, "signer", fb.Signer().Hex())
	} else {
		s.relayClient = relay.MockClient{}
		s.logger.Info("private relay not configured, submissions are mocked")
	}

	// Health checks
	s.health = health.NewRegistry()
	if s.db != nil {
		s.health.Register("database", health.Database(s.db))
	}
	s.health.Register("rpc", health.RPC(s.chain, cfg.ChainID))
	s.health.Register("sessions", health.Sessions(s.manager.Counts))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// buildSink connects every configured event bus. Failures are logged and the
// bus is skipped.
func (s *Server) buildSink() sink.Sink {
	var sinks sink.Multi
	if len(s.cfg.KafkaBrokers) > 0 {
		k, err := sink.NewKafkaSink(s.cfg.KafkaBrokers, s.cfg.KafkaTopic)
		if err != nil {
			s.logger.Warn("kafka sink disabled", "error", err)
		} else {
			sinks = append(sinks, k)
			s.logger.Info("kafka sink enabled", "brokers", s.cfg.KafkaBrokers, "topic", s.cfg.KafkaTopic)
		}
	}
	if s.cfg.NATSURL != "" {
		n, err := sink.NewNATSSink(s.cfg.NATSURL, s.cfg.NATSSubject)
		if err != nil {
			s.logger.Warn("nats sink disabled", "error", err)
		} else {
			sinks = append(sinks, n)
			s.logger.Info("nats sink enabled", "subject", s.cfg.NATSSubject)
		}
	}
	if len(sinks) == 0 {
		return sink.Nop{}
	}
	return sinks
}

func migrateUp(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	p, err := migrations.NewProvider(db)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	res, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	logger.Info("database migrated", "applied", len(res))
	return nil
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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

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

	s.router.Use(s.requestIDMiddleware())
	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))

	// Request size limit (1MB)
	s.router.Use(validation.BodyLimit(validation.MaxRequestSize))

	// Probes, scrapes and the websocket upgrade are not rate limited
	s.rateLimiter = ratelimit.New(s.cfg.RateLimitRPM).
		Skip("/health", "/health/live", "/health/ready", "/metrics", "/ws").
		Cost("/relay/send", 5)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware keeps an upstream X-Request-ID (trimmed to 64
// bytes) or assigns a fresh one, and puts a tagged logger on the context.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := validation.Clean(c.GetHeader("X-Request-ID"), 64)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

// loggingMiddleware logs 5xx at error, 4xx at warn and the rest at debug.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		ctx := c.Request.Context()
		logging.L(ctx).Log(ctx, level, "request completed",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.health.Handler(Version))
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket threat stream
	s.router.GET("/ws", gin.WrapH(s.realtimeHub))

	s.router.GET("/", s.infoHandler)

	api := s.router.Group("")
	detection.NewHandler(s.manager).RegisterRoutes(api)
	simulation.NewHandler(s.simulation).RegisterRoutes(api)
	relay.NewHandler(s.relayClient).RegisterRoutes(api)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "mevguard",
		"version": Version,
		"feed":    s.cfg.FeedMode,
		"relay":   s.cfg.RelayConfigured(),
		"endpoints": []string{
			"POST /detect/start",
			"POST /detect/stop",
			"GET /detect/status",
			"GET /detect/sessions",
			"GET /detect/history",
			"POST /simulate/transaction",
			"GET /simulate/history",
			"POST /relay/send",
			"GET /ws",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the server and blocks until shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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
			"feed", s.cfg.FeedMode,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		if err := metrics.RegisterDB(s.db); err != nil {
			s.logger.Warn("database pool metrics unavailable", "error", err)
		}
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

// Shutdown stops detection sessions, drains HTTP and releases connections.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.manager.Shutdown(ctx)
	s.logger.Info("detection sessions stopped")

	// Hub and collectors exit once sessions no longer broadcast
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if err := s.sink.Close(); err != nil {
		s.logger.Error("event sink close error", "error", err)
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.mempool != nil {
		s.mempool.Close()
	}

	if s.chain != nil {
		s.chain.Close()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}
