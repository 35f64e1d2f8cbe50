package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/spatialviewer/backend/internal/api/http"
	"github.com/spatialviewer/backend/internal/api/middleware"
	"github.com/spatialviewer/backend/internal/api/ws"
	"github.com/spatialviewer/backend/internal/assets"
	"github.com/spatialviewer/backend/internal/domain/codec"
	"github.com/spatialviewer/backend/internal/domain/manifest"
	"github.com/spatialviewer/backend/internal/domain/progress"
	"github.com/spatialviewer/backend/internal/domain/registry"
	"github.com/spatialviewer/backend/internal/infrastructure/config"
	"github.com/spatialviewer/backend/internal/infrastructure/logging"
	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
	"github.com/spatialviewer/backend/internal/infrastructure/tracing"
	"github.com/spatialviewer/backend/internal/proxy"
	"github.com/spatialviewer/backend/internal/upstream"
)

// Server wraps the HTTP server and dependencies.
type Server struct {
	config   *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	codec    *codec.Codec
	hub      *progress.Hub
	pages    *registry.Manager
	relay    *ws.Relay
	upstream *upstream.Client

	control *gin.Engine
	frames  *gin.Engine
	http    *http.Server
	// cancel ends the base context of every request, closing open streams.
	cancel context.CancelFunc
}

// Option customises a Server.
type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport replaces the upstream transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// New creates a server instance.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	logger.Info("Initializing spatial viewer backend",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("scheme", cfg.Proxy.Scheme()),
		zap.Int("public_port", cfg.Proxy.PublicPort),
		zap.Bool("multi_page", cfg.Registry.MultiPage),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("spatial-viewer", logger.Logger)

	c := codec.New(cfg.Proxy.Production, cfg.Proxy.PublicPort)
	hub := progress.NewHub(logger.Logger, metrics)

	client := upstream.New(upstream.Config{
		UserAgent:           cfg.Proxy.UserAgent,
		Timeout:             cfg.Proxy.UpstreamTimeout,
		BreakerEnabled:      cfg.Breaker.Enabled,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Breaker.OpenTimeout,
		BreakerIdleTTL:      cfg.Breaker.IdleTTL,
		Transport:           o.transport,
		Logger:              logger.Logger,
		Metrics:             metrics,
	})

	loader := manifest.NewLoader(client, c, logger.Logger)
	pages := registry.NewManager(registry.Config{MultiPage: cfg.Registry.MultiPage}, c, hub, loader, logger.Logger, metrics)
	relay := ws.NewRelay(pages, ws.Config{AllowedOrigins: cfg.Server.ControllerOrigins}, logger.Logger, metrics)
	pages.SetNotifier(relay)

	p, err := proxy.New(proxy.Config{
		BridgeSrc:        "/lib/" + cfg.Proxy.BridgeEntry,
		MaxDocumentBytes: cfg.Proxy.MaxDocumentBytes,
		AllowedHosts:     cfg.Proxy.AllowedHosts,
	}, c, client, hub, logger.Logger, metrics)
	if err != nil {
		pages.Close()
		tracer.Close()
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}
	p.OnManifest(pages.HintManifest)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	handlers := apihttp.NewHandlers(pages, hub, client, metrics, logger.Logger)
	lib := assets.FileSystem(cfg.Proxy.LibDir)

	frames := gin.New()
	frames.Use(gin.Recovery())
	frames.Use(tracing.HTTPMiddleware(tracer))
	frames.Use(monitoring.Middleware(metrics, "proxy"))
	frames.StaticFS("/lib", lib)
	frames.GET("/events/:pageId", handlers.Events)
	frames.NoRoute(p.Serve)

	control := gin.New()
	control.Use(gin.Recovery())
	control.Use(tracing.HTTPMiddleware(tracer))
	control.Use(monitoring.Middleware(metrics, "control"))
	control.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	// Streams and static assets are not rate limited.
	control.StaticFS("/lib", lib)
	control.GET("/events/:pageId", handlers.Events)
	control.GET("/bridge", relay.HandleConnection)

	api := control.Group("/")
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		api.Use(middleware.RateLimit(limits))
	}
	api.GET("/", handlers.Root)
	api.GET("/health", handlers.Health)
	api.GET("/metrics", handlers.Metrics)
	api.GET("/metrics/json", handlers.MetricsJSON)
	api.POST("/pages", handlers.SubmitPage)
	api.GET("/pages", handlers.ListPages)
	api.GET("/pages/:id", handlers.GetPage)
	api.POST("/pages/:id/navigate", handlers.NavigatePage)
	api.DELETE("/pages/:id", handlers.DisposePage)

	// Everything else is answered by the proxy, which rejects the
	// non-synthetic host.
	control.NoRoute(p.Serve)

	s := &Server{
		config:   cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		codec:    c,
		hub:      hub,
		pages:    pages,
		relay:    relay,
		upstream: client,
		control:  control,
		frames:   frames,
	}
	base, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.http = &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return base },
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// Handler routes synthetic hosts to the proxy and everything else to the
// control API.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if codec.IsSynthetic(r.Host) {
			s.frames.ServeHTTP(w, r)
			return
		}
		s.control.ServeHTTP(w, r)
	})
}

// Pages returns the page registry.
func (s *Server) Pages() *registry.Manager {
	return s.pages
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, drains in-flight ones and releases
// every page.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	// Long-lived streams would otherwise hold Shutdown until ctx expires.
	s.cancel()
	s.relay.Close()
	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Error("HTTP shutdown incomplete", zap.Error(err))
	}

	s.pages.Close()
	s.tracer.Close()
	return err
}
