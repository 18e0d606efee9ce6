package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/docflow/internal/config"
	documentdomain "github.com/smallbiznis/docflow/internal/document/domain"
	"github.com/smallbiznis/docflow/internal/document/render"
	"github.com/smallbiznis/docflow/internal/observability"
	obslogger "github.com/smallbiznis/docflow/internal/observability/logger"
	"github.com/smallbiznis/docflow/internal/observability/metrics"
	obstracing "github.com/smallbiznis/docflow/internal/observability/tracing"
	"github.com/smallbiznis/docflow/internal/ratelimit"
	sequencedomain "github.com/smallbiznis/docflow/internal/sequence/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(func(*Server) {}),
	fx.Invoke(run),
)

type ServerParams struct {
	fx.In

	Gin       *gin.Engine
	Cfg       config.Config
	Log       *zap.Logger
	DocSvc    documentdomain.Service
	Allocator sequencedomain.Allocator
	Renderer  render.Renderer
	Settings  *config.SettingsHolder     `optional:"true"`
	Limiter   *ratelimit.DocumentLimiter `optional:"true"`
	Metrics   *metrics.EngineMetrics     `optional:"true"`
}

func NewEngine(obsCfg observability.Config, gatherer prometheus.Gatherer) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if obsCfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return r
}

func registerGin(obsCfg observability.Config, gatherer prometheus.Gatherer) *gin.Engine {
	return NewEngine(obsCfg, gatherer)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server starting", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine    *gin.Engine
	cfg       config.Config
	log       *zap.Logger
	docSvc    documentdomain.Service
	allocator sequencedomain.Allocator
	renderer  render.Renderer
	settings  *config.SettingsHolder
	limiter   writeLimiter
	metrics   *metrics.EngineMetrics
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:    p.Gin,
		cfg:       p.Cfg,
		log:       p.Log.Named("http"),
		docSvc:    p.DocSvc,
		allocator: p.Allocator,
		renderer:  p.Renderer,
		settings:  p.Settings,
		metrics:   p.Metrics,
	}
	if p.Limiter.Enabled() {
		svc.limiter = p.Limiter
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/v1")

	docs := api.Group("/documents")
	docs.GET("", s.ListDocuments)
	docs.GET("/:id", s.GetDocument)
	docs.GET("/:id/pdf", s.RenderDocument)

	writes := docs.Group("", s.WriteRateLimit())
	writes.POST("", s.CreateDocument)
	writes.PUT("/:id/items", s.UpdateDocumentItems)
	writes.PATCH("/:id/status", s.UpdateDocumentStatus)
	writes.DELETE("/:id", s.DeleteDocument)
	writes.POST("/:id/duplicate", s.DuplicateDocument)
	writes.POST("/:id/derive", s.DeriveDocument)

	api.GET("/sequences/next", s.PeekSequence)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
