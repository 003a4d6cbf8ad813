package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/voicemeter/internal/config"
	enforcementdomain "github.com/smallbiznis/voicemeter/internal/enforcement/domain"
	obslogger "github.com/smallbiznis/voicemeter/internal/observability/logger"
	obstracing "github.com/smallbiznis/voicemeter/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/voicemeter/internal/payment/domain"
	"github.com/smallbiznis/voicemeter/internal/ratelimit"
	"github.com/smallbiznis/voicemeter/internal/scheduler"
	"github.com/smallbiznis/voicemeter/internal/usage/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxWebhookBytes = 1 << 20

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(func(s *scheduler.Scheduler) BillingJobs { return s }),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware())
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
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
	engine         *gin.Engine
	cfg            config.Config
	db             *gorm.DB
	redis          *redis.Client
	log            *zap.Logger
	webhookSvc     paymentdomain.WebhookService
	callIngestor   CallIngestor
	ingestLimiter  *ratelimit.IngestLimiter
	enforcementSvc enforcementdomain.Service
	jobs           BillingJobs
}

type ServerParams struct {
	fx.In

	Gin            *gin.Engine
	Cfg            config.Config
	DB             *gorm.DB
	Redis          *redis.Client `optional:"true"`
	Log            *zap.Logger
	WebhookSvc     paymentdomain.WebhookService
	CallIngestor   *telemetry.Ingestor
	IngestLimiter  *ratelimit.IngestLimiter `optional:"true"`
	EnforcementSvc enforcementdomain.Service
	Jobs           BillingJobs
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:         p.Gin,
		cfg:            p.Cfg,
		db:             p.DB,
		redis:          p.Redis,
		log:            p.Log.Named("http"),
		webhookSvc:     p.WebhookSvc,
		ingestLimiter:  p.IngestLimiter,
		enforcementSvc: p.EnforcementSvc,
		jobs:           p.Jobs,
	}
	if p.CallIngestor != nil {
		svc.callIngestor = p.CallIngestor
	}

	svc.registerHealthRoutes()
	svc.registerWebhookRoutes()
	svc.registerInternalRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerHealthRoutes() {
	s.engine.GET("/healthz", s.Health)
}

func (s *Server) registerWebhookRoutes() {
	webhooks := s.engine.Group("/webhooks")
	webhooks.POST("/paddle", s.HandlePaddleWebhook)
	webhooks.POST("/voice", s.IngestRateLimit(), s.HandleVoiceWebhook)
}

func (s *Server) registerInternalRoutes() {
	billing := s.engine.Group("/internal/billing", s.CronSecretRequired())
	billing.POST("/finalize", s.TriggerFinalize)
	billing.POST("/charge", s.TriggerCharge)
	billing.POST("/enforce", s.TriggerEnforce)
	billing.POST("/enforce/:clientId", s.EnforceClient)
}
