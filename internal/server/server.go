package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ageniuscoder/roomtalk/backend/internal/auth"
	"github.com/ageniuscoder/roomtalk/backend/internal/chat"
	"github.com/ageniuscoder/roomtalk/backend/internal/config"
	"github.com/ageniuscoder/roomtalk/backend/internal/conversations"
	"github.com/ageniuscoder/roomtalk/backend/internal/events"
	"github.com/ageniuscoder/roomtalk/backend/internal/feature"
	"github.com/ageniuscoder/roomtalk/backend/internal/httpx"
	"github.com/ageniuscoder/roomtalk/backend/internal/messages"
	"github.com/ageniuscoder/roomtalk/backend/internal/metrics"
	"github.com/ageniuscoder/roomtalk/backend/internal/presence"
	"github.com/ageniuscoder/roomtalk/backend/internal/storage"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Deps are the collaborators a Server is built from.
type Deps struct {
	Store     storage.Store
	Presence  presence.Tracker
	Publisher events.Publisher
	Verifier  auth.Verifier
	Logger    *zap.Logger
}

// Server holds the HTTP engine, the event router and everything they share.
type Server struct {
	cfg     *config.Config
	deps    Deps
	log     *zap.Logger
	metrics *metrics.Metrics
	router  *chat.Router
	engine  *gin.Engine
	srv     *http.Server
}

func New(cfg *config.Config, deps Deps) *Server {
	if cfg.Dev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := metrics.New()
	router := chat.NewRouter(chat.Options{
		Store:           deps.Store,
		Presence:        deps.Presence,
		Publisher:       deps.Publisher,
		Metrics:         m,
		Logger:          log,
		WriteWait:       cfg.WS.WriteWait,
		PongWait:        cfg.WS.PongWait,
		MaxMessageSize:  cfg.WS.MaxMessageSize,
		SendBuffer:      cfg.WS.SendBuffer,
		EventsPerSecond: cfg.WS.EventsPerSecond,
		Burst:           cfg.WS.Burst,
		StoreTimeout:    cfg.Store.Timeout,
	})

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log.Named("server"),
		metrics: m,
		router:  router,
	}
	s.engine = s.routes()
	s.srv = &http.Server{
		Addr:              cfg.App.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery(), s.requestLog())

	e.GET("/healthz", s.health)
	e.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	chat.RegisterWS(e, s.router, s.deps.Verifier)

	api := e.Group("/api/v1")
	api.Use(auth.JWTMiddleware(s.deps.Verifier))
	conversations.Register(api, s.deps.Store, s.router, s.log)
	messages.Register(api, s.deps.Store, s.router, s.log)
	feature.Register(api, s.deps.Presence, s.log)
	return e
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			s.log.Error("request", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		s.log.Debug("request", fields...)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.deps.Store.Ping(c.Request.Context()); err != nil {
		s.log.Warn("health check", zap.Error(err))
		httpx.Err(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	httpx.OK(c, gin.H{"status": "ok"})
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) Router() *chat.Router { return s.router }

// Run serves until ctx is done, then drains connections within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	routerCtx, stopRouter := context.WithCancel(context.Background())
	defer stopRouter()
	go s.router.Run(routerCtx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.App.ShutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	// hijacked websocket connections are not covered by Shutdown
	stopRouter()
	return err
}
