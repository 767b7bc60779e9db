package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"xoracle/internal/application/service"
	"xoracle/internal/domain/model"
)

// Ledger 由 service.PriceLedger 实现
type Ledger interface {
	RecordPrice(ctx context.Context, caller model.Identity, price uint64) (uint64, error)
	GetPrice(ctx context.Context) (uint64, error)
	LatestPrice(ctx context.Context) (model.PriceEntry, error)
	GetPriceRange(ctx context.Context, start, end uint64) ([]model.PriceEntry, error)
	Length() uint64
	Heartbeat() uint64
	SetHeartbeat(ctx context.Context, caller model.Identity, seconds uint64) error
	TransferUpstreamOwnership(ctx context.Context, caller, newOwner model.Identity) error
	Snapshot() service.Snapshot
}

// RoleManager 由 auth.RoleTable 实现
type RoleManager interface {
	Grant(ctx context.Context, caller model.Identity, role model.Role, member model.Identity) error
	Revoke(ctx context.Context, caller model.Identity, role model.Role, member model.Identity) error
	Members(role model.Role) []model.Identity
}

type TokenVerifier interface {
	Verify(raw string) (model.Identity, error)
}

type HTTPObserver interface {
	ObserveHTTP(route, method string, status int, elapsed time.Duration)
}

type Options struct {
	Addr          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	RateLimit     float64 // per client IP, 0 disables
	RateBurst     int
	PriceDecimals int32
}

type Deps struct {
	Ledger  Ledger
	Roles   RoleManager
	Tokens  TokenVerifier
	Events  http.Handler // websocket hub, optional
	Metrics HTTPObserver // optional
	Scrape  http.Handler // /metrics, optional
}

type Server struct {
	router *gin.Engine
	opts   Options
	deps   Deps
}

func NewServer(opts Options, deps Deps) *Server {
	if opts.PriceDecimals <= 0 {
		opts.PriceDecimals = model.DefaultPriceDecimals
	}
	s := &Server{opts: opts, deps: deps}
	s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware())
	if s.deps.Metrics != nil {
		r.Use(MetricsMiddleware(s.deps.Metrics))
	}
	if s.opts.RateLimit > 0 {
		r.Use(RateLimitMiddleware(s.opts.RateLimit, s.opts.RateBurst))
	}

	r.GET("/health", s.handleHealth)
	if s.deps.Scrape != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Scrape))
	}

	v1 := r.Group("/v1")
	{
		v1.GET("/price", s.handleGetPrice)
		v1.GET("/prices", s.handleGetPriceRange)
		v1.GET("/prices/length", s.handleLength)
		v1.GET("/heartbeat", s.handleGetHeartbeat)
		v1.GET("/status", s.handleStatus)
		v1.GET("/roles/:role/members", s.handleListMembers)
		if s.deps.Events != nil {
			v1.GET("/events", gin.WrapH(s.deps.Events))
		}

		authed := v1.Group("")
		authed.Use(AuthMiddleware(s.deps.Tokens))
		{
			authed.POST("/prices", s.handleRecordPrice)
			authed.PUT("/heartbeat", s.handleSetHeartbeat)
			authed.POST("/upstream/owner", s.handleTransferOwnership)
			authed.POST("/roles/:role/members/:member", s.handleGrant)
			authed.DELETE("/roles/:role/members/:member", s.handleRevoke)
		}
	}

	s.router = r
}

// Run 监听直到 ctx 取消，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.opts.Addr).Msg("http server listening")
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("http server stopped")
	return nil
}
