package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"WalletHub/internal/auth"
	"WalletHub/internal/observability/alerting"
	"WalletHub/internal/observability/metrics"
	"WalletHub/internal/pipeline"
	"WalletHub/internal/web3"
	"WalletHub/internal/workflow"
	"WalletHub/pkg/logger"

	"github.com/gorilla/mux"
)

// IntentBuilder 是 /intents/build 依赖的流水线能力。
type IntentBuilder interface {
	Build(ctx context.Context, req pipeline.BuildRequest) (*pipeline.BuildOutput, error)
}

// WorkflowCatalog 列出已注册的工作流。
type WorkflowCatalog interface {
	Catalog() []workflow.Metadata
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr              string
	readHeaderTimeout time.Duration
	builder           IntentBuilder
	catalog           WorkflowCatalog
	chains            *web3.ChainRegistry
	auth              *auth.Service
	metrics           *metrics.Collector
	serveMetrics      bool
	alerts            alerting.Dispatcher
	log               *slog.Logger
	audit             *slog.Logger
}

// Option 定义可选配置。
type Option func(*Server)

// WithAuth 配置认证服务，未配置时使用 disabled 模式。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		if svc != nil {
			s.auth = svc
		}
	}
}

// WithMetrics 启用请求指标，并在同一端口挂载 /metrics。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
		s.serveMetrics = c != nil
	}
}

// WithRequestMetrics 只记录请求指标，/metrics 由独立的指标服务暴露。
func WithRequestMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
		s.serveMetrics = false
	}
}

// WithAlerts 配置告警分发器。
func WithAlerts(d alerting.Dispatcher) Option {
	return func(s *Server) { s.alerts = d }
}

// WithReadHeaderTimeout 设置读取请求头的超时。
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readHeaderTimeout = d
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, builder IntentBuilder, catalog WorkflowCatalog, chains *web3.ChainRegistry, opts ...Option) *Server {
	s := &Server{
		addr:              addr,
		readHeaderTimeout: 5 * time.Second,
		builder:           builder,
		catalog:           catalog,
		chains:            chains,
		log:               logger.Named("api"),
		audit:             logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.auth == nil {
		s.auth, _ = auth.NewService(auth.Config{Mode: auth.ModeDisabled})
	}
	return s
}

// Handler 返回完整的路由树。
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.instrument, s.recoverPanic)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.serveMetrics {
		router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/workflows", s.handleWorkflows).Methods(http.MethodGet)
	v1.HandleFunc("/chains", s.handleChains).Methods(http.MethodGet)

	build := s.auth.Middleware()(http.HandlerFunc(s.handleBuildIntent))
	v1.Handle("/intents/build", build).Methods(http.MethodPost)
	router.Handle("/intents/build", build).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	return router
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: s.readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
