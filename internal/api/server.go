// Package api 暴露 DefiFlow 的 HTTP 接口：图校验、命令提交、状态查询、
// 报价与名称解析、状态事件 websocket 以及 JSON-RPC 中继。
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"DefiFlow/internal/command"
	"DefiFlow/internal/engine"
	"DefiFlow/internal/events"
	"DefiFlow/internal/observability/metrics"
	"DefiFlow/internal/pricefeed"
	"DefiFlow/internal/quote"
	"DefiFlow/internal/resolver"
	"DefiFlow/pkg/logger"
)

// StateReader 提供执行状态快照。
type StateReader interface {
	State() engine.State
}

// PriceSource 返回最近一次价格。
type PriceSource interface {
	Latest() (pricefeed.Tick, bool)
}

// Dependencies 汇总 API 依赖的组件，未提供的组件对应接口返回 503。
type Dependencies struct {
	Commands        *command.Service
	State           StateReader
	Events          *events.Bus
	Quotes          *quote.Engine
	Resolver        *resolver.Resolver
	Prices          PriceSource
	Relay           http.Handler
	Metrics         *metrics.Collector
	ExposeMetrics   bool
	AmountTolerance decimal.Decimal
	CommandTimeout  time.Duration
	// QuoteDebounce 与 ResolveDebounce 作用于 /api/v1/editor 会话中的输入框。
	QuoteDebounce   time.Duration
	ResolveDebounce time.Duration
}

// Server 负责暴露 REST 与 websocket 接口。
type Server struct {
	addr     string
	deps     Dependencies
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies) *Server {
	if deps.CommandTimeout <= 0 {
		deps.CommandTimeout = 30 * time.Second
	}
	return &Server{
		addr: addr,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger.Named("api"),
	}
}

// Handler 返回注册了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/graphs/validate", s.handleValidate)
	s.route(mux, "POST /api/v1/graphs/from-intent", s.handleFromIntent)
	s.route(mux, "POST /api/v1/run/start", s.handleStart)
	s.route(mux, "POST /api/v1/run/stop", s.handleCommand(command.TypeStop))
	s.route(mux, "POST /api/v1/run/reset", s.handleCommand(command.TypeReset))
	s.route(mux, "GET /api/v1/run/state", s.handleState)
	s.route(mux, "GET /api/v1/commands/{id}", s.handleCommandOutcome)
	s.route(mux, "GET /api/v1/quote", s.handleQuote)
	s.route(mux, "GET /api/v1/resolve", s.handleResolve)
	s.route(mux, "GET /api/v1/price", s.handlePrice)
	s.route(mux, "GET /api/v1/events", s.handleEvents)
	s.route(mux, "GET /api/v1/editor", s.handleEditor)
	if s.deps.Relay != nil {
		s.route(mux, "POST /api/rpc", s.deps.Relay.ServeHTTP)
	}
	if s.deps.ExposeMetrics && s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	path := pattern
	if i := strings.IndexByte(pattern, ' '); i >= 0 {
		path = pattern[i+1:]
	}
	mux.Handle(pattern, s.instrument(path, h))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("address", s.addr))

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
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
