package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/pkg/logger"
)

// RelayConfig 描述 JSON-RPC 中继的上游与访问限制。
type RelayConfig struct {
	Upstream       string
	APIKey         string
	AllowedMethods []string
	RatePerSecond  float64
	Burst          int
	Timeout        time.Duration
}

// Relay 把浏览器或本地解析器的 JSON-RPC 请求转发到上游节点服务，
// 上游凭据只在服务端拼接。
type Relay struct {
	target  string
	allowed map[string]struct{}
	limiter *rate.Limiter
	client  *http.Client
	logger  *slog.Logger
}

// NewRelay 构造中继。RatePerSecond 不大于 0 时不限速。
func NewRelay(cfg RelayConfig) (*Relay, error) {
	upstream := strings.TrimSpace(cfg.Upstream)
	if upstream == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "中继上游地址不能为空")
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMethods))
	for _, m := range cfg.AllowedMethods {
		allowed[strings.TrimSpace(m)] = struct{}{}
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Relay{
		target:  upstream + cfg.APIKey,
		allowed: allowed,
		limiter: limiter,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.Named("relay"),
	}, nil
}

type rpcRequest struct {
	Method string `json:"method"`
}

// methods 同时支持单个请求与批量请求。
func methods(body []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []rpcRequest
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, err
		}
		out := make([]string, 0, len(batch))
		for _, req := range batch {
			out = append(out, req.Method)
		}
		return out, nil
	}
	var single rpcRequest
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []string{single.Method}, nil
}

func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "读取请求体失败"))
		return
	}
	names, err := methods(body)
	if err != nil || len(names) == 0 {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "请求体不是合法的 JSON-RPC"))
		return
	}
	for _, name := range names {
		if _, ok := r.allowed[name]; !ok {
			writeError(w, apperrors.Newf(apperrors.CodeForbidden, "方法不在允许列表中: %s", name))
			return
		}
	}
	if !r.limiter.Allow() {
		writeError(w, apperrors.New(apperrors.CodeRateLimited, "请求过于频繁"))
		return
	}

	status, payload, err := r.forward(req.Context(), body)
	if err != nil {
		r.logger.Warn("中继请求失败", slog.Any("error", err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Code: apperrors.CodeUnknown, Message: "上游节点不可用"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}

func (r *Relay) forward(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4*maxBodyBytes))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, payload, nil
}
