package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"DefiFlow/internal/command"
	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/flow"
)

const maxBodyBytes = 1 << 20

func decodeGraph(r *http.Request) (flow.Graph, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return flow.Graph{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "读取请求体失败")
	}
	g, err := flow.DecodeGraph(data)
	if err != nil {
		if _, ok := apperrors.From(err); ok {
			return flow.Graph{}, err
		}
		return flow.Graph{}, apperrors.Wrap(apperrors.CodeInvalidArgument, err, err.Error())
	}
	return g, nil
}

type validateResponse struct {
	Valid   bool      `json:"valid"`
	Rule    flow.Rule `json:"rule,omitempty"`
	NodeIDs []string  `json:"nodeIds,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	g, err := decodeGraph(r)
	if err != nil {
		writeError(w, err)
		return
	}
	err = flow.Validate(g, flow.WithAmountTolerance(s.deps.AmountTolerance))
	if err == nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: true})
		return
	}
	var verr *flow.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, validateResponse{Rule: verr.Rule, NodeIDs: verr.NodeIDs, Reason: verr.Reason})
		return
	}
	writeError(w, err)
}

type intentRequest struct {
	Intent         json.RawMessage `json:"intent"`
	Memo           string          `json:"memo"`
	TransferAmount string          `json:"transferAmount"`
}

func (s *Server) handleFromIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	opts := flow.IntentOptions{Memo: req.Memo}
	if strings.TrimSpace(req.TransferAmount) != "" {
		amount, err := decimal.NewFromString(strings.TrimSpace(req.TransferAmount))
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, err, "transferAmount 无法解析"))
			return
		}
		opts.TransferAmount = amount
	}
	g, err := flow.DecodeIntent(req.Intent, opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	g, err := decodeGraph(r)
	if err != nil {
		writeError(w, err)
		return
	}
	s.submit(w, r, command.Command{Type: command.TypeStart, Graph: &g})
}

func (s *Server) handleCommand(kind command.Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.submit(w, r, command.Command{Type: kind})
	}
}

// submit 把命令放入队列并等待单消费者处理完成，这样本地错误（校验、解析、
// 非法迁移）可以同步返回给调用方。
func (s *Server) submit(w http.ResponseWriter, r *http.Request, cmd command.Command) {
	if s.deps.Commands == nil {
		writeError(w, apperrors.New(apperrors.CodeInitializationFailure, "命令服务未初始化"))
		return
	}
	outcome, err := s.deps.Commands.SubmitAndWait(r.Context(), cmd, s.deps.CommandTimeout)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeTimeout) {
			writeJSON(w, http.StatusAccepted, outcome)
			return
		}
		writeError(w, err)
		return
	}
	if outcome.Err != nil {
		writeError(w, outcome.Err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleCommandOutcome(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	outcome, ok := s.deps.Commands.Outcome(id)
	if !ok {
		writeError(w, apperrors.Newf(apperrors.CodeNotFound, "命令 %s 不存在或结果已过期", id))
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.deps.State == nil {
		writeError(w, apperrors.New(apperrors.CodeInitializationFailure, "执行引擎未初始化"))
		return
	}
	writeJSON(w, http.StatusOK, s.deps.State.State())
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quotes == nil {
		writeError(w, apperrors.New(apperrors.CodeInitializationFailure, "报价服务未初始化"))
		return
	}
	q, err := s.deps.Quotes.QuoteString(r.Context(), r.URL.Query().Get("output"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

type resolveResponse struct {
	Input    string `json:"input"`
	Address  string `json:"address,omitempty"`
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if s.deps.Resolver == nil {
		writeError(w, apperrors.New(apperrors.CodeInitializationFailure, "名称解析未初始化"))
		return
	}
	input := strings.TrimSpace(r.URL.Query().Get("name"))
	if input == "" {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "缺少 name 参数"))
		return
	}
	addr, err := s.deps.Resolver.Resolve(r.Context(), input)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeResolution) {
			writeJSON(w, http.StatusOK, resolveResponse{Input: input, Reason: apperrors.Reason(err)})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Input: input, Address: addr.Hex(), Verified: true})
}

func (s *Server) handlePrice(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Prices == nil {
		writeError(w, apperrors.New(apperrors.CodeInitializationFailure, "价格流未初始化"))
		return
	}
	tick, ok := s.deps.Prices.Latest()
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "尚未收到价格"))
		return
	}
	writeJSON(w, http.StatusOK, tick)
}
