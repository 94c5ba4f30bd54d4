package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/flow"
)

type errorResponse struct {
	Code     apperrors.Code    `json:"code"`
	Message  string            `json:"message"`
	Rule     flow.Rule         `json:"rule,omitempty"`
	NodeIDs  []string          `json:"nodeIds,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Code: apperrors.CodeOf(err), Message: apperrors.Reason(err)}
	if e, ok := apperrors.From(err); ok {
		resp.Metadata = e.Metadata()
	}
	var verr *flow.ValidationError
	if errors.As(err, &verr) {
		resp.Rule, resp.NodeIDs, resp.Message = verr.Rule, verr.NodeIDs, verr.Reason
	}
	writeJSON(w, statusOf(resp.Code), resp)
}

func statusOf(code apperrors.Code) int {
	switch code {
	case apperrors.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperrors.CodeForbidden:
		return http.StatusForbidden
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeConflict, apperrors.CodeInvalidTransition:
		return http.StatusConflict
	case apperrors.CodeValidation, apperrors.CodeResolution, apperrors.CodeQuoteUnavailable, apperrors.CodeNoQuote:
		return http.StatusUnprocessableEntity
	case apperrors.CodeNoAccount:
		return http.StatusPreconditionFailed
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CodeInitializationFailure, apperrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// statusRecorder 记录响应码；保留 Hijacker 以便 websocket 升级。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) instrument(pattern string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		h(rec, r)
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveHTTPRequest(pattern, r.Method, rec.status, time.Since(started))
		}
	})
}
