package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/flow"
	"DefiFlow/internal/quote"
	"DefiFlow/internal/resolver"
)

// editorMessage 是编辑器会话的上行消息。
//
//	{"type":"quote","value":"3000"}
//	{"type":"recipient","field":"r-1","value":"alice.eth","amount":"1500"}
type editorMessage struct {
	Type   string `json:"type"`
	Field  string `json:"field,omitempty"`
	Value  string `json:"value"`
	Amount string `json:"amount,omitempty"`
}

// editorUpdate 是防抖结果落定后推送给客户端的消息。
type editorUpdate struct {
	Type      string          `json:"type"`
	Field     string          `json:"field,omitempty"`
	Quote     *quote.Quote    `json:"quote,omitempty"`
	Recipient *flow.Recipient `json:"recipient,omitempty"`
	Code      apperrors.Code  `json:"code,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// editorSession 为一个连接维护报价输入框与各收款人输入框。
type editorSession struct {
	ctx   context.Context
	deps  Dependencies
	out   chan editorUpdate
	quote *quote.Field

	mu         sync.Mutex
	recipients map[string]*resolver.RecipientField
}

func (s *editorSession) push(u editorUpdate) {
	select {
	case s.out <- u:
	case <-s.ctx.Done():
	}
}

func (s *editorSession) apply(msg editorMessage) {
	switch msg.Type {
	case "quote":
		if s.quote == nil {
			s.push(editorUpdate{Type: "quote", Code: apperrors.CodeInitializationFailure, Error: "报价服务未初始化"})
			return
		}
		s.quote.Edit(msg.Value)
	case "recipient":
		if s.deps.Resolver == nil {
			s.push(editorUpdate{Type: "recipient", Field: msg.Field, Code: apperrors.CodeInitializationFailure, Error: "名称解析未初始化"})
			return
		}
		field := s.recipient(msg.Field)
		if amount, err := decimal.NewFromString(strings.TrimSpace(msg.Amount)); err == nil {
			field.SetAmount(amount)
		}
		field.Edit(msg.Value)
	default:
		s.push(editorUpdate{Type: msg.Type, Code: apperrors.CodeInvalidArgument, Error: "未知的消息类型"})
	}
}

func (s *editorSession) recipient(id string) *resolver.RecipientField {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.recipients[id]; ok {
		return f
	}
	var f *resolver.RecipientField
	f = resolver.NewRecipientField(s.ctx, s.deps.Resolver, flow.Recipient{}, s.deps.ResolveDebounce, func(r flow.Recipient) {
		u := editorUpdate{Type: "recipient", Field: id, Recipient: &r}
		if err := f.Err(); err != nil {
			u.Code, u.Error = apperrors.CodeOf(err), apperrors.Reason(err)
		}
		s.push(u)
	})
	s.recipients[id] = f
	return f
}

func (s *editorSession) close() {
	if s.quote != nil {
		s.quote.Close()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.recipients {
		f.Close()
	}
}

// handleEditor 提供编辑器输入框的实时报价与名称解析：每个输入框独立防抖，
// 过期的结果直接丢弃。
func (s *Server) handleEditor(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket 升级失败", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := &editorSession{
		ctx:        ctx,
		deps:       s.deps,
		out:        make(chan editorUpdate, 16),
		recipients: make(map[string]*resolver.RecipientField),
	}
	if s.deps.Quotes != nil {
		session.quote = quote.NewField(ctx, s.deps.Quotes, s.deps.QuoteDebounce, func(q quote.Quote, err error) {
			u := editorUpdate{Type: "quote"}
			if err != nil {
				u.Code, u.Error = apperrors.CodeOf(err), apperrors.Reason(err)
			} else {
				u.Quote = &q
			}
			session.push(u)
		})
	}
	defer session.close()

	go func() {
		defer cancel()
		for {
			var msg editorMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			session.apply(msg)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-session.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(u); err != nil {
				return
			}
		}
	}
}
