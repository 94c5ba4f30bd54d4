package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func TestParseTrade(t *testing.T) {
	tick, err := ParseTrade([]byte(`{"e":"trade","s":"ETHUSDC","p":"3001.50","q":"0.1","T":1700000000000}`))
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if tick.Instrument != "ETHUSDC" || !tick.Price.Equal(decimal.RequireFromString("3001.5")) {
		t.Fatalf("tick = %+v", tick)
	}
	if tick.At.UnixMilli() != 1700000000000 {
		t.Fatalf("time = %v", tick.At)
	}
	if _, err := ParseTrade([]byte(`{"result":null,"id":1}`)); err == nil {
		t.Fatalf("control message parsed as trade")
	}
}

func TestClientReconnectsAndKeepsDelivering(t *testing.T) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := connections.Add(1)
		price := "2999"
		if n > 1 {
			price = "3001"
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"s":"ETHUSDC","p":"`+price+`"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), WithBackoff(5*time.Millisecond, 20*time.Millisecond))
	ticks := make(chan Tick, 16)
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx, func(t Tick) { ticks <- t }) }()

	var got []string
	for len(got) < 2 {
		select {
		case tick := <-ticks:
			got = append(got, tick.Price.String())
		case <-ctx.Done():
			t.Fatalf("only received %v", got)
		}
	}
	if got[0] != "2999" || got[1] != "3001" {
		t.Fatalf("ticks = %v", got)
	}
	if latest, ok := client.Latest(); !ok || latest.Instrument != "ETHUSDC" {
		t.Fatalf("latest = %+v", latest)
	}

	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("Run returned nil after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestHubKeepsNewestForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, release := h.Subscribe(1)
	defer release()
	for _, p := range []string{"1", "2", "3"} {
		h.Publish(Tick{Price: decimal.RequireFromString(p)})
	}
	if tick := <-ch; tick.Price.String() != "3" {
		t.Fatalf("slow subscriber got %s", tick.Price)
	}
	release()
	release()
	h.Publish(Tick{})
}
