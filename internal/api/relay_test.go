package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newUpstream(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/secret-key") {
			http.Error(w, "missing key", http.StatusUnauthorized)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x1"}`))
	}))
	t.Cleanup(up.Close)
	return up
}

func TestRelayForwardsAllowedMethods(t *testing.T) {
	var hits atomic.Int32
	up := newUpstream(t, &hits)
	relay, err := NewRelay(RelayConfig{
		Upstream:       up.URL + "/v2/",
		APIKey:         "secret-key",
		AllowedMethods: []string{"eth_call", "eth_chainId"},
	})
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	h := newHarness(t, relay)

	resp, body := h.do(t, http.MethodPost, "/api/rpc", `{"jsonrpc":"2.0","id":1,"method":"eth_chainId","params":[]}`)
	if resp.StatusCode != http.StatusOK || body["result"] != "0x1" {
		t.Fatalf("unexpected relay response %d %v", resp.StatusCode, body)
	}

	batch := `[{"jsonrpc":"2.0","id":1,"method":"eth_call","params":[]},{"jsonrpc":"2.0","id":2,"method":"eth_sendRawTransaction","params":[]}]`
	resp, _ = h.do(t, http.MethodPost, "/api/rpc", batch)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("batch with a denied method should be 403, got %d", resp.StatusCode)
	}
	if hits.Load() != 1 {
		t.Fatalf("denied request reached upstream: %d hits", hits.Load())
	}

	resp, _ = h.do(t, http.MethodGet, "/api/rpc", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET should be rejected, got %d", resp.StatusCode)
	}
}

func TestRelayRateLimit(t *testing.T) {
	var hits atomic.Int32
	up := newUpstream(t, &hits)
	relay, err := NewRelay(RelayConfig{
		Upstream:       up.URL + "/",
		APIKey:         "secret-key",
		AllowedMethods: []string{"eth_blockNumber"},
		RatePerSecond:  0.001,
		Burst:          1,
	})
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	h := newHarness(t, relay)

	call := `{"jsonrpc":"2.0","id":1,"method":"eth_blockNumber","params":[]}`
	if resp, _ := h.do(t, http.MethodPost, "/api/rpc", call); resp.StatusCode != http.StatusOK {
		t.Fatalf("first call should pass, got %d", resp.StatusCode)
	}
	if resp, _ := h.do(t, http.MethodPost, "/api/rpc", call); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second call should be limited, got %d", resp.StatusCode)
	}
}

func TestRelayRequiresUpstream(t *testing.T) {
	if _, err := NewRelay(RelayConfig{}); err == nil {
		t.Fatalf("expected error for empty upstream")
	}
}
