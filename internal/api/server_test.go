package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"DefiFlow/internal/command"
	"DefiFlow/internal/engine"
	apperrors "DefiFlow/internal/errors"
	"DefiFlow/internal/events"
	"DefiFlow/internal/flow"
	"DefiFlow/internal/observability/metrics"
	"DefiFlow/internal/pricefeed"
	"DefiFlow/internal/quote"
	"DefiFlow/internal/resolver"
)

const validGraph = `{
  "nodes": [
    {"id": "t", "kind": "trigger", "attributes": {"operator": "GT", "threshold": "3000"}},
    {"id": "s", "kind": "swap", "attributes": {"inputAmount": "1", "outputAmountEstimate": "3000"}},
    {"id": "r", "kind": "resolver", "attributes": {"recipients": [
      {"input": "alice.eth", "amount": "1500"},
      {"input": "bob.eth", "amount": "1500"}
    ]}},
    {"id": "d", "kind": "distribute", "attributes": {"memo": "Feb 2026 Salary"}}
  ],
  "edges": [
    {"id": "t-s", "source": "t", "target": "s"},
    {"id": "s-r", "source": "s", "target": "r"},
    {"id": "r-d", "source": "r", "target": "d"}
  ]
}`

// 收款合计 2900 与产出 3000 不一致。
var mismatchedGraph = strings.Replace(validGraph, `"amount": "1500"}
    ]`, `"amount": "1400"}
    ]`, 1)

type fakeExecutor struct {
	mu    sync.Mutex
	phase engine.Phase
}

func (f *fakeExecutor) Start(_ context.Context, g flow.Graph) (engine.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := flow.Validate(g); err != nil {
		return engine.State{Phase: f.phase}, err
	}
	if f.phase == engine.PhaseArmed {
		return engine.State{Phase: f.phase}, apperrors.New(apperrors.CodeConflict, "already armed")
	}
	f.phase = engine.PhaseArmed
	return engine.State{RunID: "run-1", Phase: f.phase}, nil
}

func (f *fakeExecutor) Stop(context.Context) (engine.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.phase != engine.PhaseArmed {
		return engine.State{Phase: f.phase}, apperrors.New(apperrors.CodeInvalidTransition, "nothing armed")
	}
	f.phase = engine.PhaseIdle
	return engine.State{Phase: f.phase}, nil
}

func (f *fakeExecutor) Reset(context.Context) (engine.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phase = engine.PhaseIdle
	return engine.State{Phase: f.phase}, nil
}

func (f *fakeExecutor) State() engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.State{Phase: f.phase}
}

type oracleFunc func(ctx context.Context, desired decimal.Decimal) (decimal.Decimal, uint64, error)

func (f oracleFunc) QuoteExactOutput(ctx context.Context, desired decimal.Decimal) (decimal.Decimal, uint64, error) {
	return f(ctx, desired)
}

type nameBook map[string]common.Address

func (b nameBook) ResolveName(_ context.Context, name string) (common.Address, error) {
	if addr, ok := b[name]; ok {
		return addr, nil
	}
	return common.Address{}, errors.New("no resolver set")
}

type fixedPrice struct {
	tick pricefeed.Tick
	ok   bool
}

func (p fixedPrice) Latest() (pricefeed.Tick, bool) { return p.tick, p.ok }

type harness struct {
	server *httptest.Server
	exec   *fakeExecutor
	bus    *events.Bus
	stats  *metrics.Collector
}

func newHarness(t *testing.T, relay http.Handler) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	exec := &fakeExecutor{phase: engine.PhaseIdle}
	queue := command.NewMemoryQueue(8)
	tracker := command.NewTracker(16)
	processor := command.NewProcessor(exec, queue, command.WithTracker(tracker))
	go func() { _ = processor.Start(ctx) }()

	bus := events.NewBus()
	stats := metrics.NewCollector(false)
	srv := NewServer(":0", Dependencies{
		Commands: command.NewService(queue, tracker),
		State:    exec,
		Events:   bus,
		Quotes: quote.NewEngine(oracleFunc(func(context.Context, decimal.Decimal) (decimal.Decimal, uint64, error) {
			return decimal.Zero, 0, errors.New("execution reverted")
		})),
		Resolver:        resolver.New(nameBook{"alice.eth": common.HexToAddress("0x00000000000000000000000000000000000a11ce")}),
		Prices:          fixedPrice{tick: pricefeed.Tick{Instrument: "ETHUSDC", Price: decimal.RequireFromString("3001.5")}, ok: true},
		Relay:           relay,
		Metrics:         stats,
		ExposeMetrics:   true,
		CommandTimeout:  2 * time.Second,
		QuoteDebounce:   10 * time.Millisecond,
		ResolveDebounce: 10 * time.Millisecond,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		_ = queue.Close()
		_ = bus.Close()
	})
	return &harness{server: ts, exec: exec, bus: bus, stats: stats}
}

func (h *harness) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, h.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestValidateGraph(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.do(t, http.MethodPost, "/api/v1/graphs/validate", validGraph)
	if resp.StatusCode != http.StatusOK || body["valid"] != true {
		t.Fatalf("valid graph rejected: %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, "/api/v1/graphs/validate", mismatchedGraph)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
	if body["rule"] != string(flow.RuleAmountSum) {
		t.Fatalf("unexpected rule %v", body["rule"])
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/graphs/validate", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body should be 400, got %d", resp.StatusCode)
	}
}

func TestStartRejectsInvalidGraphWithoutArming(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.do(t, http.MethodPost, "/api/v1/run/start", mismatchedGraph)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %v", resp.StatusCode, body)
	}
	if body["code"] != string(apperrors.CodeValidation) {
		t.Fatalf("unexpected code %v", body["code"])
	}
	if got := h.exec.State().Phase; got != engine.PhaseIdle {
		t.Fatalf("phase changed to %s", got)
	}
}

func TestCommandLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.do(t, http.MethodPost, "/api/v1/run/start", validGraph)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start failed: %d %v", resp.StatusCode, body)
	}
	state, _ := body["state"].(map[string]any)
	if state["phase"] != string(engine.PhaseArmed) {
		t.Fatalf("unexpected state %v", body["state"])
	}
	id, _ := body["commandId"].(string)
	if resp, _ := h.do(t, http.MethodGet, "/api/v1/commands/"+id, ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("outcome lookup failed: %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/run/start", validGraph)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start should conflict, got %d", resp.StatusCode)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/run/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop failed: %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/v1/run/stop", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stop while idle should be 409, got %d", resp.StatusCode)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/run/state", "")
	if resp.StatusCode != http.StatusOK || body["phase"] != string(engine.PhaseIdle) {
		t.Fatalf("unexpected state %d %v", resp.StatusCode, body)
	}

	if resp, _ := h.do(t, http.MethodGet, "/api/v1/commands/missing", ""); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing command should be 404, got %d", resp.StatusCode)
	}
}

func TestQuoteFallsBackToEstimate(t *testing.T) {
	h := newHarness(t, nil)

	resp, body := h.do(t, http.MethodGet, "/api/v1/quote?output=1000", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quote failed: %d %v", resp.StatusCode, body)
	}
	if body["estimate"] != true || body["requiredInput"] != "0.5" {
		t.Fatalf("unexpected quote %v", body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/quote?output=0", "")
	if resp.StatusCode != http.StatusUnprocessableEntity || body["code"] != string(apperrors.CodeNoQuote) {
		t.Fatalf("zero output should have no quote: %d %v", resp.StatusCode, body)
	}
}

func TestResolveReportsVerification(t *testing.T) {
	h := newHarness(t, nil)

	_, body := h.do(t, http.MethodGet, "/api/v1/resolve?name=Alice.eth", "")
	if body["verified"] != true || !strings.EqualFold(body["address"].(string), "0x00000000000000000000000000000000000a11ce") {
		t.Fatalf("unexpected resolution %v", body)
	}

	_, body = h.do(t, http.MethodGet, "/api/v1/resolve?name=nobody.eth", "")
	if body["verified"] != false || body["reason"] == "" {
		t.Fatalf("unresolved name should carry a reason: %v", body)
	}

	resp, _ := h.do(t, http.MethodGet, "/api/v1/resolve", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing name should be 400, got %d", resp.StatusCode)
	}
}

func TestFromIntentBuildsLegacyGraph(t *testing.T) {
	h := newHarness(t, nil)

	payload := `{
	  "intent": {
	    "trigger": {"token": "ETH", "operator": ">", "threshold": "3000"},
	    "action": {"type": "swap", "fromToken": "ETH", "toToken": "USDC", "amountType": "absolute", "amount": "1"},
	    "transfer": {"recipient": "alice.eth"}
	  },
	  "transferAmount": "3000"
	}`
	resp, body := h.do(t, http.MethodPost, "/api/v1/graphs/from-intent", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("conversion failed: %d %v", resp.StatusCode, body)
	}
	nodes, _ := body["nodes"].([]any)
	if len(nodes) != 3 {
		t.Fatalf("expected trigger, swap and distribute, got %d nodes", len(nodes))
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/graphs/from-intent", `{"intent": {"thought": "nothing"}}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("incomplete intent should be 400, got %d", resp.StatusCode)
	}
}

func TestPriceAndMetrics(t *testing.T) {
	h := newHarness(t, nil)

	_, body := h.do(t, http.MethodGet, "/api/v1/price", "")
	if body["instrument"] != "ETHUSDC" || body["price"] != "3001.5" {
		t.Fatalf("price missing instrument: %v", body)
	}

	resp, err := http.Get(h.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), `handler="/api/v1/price"`) {
		t.Fatalf("request metric missing:\n%s", buf.String())
	}
}

func TestEventsWebsocketStreamsTransitions(t *testing.T) {
	h := newHarness(t, nil)
	_ = h.bus.Publish(context.Background(), events.Event{Phase: "armed", Summary: "waiting for trigger: price > 3000"}.Stamp())

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first events.Event
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read last event: %v", err)
	}
	if first.Phase != "armed" {
		t.Fatalf("expected last event first, got %+v", first)
	}

	_ = h.bus.Publish(context.Background(), events.Event{Phase: "running", Step: 1, StepName: "Switching to Sepolia"}.Stamp())
	var next events.Event
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read streamed event: %v", err)
	}
	if next.Phase != "running" || next.Step != 1 {
		t.Fatalf("unexpected event %+v", next)
	}
}

func TestEditorSessionDebouncesFields(t *testing.T) {
	h := newHarness(t, nil)

	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/api/v1/editor"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	for _, v := range []string{"1", "10", "100", "1000"} {
		if err := conn.WriteJSON(editorMessage{Type: "quote", Value: v}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	var got editorUpdate
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read quote: %v", err)
	}
	if got.Type != "quote" || got.Quote == nil || !got.Quote.DesiredOutput.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected only the last edit to be quoted, got %+v", got)
	}

	literal := "0x00000000000000000000000000000000000b0b00"
	if err := conn.WriteJSON(editorMessage{Type: "recipient", Field: "r-1", Value: literal, Amount: "1500"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	got = editorUpdate{}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read recipient: %v", err)
	}
	if got.Field != "r-1" || got.Recipient == nil || !got.Recipient.Verified() {
		t.Fatalf("literal address should settle verified: %+v", got)
	}
	if !got.Recipient.Amount().Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("amount lost: %s", got.Recipient.Amount())
	}
}
