package defiflow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateGraphReportsRule(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/graphs/validate" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code":    "VALIDATION_FAILED",
			"message": "recipients add up to 2900, swap produces 3000",
			"rule":    "amount-sum",
			"nodeIds": []string{"s", "r"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	v, err := client.ValidateGraph(context.Background(), json.RawMessage(`{"nodes":[],"edges":[]}`))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if v.Valid || v.Rule != "amount-sum" || len(v.NodeIDs) != 2 {
		t.Fatalf("unexpected validation %+v", v)
	}
}

func TestStartReturnsArmedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/run/start" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type %q", ct)
		}
		_ = json.NewEncoder(w).Encode(CommandResult{
			CommandID: "cmd-1",
			Type:      "start",
			State:     RunState{RunID: "run-1", Phase: "armed", Summary: "waiting for trigger: price > 3000"},
		})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, nil)
	res, err := client.Start(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.State.Phase != "armed" || res.CommandID != "cmd-1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestErrorsCarryCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "INVALID_TRANSITION", "message": "nothing armed"})
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	_, err := client.Stop(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "INVALID_TRANSITION" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestQueryParametersAreEncoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/quote":
			_ = json.NewEncoder(w).Encode(Quote{DesiredOutput: r.URL.Query().Get("output"), RequiredInput: "0.5", Estimate: true})
		case "/api/v1/resolve":
			_ = json.NewEncoder(w).Encode(Resolution{Input: r.URL.Query().Get("name")})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, srv.Client())
	q, err := client.Quote(context.Background(), "1000")
	if err != nil || q.DesiredOutput != "1000" || !q.Estimate {
		t.Fatalf("quote = %+v, %v", q, err)
	}
	r, err := client.Resolve(context.Background(), "alice eth")
	if err != nil || r.Input != "alice eth" {
		t.Fatalf("resolve = %+v, %v", r, err)
	}
}
