package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"WalletHub/internal/auth"
	"WalletHub/internal/conversation"
	xerrors "WalletHub/internal/errors"
	"WalletHub/internal/intent"
	"WalletHub/internal/observability/alerting"
	"WalletHub/internal/observability/metrics"
	"WalletHub/internal/pipeline"
	"WalletHub/internal/user"
	"WalletHub/internal/web3"
	"WalletHub/internal/workflow"
	"WalletHub/internal/workflow/balances"
)

const wallet = "0x1111111111111111111111111111111111111111"

type nativeOnlySource struct{}

func (nativeOnlySource) NativeBalance(_ context.Context, address string, chainID int64) (*web3.Balance, error) {
	amount, _ := web3.ParseAmount("123456789012345678901")
	return &web3.Balance{Address: address, ChainID: chainID, Amount: amount, Symbol: "POL", Decimals: 18}, nil
}

func (nativeOnlySource) TokenBalances(context.Context, string, int64, []string) ([]web3.TokenBalance, error) {
	return nil, errors.New("not wired")
}

func (nativeOnlySource) NFTs(context.Context, string, int64) ([]web3.NFT, error) {
	return nil, errors.New("not wired")
}

func (nativeOnlySource) Approvals(context.Context, string, int64) ([]web3.Approval, error) {
	return nil, errors.New("not wired")
}

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	chains := web3.DefaultChainRegistry()
	registry, err := workflow.NewRegistry(balances.New(nativeOnlySource{}, balances.WithChains(chains)))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	service := pipeline.NewService(
		intent.NewRuleParser(chains),
		intent.NewValidator(chains),
		user.NewMemoryStore(user.User{ID: "u1", WalletAddress: wallet}),
		conversation.NewMemoryStore(),
		pipeline.NewExecutor(registry),
	)
	return NewServer(":0", service, registry, chains, opts...)
}

func postBuild(t *testing.T, handler http.Handler, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(auth.DefaultUserHeader, userID)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestBuildIntentBalanceOnPolygon(t *testing.T) {
	handler := newTestServer(t).Handler()

	for _, path := range []string{"/api/v1/intents/build", "/intents/build"} {
		rec := postBuild(t, handler, path, "u1", `{"input": "Show my balance on Polygon"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: unexpected status %d: %s", path, rec.Code, rec.Body.String())
		}

		var body struct {
			Intent struct {
				Action     string         `json:"action"`
				Entities   map[string]any `json:"entities"`
				Confidence float64        `json:"confidence"`
				RiskLevel  string         `json:"riskLevel"`
			} `json:"intent"`
			Preview map[string]json.RawMessage `json:"preview"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Intent.Action != "balance_query" || body.Intent.RiskLevel != "low" {
			t.Fatalf("unexpected intent %+v", body.Intent)
		}
		if body.Intent.Entities["chainId"] != float64(137) {
			t.Fatalf("expected chainId 137, got %v", body.Intent.Entities["chainId"])
		}
		if _, ok := body.Preview["native"]; !ok {
			t.Fatalf("native balance missing from preview: %s", rec.Body.String())
		}
		for _, absent := range []string{"tokens", "nfts", "approvals"} {
			if _, ok := body.Preview[absent]; ok {
				t.Fatalf("%s should be absent when not requested", absent)
			}
		}

		var native struct {
			Balance string `json:"balance"`
			ChainID int64  `json:"chainId"`
		}
		_ = json.Unmarshal(body.Preview["native"], &native)
		if native.Balance != "123456789012345678901" || native.ChainID != 137 {
			t.Fatalf("unexpected native balance %+v", native)
		}
		if rec.Header().Get("X-Conversation-ID") == "" || rec.Header().Get("X-Intent-ID") == "" {
			t.Fatalf("expected conversation and intent id headers")
		}
	}
}

func TestBuildIntentErrors(t *testing.T) {
	handler := newTestServer(t).Handler()

	cases := []struct {
		name   string
		user   string
		body   string
		status int
		msg    string
	}{
		{"empty input", "u1", `{"input": ""}`, http.StatusBadRequest, "Could not understand input"},
		{"gibberish", "u1", `{"input": "tell me a joke"}`, http.StatusBadRequest, "Could not understand input"},
		{"unknown user", "ghost", `{"input": "Show my balance on Polygon"}`, http.StatusNotFound, "User not found"},
		{"invalid json", "u1", `{"input":`, http.StatusBadRequest, "Invalid request body"},
		{"input not string", "u1", `{"input": 42}`, http.StatusBadRequest, "input must be a string"},
		{"missing input", "u1", `{}`, http.StatusBadRequest, "input must be a string"},
		{"bad chain id", "u1", `{"input": "show my balance", "chainId": "polygon"}`, http.StatusBadRequest, "chainId must be a positive integer"},
		{"no handler", "u1", `{"input": "swap 1 WETH for USDC"}`, http.StatusBadRequest, `no workflow handler for action "swap"`},
		{"unauthenticated", "", `{"input": "show my balance"}`, http.StatusUnauthorized, "Unauthorized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := postBuild(t, handler, "/api/v1/intents/build", tc.user, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec); got != tc.msg {
				t.Fatalf("unexpected message %q, want %q", got, tc.msg)
			}
		})
	}
}

func TestBuildIntentValidationMessage(t *testing.T) {
	handler := newTestServer(t).Handler()
	rec := postBuild(t, handler, "/intents/build", "u1", `{"input": "send USDC"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	want := `Invalid intent: missing required entity "amount", missing required entity "recipient"`
	if got := decodeError(t, rec); got != want {
		t.Fatalf("unexpected message %q, want %q", got, want)
	}
}

type failingBuilder struct{ err error }

func (f failingBuilder) Build(context.Context, pipeline.BuildRequest) (*pipeline.BuildOutput, error) {
	return nil, f.err
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func TestBuildIntentInternalFailureAlerts(t *testing.T) {
	alerts := &captureDispatcher{}
	server := NewServer(":0",
		failingBuilder{err: xerrors.Wrap(xerrors.CodeStorageFailure, errors.New("deadlock"), "Failed to resolve conversation")},
		nil, nil, WithAlerts(alerts))

	rec := postBuild(t, server.Handler(), "/intents/build", "u1", `{"input": "show my balance"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := decodeError(t, rec); got != "Failed to resolve conversation" {
		t.Fatalf("unexpected message %q", got)
	}
	if len(alerts.events) != 1 || alerts.events[0].Code != xerrors.CodeStorageFailure || alerts.events[0].UserID != "u1" {
		t.Fatalf("expected one storage alert, got %+v", alerts.events)
	}

	server = NewServer(":0", failingBuilder{err: xerrors.New(xerrors.CodeUnrecognizedInput, "")}, nil, nil, WithAlerts(alerts))
	postBuild(t, server.Handler(), "/intents/build", "u1", `{"input": "??"}`)
	if len(alerts.events) != 1 {
		t.Fatalf("parse misses must not alert, got %d events", len(alerts.events))
	}
}

type panickingBuilder struct{}

func (panickingBuilder) Build(context.Context, pipeline.BuildRequest) (*pipeline.BuildOutput, error) {
	panic("boom")
}

func TestRecoverPanic(t *testing.T) {
	server := NewServer(":0", panickingBuilder{}, nil, nil)
	rec := postBuild(t, server.Handler(), "/intents/build", "u1", `{"input": "show my balance"}`)
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec) != "Internal server error" {
		t.Fatalf("unexpected panic response %d %s", rec.Code, rec.Body.String())
	}
}

func TestCatalogEndpoints(t *testing.T) {
	handler := newTestServer(t).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
	var workflows struct {
		Workflows []workflow.Metadata `json:"workflows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &workflows); err != nil {
		t.Fatalf("decode workflows: %v", err)
	}
	if len(workflows.Workflows) != 1 || workflows.Workflows[0].Name != "balances.get" || len(workflows.Workflows[0].Examples) != 5 {
		t.Fatalf("unexpected workflows %+v", workflows.Workflows)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/chains", nil))
	var chains struct {
		Chains []web3.Chain `json:"chains"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &chains); err != nil {
		t.Fatalf("decode chains: %v", err)
	}
	if len(chains.Chains) == 0 || chains.Chains[0].ID != 1 {
		t.Fatalf("unexpected chains %+v", chains.Chains)
	}
	if strings.Contains(rec.Body.String(), "rpc_url") {
		t.Fatalf("rpc urls must not be exposed")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz returned %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/intents/build", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.New()
	handler := newTestServer(t, WithMetrics(collector)).Handler()

	postBuild(t, handler, "/api/v1/intents/build", "u1", `{"input": "show my balance"}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	want := `wallethub_http_requests_total{code="200",handler="/api/v1/intents/build",method="POST"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("metrics exposition missing %q:\n%s", want, body)
	}
}

func TestRequestMetricsWithoutEndpoint(t *testing.T) {
	collector := metrics.New()
	handler := newTestServer(t, WithRequestMetrics(collector)).Handler()

	postBuild(t, handler, "/api/v1/intents/build", "u1", `{"input": "show my balance"}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("/metrics should not be mounted on the API port, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := `wallethub_http_requests_total{code="200",handler="/api/v1/intents/build",method="POST"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("request metrics not recorded, missing %q:\n%s", want, rec.Body.String())
	}
}
