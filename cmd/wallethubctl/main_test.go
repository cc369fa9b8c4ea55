package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"WalletHub/internal/auth"
)

func TestBuildCommandPrintsIDsAndPreview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/intents/build" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-User-ID"); got != "user-1" {
			t.Errorf("expected user header, got %q", got)
		}
		w.Header().Set("X-Conversation-ID", "conv-1")
		w.Header().Set("X-Intent-ID", "intent-1")
		_, _ = w.Write([]byte(`{"intent":{"action":"get_balances","entities":{},"confidence":0.6,"riskLevel":"low"},"preview":{"chainId":1}}`))
	}))
	defer srv.Close()

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--url", srv.URL, "--user", "user-1", "build", "show my balance"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	var printed map[string]any
	if err := json.Unmarshal(out.Bytes(), &printed); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out.String())
	}
	if printed["conversationId"] != "conv-1" || printed["intentId"] != "intent-1" {
		t.Fatalf("unexpected output %v", printed)
	}
}

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "user-7", "--secret", "s3cret", "--issuer", "wallethub"})
	if err := root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	svc, err := auth.NewService(auth.Config{Mode: auth.ModeJWT, JWT: auth.JWTConfig{Secret: "s3cret", Issuer: "wallethub"}})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/intents/build", nil)
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(out.String()))
	subject, err := svc.Authenticate(req)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if subject.UserID != "user-7" {
		t.Fatalf("unexpected subject %+v", subject)
	}
}

func TestTokenCommandRequiresSecret(t *testing.T) {
	t.Setenv("WALLETHUB_AUTH_JWT_SECRET", "")
	root := NewRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"token", "user-7"})
	if err := root.Execute(); err == nil {
		t.Fatalf("expected missing secret error")
	}
}
