package main

import (
	"context"
	"testing"

	"WalletHub/internal/config"
	"WalletHub/internal/intent"
	"WalletHub/internal/user"
	"WalletHub/internal/web3"
	"WalletHub/internal/workflow"
)

func TestOpenStorageMemorySeedsUsers(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: "memory"},
		Users:   []user.User{{ID: "alice", WalletAddress: "0xabc"}},
	}
	users, conversations, closeFn, err := openStorage(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	defer closeFn()

	u, err := users.FindByID(context.Background(), "alice")
	if err != nil || u.WalletAddress != "0xabc" {
		t.Fatalf("unexpected user %+v err=%v", u, err)
	}
	if _, created, err := conversations.ResolveActive(context.Background(), "alice"); err != nil || !created {
		t.Fatalf("expected a new conversation, created=%v err=%v", created, err)
	}
}

func TestOpenStorageRejectsRedisWithoutClient(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Driver: "redis"}}
	if _, _, _, err := openStorage(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error without redis client")
	}
}

func TestCreateParser(t *testing.T) {
	chains := web3.DefaultChainRegistry()
	registry, err := workflow.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	cfg := &config.Config{LLM: config.LLMConfig{Provider: "rules"}}
	parser, err := createParser(cfg, registry, chains)
	if err != nil {
		t.Fatalf("createParser: %v", err)
	}
	if _, ok := parser.(*intent.RuleParser); !ok {
		t.Fatalf("expected RuleParser, got %T", parser)
	}

	cfg.LLM = config.LLMConfig{Provider: "openai", OpenAI: config.OpenAIConfig{APIKey: "sk-test"}}
	parser, err = createParser(cfg, registry, chains)
	if err != nil {
		t.Fatalf("createParser openai: %v", err)
	}
	if _, ok := parser.(*intent.FallbackParser); !ok {
		t.Fatalf("expected FallbackParser, got %T", parser)
	}

	cfg.LLM = config.LLMConfig{Provider: "openai"}
	if _, err := createParser(cfg, registry, chains); err == nil {
		t.Fatalf("expected missing api key error")
	}

	cfg.LLM = config.LLMConfig{Provider: "claude"}
	if _, err := createParser(cfg, registry, chains); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
