package intent

import (
	"context"
	"errors"
	"testing"

	"WalletHub/internal/llm"
	"WalletHub/internal/web3"
)

func TestRuleParserCatalogExamples(t *testing.T) {
	parser := NewRuleParser(web3.DefaultChainRegistry())
	cases := []struct {
		text    string
		action  string
		chainID int64
		check   func(t *testing.T, in *Intent)
	}{
		{text: "Show my balance", action: ActionBalanceQuery},
		{text: "What's my balance on Polygon?", action: ActionBalanceQuery, chainID: 137},
		{text: "Show my balance on Polygon", action: ActionBalanceQuery, chainID: 137},
		{text: "Check my USDC balance", action: ActionBalanceQuery, check: func(t *testing.T, in *Intent) {
			tokens, _ := in.Entities.Strings(EntityTokens)
			if symbol, _ := in.Entities.String(EntityToken); symbol != "USDC" || len(tokens) != 1 || tokens[0] != "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48" {
				t.Fatalf("unexpected token entities %+v", in.Entities)
			}
		}},
		{text: "What NFTs do I own?", action: ActionNFTQuery, check: func(t *testing.T, in *Intent) {
			if !in.Entities.Bool(EntityIncludeNFTs) {
				t.Fatalf("includeNFTs should be set")
			}
		}},
		{text: "Show my token approvals", action: ActionApprovalQuery, check: func(t *testing.T, in *Intent) {
			if !in.Entities.Bool(EntityIncludeApprovals) {
				t.Fatalf("includeApprovals should be set")
			}
		}},
		{text: "balance and NFTs on chain id 8453", action: ActionBalanceQuery, chainID: 8453, check: func(t *testing.T, in *Intent) {
			if !in.Entities.Bool(EntityIncludeNFTs) {
				t.Fatalf("includeNFTs should be set")
			}
		}},
	}

	for _, tc := range cases {
		in, err := parser.Parse(context.Background(), tc.text)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tc.text, err)
		}
		if in == nil {
			t.Fatalf("Parse(%q) returned no intent", tc.text)
		}
		if in.Action != tc.action || in.RiskLevel != RiskLow {
			t.Fatalf("Parse(%q) = %s/%s, want %s/low", tc.text, in.Action, in.RiskLevel, tc.action)
		}
		id, ok := in.Entities.Int64(EntityChainID)
		if tc.chainID == 0 && ok {
			t.Fatalf("Parse(%q) should not set chainId, got %d", tc.text, id)
		}
		if tc.chainID != 0 && id != tc.chainID {
			t.Fatalf("Parse(%q) chainId = %d, want %d", tc.text, id, tc.chainID)
		}
		if in.Confidence < 0.9 || in.Confidence > 1 {
			t.Fatalf("Parse(%q) confidence out of range: %v", tc.text, in.Confidence)
		}
		if tc.check != nil {
			tc.check(t, in)
		}
	}
}

func TestRuleParserWriteActions(t *testing.T) {
	parser := NewRuleParser(nil)

	in, err := parser.Parse(context.Background(), "Send 0.5 ETH to 0x2222222222222222222222222222222222222222 on Base")
	if err != nil || in == nil {
		t.Fatalf("Parse transfer: %v %v", in, err)
	}
	if in.Action != ActionTransfer || in.RiskLevel != RiskHigh {
		t.Fatalf("unexpected transfer intent %+v", in)
	}
	if amount, _ := in.Entities.String(EntityAmount); amount != "0.5" {
		t.Fatalf("unexpected amount %q", amount)
	}
	if recipient, _ := in.Entities.String(EntityRecipient); recipient != "0x2222222222222222222222222222222222222222" {
		t.Fatalf("unexpected recipient %q", recipient)
	}
	if id, _ := in.Entities.Int64(EntityChainID); id != 8453 {
		t.Fatalf("unexpected chain %d", id)
	}

	in, _ = parser.Parse(context.Background(), "swap 100 USDC on arbitrum")
	if in == nil || in.Action != ActionSwap || in.RiskLevel != RiskMedium {
		t.Fatalf("unexpected swap intent %+v", in)
	}
	if token, _ := in.Entities.String(EntityToken); token != "USDC" {
		t.Fatalf("unexpected swap token %q", token)
	}
}

func TestRuleParserMisses(t *testing.T) {
	parser := NewRuleParser(nil)
	for _, text := range []string{"", "   ", "hello there", "what is the weather"} {
		in, err := parser.Parse(context.Background(), text)
		if err != nil || in != nil {
			t.Fatalf("Parse(%q) = %+v, %v; want miss", text, in, err)
		}
	}
}

func TestIntentCloneIsIndependent(t *testing.T) {
	source := Entities{EntityTokens: []string{"0xA"}}
	in := New(ActionBalanceQuery, source, 0.9, RiskLow)
	source[EntityChainID] = int64(1)
	if in.Entities.Has(EntityChainID) {
		t.Fatalf("New must copy entities")
	}

	clone := in.Clone()
	tokens := clone.Entities[EntityTokens].([]string)
	tokens[0] = "0xB"
	if original, _ := in.Entities.Strings(EntityTokens); original[0] != "0xA" {
		t.Fatalf("Clone must deep copy slices")
	}
}

type stubLLM struct {
	resp *llm.Response
	err  error
	req  llm.Request
}

func (s *stubLLM) ParseIntent(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.req = req
	return s.resp, s.err
}

func catalog() []llm.WorkflowHint {
	return []llm.WorkflowHint{{Name: "balances.get", Intents: []string{ActionBalanceQuery, ActionNFTQuery, ActionApprovalQuery}}}
}

func TestLLMParserMapsResponse(t *testing.T) {
	client := &stubLLM{resp: &llm.Response{
		Action:     ActionBalanceQuery,
		Entities:   map[string]any{"chainId": float64(137)},
		Confidence: 0.8,
	}}
	parser := NewLLMParser(client, catalog, nil)

	in, err := parser.Parse(context.Background(), "how rich am I on polygon")
	if err != nil || in == nil {
		t.Fatalf("Parse: %v %v", in, err)
	}
	if id, _ := in.Entities.Int64(EntityChainID); id != 137 {
		t.Fatalf("chainId should survive JSON float decoding, got %d", id)
	}
	if in.RiskLevel != RiskLow {
		t.Fatalf("missing risk level should default from the action, got %s", in.RiskLevel)
	}
	if len(client.req.Workflows) != 1 || len(client.req.Chains) == 0 {
		t.Fatalf("request should carry catalogue and chains: %+v", client.req)
	}

	client.resp = &llm.Response{Action: "launch_rocket", Confidence: 0.99}
	if in, _ := parser.Parse(context.Background(), "launch"); in != nil {
		t.Fatalf("unknown actions should be a miss, got %+v", in)
	}
}

func TestLLMParserResolvesTokenSymbol(t *testing.T) {
	client := &stubLLM{resp: &llm.Response{
		Action:     ActionBalanceQuery,
		Entities:   map[string]any{"token": "USDC"},
		Confidence: 0.9,
		RiskLevel:  "low",
	}}
	parser := NewLLMParser(client, catalog, nil)

	in, err := parser.Parse(context.Background(), "Check my USDC balance")
	if err != nil || in == nil {
		t.Fatalf("Parse: %v %v", in, err)
	}
	tokens, ok := in.Entities.Strings(EntityTokens)
	if !ok || len(tokens) != 1 || tokens[0] != "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48" {
		t.Fatalf("expected USDC mainnet address, got %v", in.Entities)
	}
	if _, ok := client.resp.Entities["tokens"]; ok {
		t.Fatalf("provider response must not be mutated")
	}

	client.resp = &llm.Response{
		Action:     ActionBalanceQuery,
		Entities:   map[string]any{"token": "usdc", "chainId": float64(137), "tokens": []any{"0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"}},
		Confidence: 0.9,
	}
	in, _ = parser.Parse(context.Background(), "usdc on polygon")
	if tokens, _ := in.Entities.Strings(EntityTokens); len(tokens) != 1 {
		t.Fatalf("already listed address should not be duplicated, got %v", tokens)
	}

	client.resp = &llm.Response{Action: ActionNFTQuery, Entities: map[string]any{"token": "USDC"}, Confidence: 0.9}
	in, _ = parser.Parse(context.Background(), "nfts")
	if in.Entities.Has(EntityTokens) {
		t.Fatalf("only balance queries resolve token symbols, got %v", in.Entities)
	}
}

func TestFallbackParserSkipsFailures(t *testing.T) {
	failing := &stubLLM{err: errors.New("timeout")}
	parser := NewFallbackParser(NewLLMParser(failing, catalog, nil), NewRuleParser(nil))

	in, err := parser.Parse(context.Background(), "Show my balance")
	if err != nil || in == nil || in.Action != ActionBalanceQuery {
		t.Fatalf("expected rule parser result, got %+v %v", in, err)
	}

	in, err = parser.Parse(context.Background(), "gibberish")
	if err != nil || in != nil {
		t.Fatalf("expected miss, got %+v %v", in, err)
	}
}
