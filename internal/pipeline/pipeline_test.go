package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"WalletHub/internal/conversation"
	xerrors "WalletHub/internal/errors"
	"WalletHub/internal/events"
	"WalletHub/internal/intent"
	"WalletHub/internal/user"
	"WalletHub/internal/web3"
	"WalletHub/internal/workflow"
	"WalletHub/internal/workflow/balances"
)

const wallet = "0x1111111111111111111111111111111111111111"

type stubSource struct {
	nativeChain atomic.Int64
	calls       atomic.Int32
}

func (s *stubSource) NativeBalance(_ context.Context, address string, chainID int64) (*web3.Balance, error) {
	s.calls.Add(1)
	s.nativeChain.Store(chainID)
	amount, _ := web3.ParseAmount("1000000000000000000")
	return &web3.Balance{Address: address, ChainID: chainID, Amount: amount, Symbol: "POL", Decimals: 18}, nil
}

func (s *stubSource) TokenBalances(context.Context, string, int64, []string) ([]web3.TokenBalance, error) {
	s.calls.Add(1)
	return nil, nil
}

func (s *stubSource) NFTs(context.Context, string, int64) ([]web3.NFT, error) {
	s.calls.Add(1)
	return nil, errors.New("indexer down")
}

func (s *stubSource) Approvals(context.Context, string, int64) ([]web3.Approval, error) {
	s.calls.Add(1)
	return nil, nil
}

type countingConversations struct {
	conversation.Store
	resolves atomic.Int32
	err      error
}

func (c *countingConversations) ResolveActive(ctx context.Context, userID string) (conversation.Conversation, bool, error) {
	c.resolves.Add(1)
	if c.err != nil {
		return conversation.Conversation{}, false, c.err
	}
	return c.Store.ResolveActive(ctx, userID)
}

type fixture struct {
	service       *Service
	source        *stubSource
	conversations *countingConversations
	published     *events.Memory
}

func newFixture(t *testing.T, extra ...workflow.Handler) fixture {
	t.Helper()
	chains := web3.DefaultChainRegistry()
	source := &stubSource{}
	handlers := append([]workflow.Handler{balances.New(source, balances.WithChains(chains))}, extra...)
	registry, err := workflow.NewRegistry(handlers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	convs := &countingConversations{Store: conversation.NewMemoryStore()}
	published := events.NewMemory(10)
	service := NewService(
		intent.NewRuleParser(chains),
		intent.NewValidator(chains),
		user.NewMemoryStore(user.User{ID: "u1", WalletAddress: wallet}),
		convs,
		NewExecutor(registry),
		WithPublisher(published),
	)
	return fixture{service: service, source: source, conversations: convs, published: published}
}

func TestBuildBalanceOnPolygon(t *testing.T) {
	f := newFixture(t)

	out, err := f.service.Build(context.Background(), BuildRequest{UserID: "u1", Input: "Show my balance on Polygon"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.Intent.Action != intent.ActionBalanceQuery {
		t.Fatalf("unexpected action %s", out.Intent.Action)
	}
	if id, _ := out.Intent.Entities.Int64(intent.EntityChainID); id != 137 {
		t.Fatalf("expected chainId 137, got %d", id)
	}
	if !out.Preview.Success || out.ChainID != 137 || !out.ConversationCreated || out.IntentID == "" {
		t.Fatalf("unexpected output %+v", out)
	}

	result, ok := out.Preview.Data.(*balances.Result)
	if !ok {
		t.Fatalf("unexpected preview data %T", out.Preview.Data)
	}
	if result.Native == nil || result.Native.ChainID != 137 {
		t.Fatalf("native balance missing: %+v", result)
	}
	if result.Tokens != nil || result.NFTs != nil || result.Approvals != nil {
		t.Fatalf("only native should be requested: %+v", result)
	}
	for _, src := range []web3.Source{web3.SourceTokens, web3.SourceNFTs, web3.SourceApprovals} {
		if result.Status[src] != balances.StatusNotRequested {
			t.Fatalf("%s status = %s, want not_requested", src, result.Status[src])
		}
	}
	if f.source.calls.Load() != 1 {
		t.Fatalf("expected a single native fetch, got %d calls", f.source.calls.Load())
	}

	published := f.published.Events()
	if len(published) != 1 || published[0].ID != out.IntentID || published[0].ChainID != 137 {
		t.Fatalf("unexpected events %+v", published)
	}
}

func TestBuildReusesActiveConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.Build(ctx, BuildRequest{UserID: "u1", Input: "show my balance"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := f.service.Build(ctx, BuildRequest{UserID: "u1", Input: "what are my nfts"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if first.ConversationID != second.ConversationID || second.ConversationCreated {
		t.Fatalf("expected the same conversation, got %s and %s", first.ConversationID, second.ConversationID)
	}
	if first.IntentID == second.IntentID {
		t.Fatalf("intent ids must be unique per preview")
	}
	if second.ChainID != web3.DefaultChainID || f.source.nativeChain.Load() != web3.DefaultChainID {
		t.Fatalf("expected the default chain, got %d", second.ChainID)
	}
}

func TestBuildRequestChainUsedWhenIntentHasNone(t *testing.T) {
	f := newFixture(t)
	out, err := f.service.Build(context.Background(), BuildRequest{UserID: "u1", Input: "show my balance", ChainID: 8453})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.ChainID != 8453 || f.source.nativeChain.Load() != 8453 {
		t.Fatalf("expected request chain 8453, got %d", out.ChainID)
	}

	out, err = f.service.Build(context.Background(), BuildRequest{UserID: "u1", Input: "show my balance on arbitrum", ChainID: 8453})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if out.ChainID != 42161 {
		t.Fatalf("intent chain should win, got %d", out.ChainID)
	}
}

func TestBuildParseMissMakesNoDownstreamCalls(t *testing.T) {
	for _, input := range []string{"", "   ", "tell me a joke"} {
		f := newFixture(t)
		_, err := f.service.Build(context.Background(), BuildRequest{UserID: "u1", Input: input})
		if xerrors.CodeOf(err) != xerrors.CodeUnrecognizedInput || xerrors.MessageOf(err) != "Could not understand input" {
			t.Fatalf("Build(%q) = %v, want UNRECOGNIZED_INPUT", input, err)
		}
		if xerrors.HTTPStatusOf(err) != 400 {
			t.Fatalf("expected 400, got %d", xerrors.HTTPStatusOf(err))
		}
		if f.conversations.resolves.Load() != 0 || f.source.calls.Load() != 0 || len(f.published.Events()) != 0 {
			t.Fatalf("parse miss must not reach downstream dependencies")
		}
	}
}

func TestBuildValidationFailureListsEveryViolation(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Build(context.Background(), BuildRequest{UserID: "u1", Input: "send 5 USDC"})
	if xerrors.CodeOf(err) != xerrors.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %v", err)
	}
	msg := xerrors.MessageOf(err)
	if !strings.HasPrefix(msg, "Invalid intent: ") || !strings.Contains(msg, `missing required entity "recipient"`) {
		t.Fatalf("unexpected message %q", msg)
	}
	if f.conversations.resolves.Load() != 0 {
		t.Fatalf("validation failure must not resolve a conversation")
	}
}

func TestBuildUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Build(context.Background(), BuildRequest{UserID: "ghost", Input: "Show my balance on Polygon"})
	if xerrors.HTTPStatusOf(err) != 404 || xerrors.MessageOf(err) != "User not found" {
		t.Fatalf("expected 404 User not found, got %v", err)
	}
	if f.conversations.resolves.Load() != 0 {
		t.Fatalf("user lookup failure must not resolve a conversation")
	}
}

func TestBuildConversationFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.conversations.err = errors.New("deadlock")
	_, err := f.service.Build(context.Background(), BuildRequest{UserID: "u1", Input: "show my balance"})
	if xerrors.CodeOf(err) != xerrors.CodeStorageFailure || xerrors.HTTPStatusOf(err) != 500 {
		t.Fatalf("expected STORAGE_FAILURE, got %v", err)
	}
}

func TestBuildWithoutHandler(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Build(context.Background(), BuildRequest{UserID: "u1", Input: "swap 1 ETH to USDC"})
	if xerrors.CodeOf(err) != xerrors.CodeNoHandler || xerrors.HTTPStatusOf(err) != 400 {
		t.Fatalf("expected NO_HANDLER, got %v", err)
	}
	if xerrors.MessageOf(err) != `no workflow handler for action "swap"` {
		t.Fatalf("unexpected message %q", xerrors.MessageOf(err))
	}
}

func TestBuildRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Build(context.Background(), BuildRequest{Input: "show my balance"})
	if xerrors.CodeOf(err) != xerrors.CodeUnauthenticated {
		t.Fatalf("expected UNAUTHENTICATED, got %v", err)
	}
}

type failingHandler struct{ panics bool }

func (h failingHandler) Metadata() workflow.Metadata {
	return workflow.Metadata{Name: "transfer.preview", Intents: []string{intent.ActionTransfer}}
}

func (h failingHandler) Execute(context.Context, workflow.Request) (any, error) {
	if h.panics {
		panic("boom")
	}
	return nil, errors.New("insufficient funds for preview")
}

func TestExecutorReportsHandlerFailure(t *testing.T) {
	registry, err := workflow.NewRegistry(failingHandler{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	in := intent.New(intent.ActionTransfer, nil, 1, intent.RiskHigh)

	preview := NewExecutor(registry).BuildExecutionPreview(context.Background(), in, PreviewContext{WalletAddress: wallet})
	if preview.Success || preview.Error != "insufficient funds for preview" || preview.Code != xerrors.CodeNoHandler {
		t.Fatalf("unexpected preview %+v", preview)
	}

	registry, _ = workflow.NewRegistry(failingHandler{panics: true})
	preview = NewExecutor(registry).BuildExecutionPreview(context.Background(), in, PreviewContext{WalletAddress: wallet})
	if preview.Success || preview.Error != "Failed to build preview" {
		t.Fatalf("panicking handler should yield the generic failure, got %+v", preview)
	}
}

func TestResolveChainID(t *testing.T) {
	withChain := intent.New(intent.ActionBalanceQuery, intent.Entities{intent.EntityChainID: int64(10)}, 1, intent.RiskLow)
	without := intent.New(intent.ActionBalanceQuery, nil, 1, intent.RiskLow)

	cases := []struct {
		in        *intent.Intent
		requested int64
		want      int64
	}{
		{withChain, 137, 10},
		{without, 137, 137},
		{without, 0, 1},
		{nil, 0, 1},
	}
	for _, tc := range cases {
		if got := ResolveChainID(tc.in, tc.requested); got != tc.want {
			t.Fatalf("ResolveChainID(%v, %d) = %d, want %d", tc.in, tc.requested, got, tc.want)
		}
	}
}

type erroringParser struct{}

func (erroringParser) Parse(context.Context, string) (*intent.Intent, error) {
	return nil, errors.New("llm: 503 service unavailable")
}

func TestBuildParserErrorIsInternal(t *testing.T) {
	f := newFixture(t)
	f.service.parser = erroringParser{}

	_, err := f.service.Build(context.Background(), BuildRequest{UserID: "u1", Input: "Show my balance"})
	if xerrors.HTTPStatusOf(err) != http.StatusInternalServerError || xerrors.MessageOf(err) != "Failed to parse input" {
		t.Fatalf("parser failures should surface as 500, got %v", err)
	}
	if f.conversations.resolves.Load() != 0 {
		t.Fatalf("parser failure must not touch conversations")
	}
}
