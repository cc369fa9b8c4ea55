package web3

import "testing"

func TestDefaultChainRegistry(t *testing.T) {
	registry := DefaultChainRegistry()

	polygon, ok := registry.Resolve("Polygon")
	if !ok || polygon.ID != 137 {
		t.Fatalf("expected polygon to resolve to 137, got %+v", polygon)
	}
	if chain, ok := registry.Resolve("  MATIC "); !ok || chain.ID != 137 {
		t.Fatalf("alias lookup failed: %+v", chain)
	}
	if registry.Symbol(137) != "POL" {
		t.Fatalf("unexpected polygon symbol %s", registry.Symbol(137))
	}
	if registry.Symbol(999) != "ETH" || registry.Decimals(999) != 18 {
		t.Fatalf("unknown chains should fall back to ETH/18")
	}
	if registry.Supported(999) {
		t.Fatalf("999 should not be supported")
	}
	if address, ok := registry.TokenAddress(1, "usdc"); !ok || address != "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48" {
		t.Fatalf("unexpected USDC address %s", address)
	}

	chains := registry.Chains()
	for i := 1; i < len(chains); i++ {
		if chains[i-1].ID >= chains[i].ID {
			t.Fatalf("chains should be sorted by id")
		}
	}

	aliases := registry.Aliases()
	for i := 1; i < len(aliases); i++ {
		if len(aliases[i-1]) < len(aliases[i]) {
			t.Fatalf("aliases should be ordered longest first")
		}
	}
}

func TestParseChainRegistryMergesOverrides(t *testing.T) {
	content := []byte(`
chains:
  polygon:
    id: 137
    rpc_url: https://polygon.example
    tokens:
      LINK: "0x53E0bca35eC356BD5ddDFebbD1Fc0fD03FaBad39"
  gnosis:
    id: 100
    symbol: xDAI
    aliases: ["gnosis", "xdai"]
`)
	registry, err := ParseChainRegistry(content)
	if err != nil {
		t.Fatalf("ParseChainRegistry: %v", err)
	}

	polygon, _ := registry.Chain(137)
	if polygon.RPCURL != "https://polygon.example" {
		t.Fatalf("rpc url not merged: %+v", polygon)
	}
	if polygon.Symbol != "POL" {
		t.Fatalf("built-in symbol should survive merge, got %s", polygon.Symbol)
	}
	if _, ok := registry.TokenAddress(137, "LINK"); !ok {
		t.Fatalf("override token missing")
	}
	if _, ok := registry.TokenAddress(137, "USDC"); !ok {
		t.Fatalf("built-in token lost during merge")
	}

	gnosis, ok := registry.Resolve("xdai")
	if !ok || gnosis.ID != 100 || gnosis.Decimals != 18 || gnosis.Name != "gnosis" {
		t.Fatalf("unexpected gnosis chain %+v", gnosis)
	}
}

func TestParseChainRegistryRejectsMissingID(t *testing.T) {
	if _, err := ParseChainRegistry([]byte("chains:\n  broken:\n    name: Broken\n")); err == nil {
		t.Fatalf("expected error for chain without id")
	}
}
