package web3

import (
	"encoding/json"
	"testing"
)

func TestAmountJSONUsesDecimalString(t *testing.T) {
	amount, err := ParseAmount("1500000000000000000")
	if err != nil {
		t.Fatalf("ParseAmount: %v", err)
	}
	data, err := json.Marshal(Balance{Address: "0xabc", ChainID: 1, Amount: amount, Symbol: "ETH", Decimals: 18})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["balance"] != "1500000000000000000" {
		t.Fatalf("balance should be a decimal string, got %#v", raw["balance"])
	}
	if _, ok := raw["usdValue"]; ok {
		t.Fatalf("usdValue should be omitted when unknown")
	}

	var decoded Amount
	if err := json.Unmarshal([]byte(`12345678901234567890123`), &decoded); err != nil {
		t.Fatalf("decode bare number: %v", err)
	}
	if decoded.String() != "12345678901234567890123" {
		t.Fatalf("unexpected decoded amount %s", decoded)
	}
}

func TestZeroValueAmount(t *testing.T) {
	var a Amount
	if !a.IsZero() || a.String() != "0" {
		t.Fatalf("zero value should be 0, got %s", a)
	}
	if a.Cmp(AmountFromUint64(1)) >= 0 {
		t.Fatalf("zero should compare below one")
	}
}

func TestFormatAndParseUnits(t *testing.T) {
	cases := []struct {
		raw      string
		decimals uint8
		human    string
	}{
		{"1500000000000000000", 18, "1.5"},
		{"1000000", 6, "1"},
		{"1", 18, "0.000000000000000001"},
		{"0", 18, "0"},
	}
	for _, tc := range cases {
		amount, err := ParseAmount(tc.raw)
		if err != nil {
			t.Fatalf("ParseAmount(%s): %v", tc.raw, err)
		}
		if got := FormatUnits(amount, tc.decimals); got != tc.human {
			t.Fatalf("FormatUnits(%s, %d) = %s, want %s", tc.raw, tc.decimals, got, tc.human)
		}
		back, err := ParseUnits(tc.human, tc.decimals)
		if err != nil {
			t.Fatalf("ParseUnits(%s): %v", tc.human, err)
		}
		if back.Cmp(amount) != 0 {
			t.Fatalf("ParseUnits(%s) = %s, want %s", tc.human, back, tc.raw)
		}
	}

	if _, err := ParseUnits("1.1234567", 6); err == nil {
		t.Fatalf("expected an error for too many decimals")
	}
	if _, err := ParseUnits("1.2x", 6); err == nil {
		t.Fatalf("expected an error for non-digits")
	}
}
