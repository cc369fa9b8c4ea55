package intent

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"WalletHub/internal/web3"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultMinConfidence 是默认的置信度阈值。
const DefaultMinConfidence = 0.3

// ValidationResult 是一次校验的结论，Errors 按规则顺序排列。
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Validator 对意图执行结构与业务规则校验，不做任何 I/O。
type Validator struct {
	chains        *web3.ChainRegistry
	minConfidence float64
}

// ValidatorOption 定义校验器的可选配置。
type ValidatorOption func(*Validator)

// WithMinConfidence 设置置信度阈值。
func WithMinConfidence(threshold float64) ValidatorOption {
	return func(v *Validator) {
		if threshold >= 0 && threshold <= 1 {
			v.minConfidence = threshold
		}
	}
}

// NewValidator 创建校验器。
func NewValidator(chains *web3.ChainRegistry, opts ...ValidatorOption) *Validator {
	if chains == nil {
		chains = web3.DefaultChainRegistry()
	}
	v := &Validator{chains: chains, minConfidence: DefaultMinConfidence}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

var readOnlyActions = map[string]bool{
	ActionBalanceQuery:  true,
	ActionNFTQuery:      true,
	ActionApprovalQuery: true,
}

// Validate 收集全部违规项而不是在第一个错误处返回。
func (v *Validator) Validate(in *Intent) ValidationResult {
	if in == nil {
		return ValidationResult{Errors: []string{"action is required"}}
	}

	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	action := strings.TrimSpace(in.Action)
	if action == "" {
		add("action is required")
	}

	confidenceInRange := in.Confidence >= 0 && in.Confidence <= 1
	if !confidenceInRange {
		add("confidence must be between 0 and 1")
	} else if in.Confidence < v.minConfidence {
		add("confidence %s is below threshold %s", formatFloat(in.Confidence), formatFloat(v.minConfidence))
	}

	if !in.RiskLevel.Known() {
		add("unknown risk level %q", string(in.RiskLevel))
	} else if action != "" {
		consistent := true
		switch {
		case readOnlyActions[action]:
			consistent = in.RiskLevel == RiskLow
		case action == ActionTransfer:
			consistent = in.RiskLevel == RiskHigh
		case action == ActionSwap:
			consistent = in.RiskLevel.rank() >= RiskMedium.rank()
		}
		if !consistent {
			add("risk level %s is inconsistent with action %s", in.RiskLevel, action)
		}
	}

	entities := in.Entities
	if entities.Has(EntityChainID) {
		id, ok := entities.Int64(EntityChainID)
		switch {
		case !ok || id <= 0:
			add("chainId must be a positive integer")
		case !v.chains.Supported(id):
			add("unsupported chainId %d", id)
		}
	}

	if tokens, ok := entities.Strings(EntityTokens); ok {
		for _, token := range tokens {
			if !common.IsHexAddress(strings.TrimSpace(token)) {
				add("token address %q is not a valid address", token)
			}
		}
	} else if entities.Has(EntityTokens) {
		add("tokens must be a list of addresses")
	}

	if action == ActionTransfer || action == ActionSwap {
		if amount, ok := entities.String(EntityAmount); !ok || strings.TrimSpace(amount) == "" {
			add("missing required entity %q", EntityAmount)
		} else if !positiveNumber(amount) {
			add("amount must be a positive number")
		}
	}
	if action == ActionTransfer {
		if recipient, ok := entities.String(EntityRecipient); !ok || strings.TrimSpace(recipient) == "" {
			add("missing required entity %q", EntityRecipient)
		} else if !common.IsHexAddress(strings.TrimSpace(recipient)) {
			add("recipient %q is not a valid address", recipient)
		}
	}
	if action == ActionSwap {
		if token, ok := entities.String(EntityToken); !ok || strings.TrimSpace(token) == "" {
			add("missing required entity %q", EntityToken)
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func positiveNumber(raw string) bool {
	value, ok := new(big.Rat).SetString(strings.TrimSpace(raw))
	return ok && value.Sign() > 0
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
