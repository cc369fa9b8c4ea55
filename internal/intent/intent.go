// Package intent 负责把自然语言转换为结构化意图，并在进入下游流程前完成业务校验。
package intent

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RiskLevel 表示意图的风险等级。
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Known reports whether the level is one of the defined values.
func (r RiskLevel) Known() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

func (r RiskLevel) rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	}
	return 0
}

// 已知的动作名称。
const (
	ActionBalanceQuery  = "balance_query"
	ActionNFTQuery      = "nft_query"
	ActionApprovalQuery = "approval_query"
	ActionTransfer      = "transfer"
	ActionSwap          = "swap"
)

// 实体名称。
const (
	EntityChainID          = "chainId"
	EntityToken            = "token"
	EntityTokens           = "tokens"
	EntityAmount           = "amount"
	EntityRecipient        = "recipient"
	EntityIncludeNFTs      = "includeNFTs"
	EntityIncludeApprovals = "includeApprovals"
)

// Intent 是从自然语言中提取出的结构化意图。创建后不应再被修改，需要调整时使用 Clone。
type Intent struct {
	Action     string    `json:"action"`
	Entities   Entities  `json:"entities"`
	Confidence float64   `json:"confidence"`
	RiskLevel  RiskLevel `json:"riskLevel"`
}

// New 创建意图并复制实体，调用方之后对 entities 的修改不会影响意图。
func New(action string, entities Entities, confidence float64, risk RiskLevel) *Intent {
	return &Intent{
		Action:     action,
		Entities:   entities.Clone(),
		Confidence: confidence,
		RiskLevel:  risk,
	}
}

// Clone 返回意图的深拷贝。
func (i *Intent) Clone() *Intent {
	if i == nil {
		return nil
	}
	return New(i.Action, i.Entities, i.Confidence, i.RiskLevel)
}

// Entities 保存提取出的槽位值。
type Entities map[string]any

// Clone 复制实体，切片值也会被复制。
func (e Entities) Clone() Entities {
	out := make(Entities, len(e))
	for k, v := range e {
		switch typed := v.(type) {
		case []string:
			out[k] = append([]string(nil), typed...)
		case []any:
			out[k] = append([]any(nil), typed...)
		default:
			out[k] = v
		}
	}
	return out
}

// Has reports whether the entity is present.
func (e Entities) Has(key string) bool {
	_, ok := e[key]
	return ok
}

// Int64 读取整数实体，兼容 JSON 解码产生的 float64 与字符串。
func (e Entities) Int64(key string) (int64, bool) {
	switch v := e[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

// String 读取字符串实体，数字会按十进制格式化。
func (e Entities) String(key string) (string, bool) {
	switch v := e[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int, int64:
		return fmt.Sprint(v), true
	}
	return "", false
}

// Bool 读取布尔实体。
func (e Entities) Bool(key string) bool {
	switch v := e[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// Strings 读取字符串列表实体。第二个返回值表示实体是否存在且为列表。
func (e Entities) Strings(key string) ([]string, bool) {
	switch v := e[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	}
	return nil, false
}
