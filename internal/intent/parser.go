package intent

import (
	"context"
	"strings"
	"unicode"

	"WalletHub/internal/llm"
	"WalletHub/internal/web3"
	"WalletHub/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Parser 把文本转换为候选意图。返回 (nil, nil) 表示未识别，这不是错误。
type Parser interface {
	Parse(ctx context.Context, text string) (*Intent, error)
}

type keywordRule struct {
	action   string
	risk     RiskLevel
	keywords []string
}

// 按优先级排列：写操作优先于只读查询，余额优先于 NFT 与授权。
var keywordRules = []keywordRule{
	{action: ActionTransfer, risk: RiskHigh, keywords: []string{"send", "transfer", "pay"}},
	{action: ActionSwap, risk: RiskMedium, keywords: []string{"swap", "exchange", "trade", "convert"}},
	{action: ActionBalanceQuery, risk: RiskLow, keywords: []string{"balance", "balances", "how much", "holdings", "portfolio"}},
	{action: ActionNFTQuery, risk: RiskLow, keywords: []string{"nft", "nfts", "collectible", "collectibles"}},
	{action: ActionApprovalQuery, risk: RiskLow, keywords: []string{"approval", "approvals", "allowance", "allowances", "approved"}},
}

// RuleParser 是基于关键词的确定性解析器，链别名与代币符号来自 ChainRegistry。
type RuleParser struct {
	chains *web3.ChainRegistry
}

// NewRuleParser 创建规则解析器。
func NewRuleParser(chains *web3.ChainRegistry) *RuleParser {
	if chains == nil {
		chains = web3.DefaultChainRegistry()
	}
	return &RuleParser{chains: chains}
}

type scannedText struct {
	words  []string
	raw    []string
	padded string
}

func scan(text string) scannedText {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-')
	})
	words := make([]string, 0, len(raw))
	kept := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.Trim(token, ".-")
		if token == "" {
			continue
		}
		kept = append(kept, token)
		words = append(words, strings.ToLower(token))
	}
	return scannedText{words: words, raw: kept, padded: " " + strings.Join(words, " ") + " "}
}

func (s scannedText) contains(phrase string) bool {
	return strings.Contains(s.padded, " "+phrase+" ")
}

// Parse 实现 Parser。
func (p *RuleParser) Parse(_ context.Context, text string) (*Intent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	scanned := scan(text)

	hits := make(map[string]bool, len(keywordRules))
	var primary *keywordRule
	for i := range keywordRules {
		rule := &keywordRules[i]
		for _, keyword := range rule.keywords {
			if scanned.contains(keyword) {
				hits[rule.action] = true
				if primary == nil {
					primary = rule
				}
				break
			}
		}
	}
	if primary == nil {
		return nil, nil
	}

	entities := Entities{}
	consumed := make(map[int]bool)

	chainID, hasChain := p.extractChain(scanned, consumed)
	if hasChain {
		entities[EntityChainID] = chainID
	}
	if symbol, ok := p.extractTokenSymbol(scanned); ok {
		entities[EntityToken] = symbol
		resolveTokenSymbol(p.chains, primary.action, entities)
	}

	switch primary.action {
	case ActionTransfer, ActionSwap:
		if amount, ok := extractAmount(scanned, consumed); ok {
			entities[EntityAmount] = amount
		}
		if primary.action == ActionTransfer {
			if recipient, ok := extractRecipient(scanned); ok {
				entities[EntityRecipient] = recipient
			}
		}
	case ActionBalanceQuery:
		if literals := extractAddresses(scanned); len(literals) > 0 {
			existing, _ := entities.Strings(EntityTokens)
			entities[EntityTokens] = append(existing, literals...)
		}
	}

	if hits[ActionNFTQuery] {
		entities[EntityIncludeNFTs] = true
	}
	if hits[ActionApprovalQuery] {
		entities[EntityIncludeApprovals] = true
	}

	confidence := 0.9 + 0.05*float64(len(entities))
	if confidence > 1 {
		confidence = 1
	}
	return New(primary.action, entities, confidence, primary.risk), nil
}

func (p *RuleParser) extractChain(s scannedText, consumed map[int]bool) (int64, bool) {
	for i, word := range s.words {
		if word != "chain" && word != "chainid" {
			continue
		}
		next := i + 1
		if next < len(s.words) && s.words[next] == "id" {
			next++
		}
		if next < len(s.words) {
			if id, ok := (Entities{"v": s.words[next]}).Int64("v"); ok && id > 0 {
				consumed[next] = true
				return id, true
			}
		}
	}
	for _, alias := range p.chains.Aliases() {
		if s.contains(alias) {
			chain, _ := p.chains.Resolve(alias)
			return chain.ID, true
		}
	}
	return 0, false
}

func (p *RuleParser) extractTokenSymbol(s scannedText) (string, bool) {
	known := make(map[string]bool)
	for _, symbol := range p.chains.TokenSymbols() {
		known[strings.ToLower(symbol)] = true
	}
	for _, word := range s.words {
		if known[word] {
			return strings.ToUpper(word), true
		}
	}
	return "", false
}

func extractAmount(s scannedText, consumed map[int]bool) (string, bool) {
	for i, word := range s.words {
		if consumed[i] || strings.HasPrefix(word, "0x") || !isDecimal(word) {
			continue
		}
		return word, true
	}
	return "", false
}

func isDecimal(word string) bool {
	digits, dots := 0, 0
	for _, r := range word {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}

func extractRecipient(s scannedText) (string, bool) {
	for i, word := range s.words {
		if word == "to" && i+1 < len(s.raw) && common.IsHexAddress(s.raw[i+1]) {
			return s.raw[i+1], true
		}
	}
	for _, token := range s.raw {
		if common.IsHexAddress(token) {
			return token, true
		}
	}
	return "", false
}

func extractAddresses(s scannedText) []string {
	var out []string
	for _, token := range s.raw {
		if strings.HasPrefix(strings.ToLower(token), "0x") && common.IsHexAddress(token) {
			out = append(out, token)
		}
	}
	return out
}

// CatalogFunc 返回当前注册的工作流元数据，供大模型参考。
type CatalogFunc func() []llm.WorkflowHint

// LLMParser 通过外部大模型完成意图识别。
type LLMParser struct {
	client  llm.Client
	catalog CatalogFunc
	chains  *web3.ChainRegistry
}

// NewLLMParser 创建基于大模型的解析器。
func NewLLMParser(client llm.Client, catalog CatalogFunc, chains *web3.ChainRegistry) *LLMParser {
	if chains == nil {
		chains = web3.DefaultChainRegistry()
	}
	return &LLMParser{client: client, catalog: catalog, chains: chains}
}

// Parse 实现 Parser。未知动作或空回复视为未识别。
func (p *LLMParser) Parse(ctx context.Context, text string) (*Intent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	req := llm.Request{Text: text}
	known := make(map[string]bool)
	if p.catalog != nil {
		req.Workflows = p.catalog()
		for _, wf := range req.Workflows {
			known[wf.Name] = true
			for _, trigger := range wf.Intents {
				known[trigger] = true
			}
		}
	}
	for _, chain := range p.chains.Chains() {
		req.Chains = append(req.Chains, llm.ChainHint{ID: chain.ID, Name: chain.Name})
	}

	resp, err := p.client.ParseIntent(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Action) == "" {
		return nil, nil
	}
	action := strings.TrimSpace(resp.Action)
	if len(known) > 0 && !known[action] {
		return nil, nil
	}

	risk := RiskLevel(resp.RiskLevel)
	if risk == "" {
		risk = defaultRisk(action)
	}
	entities := Entities(resp.Entities).Clone()
	resolveTokenSymbol(p.chains, action, entities)
	return New(action, entities, resp.Confidence, risk), nil
}

// resolveTokenSymbol 为余额查询把 token 符号解析为所在链上的合约地址并加入 tokens。
// 未指定链时按默认链解析，未知符号保持原样。
func resolveTokenSymbol(chains *web3.ChainRegistry, action string, entities Entities) {
	if action != ActionBalanceQuery {
		return
	}
	symbol, ok := entities.String(EntityToken)
	if !ok || strings.TrimSpace(symbol) == "" {
		return
	}
	chainID, ok := entities.Int64(EntityChainID)
	if !ok {
		chainID = web3.DefaultChainID
	}
	address, ok := chains.TokenAddress(chainID, symbol)
	if !ok {
		return
	}
	tokens, _ := entities.Strings(EntityTokens)
	for _, existing := range tokens {
		if strings.EqualFold(existing, address) {
			return
		}
	}
	entities[EntityTokens] = append(tokens, address)
}

func defaultRisk(action string) RiskLevel {
	for _, rule := range keywordRules {
		if rule.action == action {
			return rule.risk
		}
	}
	return RiskLow
}

// FallbackParser 依次尝试多个解析器，出错时记录日志并继续尝试下一个。
type FallbackParser struct {
	parsers []Parser
}

// NewFallbackParser 创建回退解析器，忽略 nil 项。
func NewFallbackParser(parsers ...Parser) *FallbackParser {
	kept := make([]Parser, 0, len(parsers))
	for _, p := range parsers {
		if p != nil {
			kept = append(kept, p)
		}
	}
	return &FallbackParser{parsers: kept}
}

// Parse 实现 Parser。
func (f *FallbackParser) Parse(ctx context.Context, text string) (*Intent, error) {
	for idx, parser := range f.parsers {
		in, err := parser.Parse(ctx, text)
		if err != nil {
			logger.Named("intent").Warn("意图解析器失败，尝试下一个", "parser", idx, "error", err)
			continue
		}
		if in != nil {
			return in, nil
		}
	}
	return nil, nil
}
