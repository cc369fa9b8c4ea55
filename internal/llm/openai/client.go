// Package openai calls an OpenAI-compatible Chat Completions endpoint to
// turn free text into an intent candidate.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"WalletHub/internal/llm"

	"github.com/go-resty/resty/v2"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 15 * time.Second

	maxPromptRunes   = 500
	maxExamplesShown = 5
)

// Config 描述 Chat Completions 接入参数。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client 实现 llm.Client。
type Client struct {
	http  *resty.Client
	model string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// candidate 是模型输出的 JSON 结构。
type candidate struct {
	Action     string         `json:"action"`
	Entities   map[string]any `json:"entities"`
	Confidence float64        `json:"confidence"`
	RiskLevel  string         `json:"riskLevel"`
}

// NewClient 校验配置并创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &Client{http: httpClient, model: model}, nil
}

// ParseIntent 将 req.Text 连同工作流目录发送给模型，并解析返回的意图 JSON。
func (c *Client) ParseIntent(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var (
		decoded chatResponse
		failure apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(c.newChatRequest(req)).
		SetResult(&decoded).
		SetError(&failure).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("请求 OpenAI 失败: %w", err)
	}
	if resp.IsError() {
		msg := failure.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(truncate(resp.String(), 2048))
		}
		return nil, fmt.Errorf("OpenAI 返回错误状态 %d: %s", resp.StatusCode(), msg)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("OpenAI 响应中没有有效的 choices")
	}

	content := stripFence(decoded.Choices[0].Message.Content)
	if content == "" {
		return nil, errors.New("OpenAI 响应内容为空")
	}

	var out candidate
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("OpenAI 响应不是有效的意图 JSON: %w", err)
	}
	return &llm.Response{
		Action:     strings.TrimSpace(out.Action),
		Entities:   out.Entities,
		Confidence: out.Confidence,
		RiskLevel:  strings.ToLower(strings.TrimSpace(out.RiskLevel)),
	}, nil
}

func (c *Client) newChatRequest(req llm.Request) chatRequest {
	return chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(req)},
		},
		ResponseFormat: responseFormat{Type: "json_object"},
	}
}

// stripFence 去掉模型偶尔包裹的 ```json 代码块。
func stripFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

const systemPrompt = "" +
	"You are WalletHub's intent parser. Map the user's request to exactly one of the listed intents. " +
	"Respond with a compact JSON object: " +
	"{\"action\": string, \"entities\": object, \"confidence\": number, \"riskLevel\": \"low\"|\"medium\"|\"high\"}. " +
	"Use an empty action when nothing matches. Entities may include chainId (integer), token, tokens (array of " +
	"contract addresses), amount (decimal string), recipient, includeNFTs and includeApprovals (booleans). " +
	"Read-only queries are low risk; swaps are medium; transfers are high."

func userPrompt(req llm.Request) string {
	var b strings.Builder
	b.WriteString("## Supported intents\n")
	for _, wf := range req.Workflows {
		fmt.Fprintf(&b, "- %s (%s): %s\n", wf.Name, strings.Join(wf.Intents, ", "), wf.Description)
		for i, example := range wf.Examples {
			if i == maxExamplesShown {
				break
			}
			fmt.Fprintf(&b, "  e.g. %q\n", example)
		}
	}

	if len(req.Chains) > 0 {
		b.WriteString("\n## Supported chains\n")
		for _, chain := range req.Chains {
			fmt.Fprintf(&b, "- %d %s\n", chain.ID, chain.Name)
		}
	}

	b.WriteString("\n## Request\n")
	b.WriteString(truncate(strings.TrimSpace(req.Text), maxPromptRunes))
	return b.String()
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
