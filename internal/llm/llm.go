package llm

import "context"

// Request 描述一次意图识别请求。
type Request struct {
	Text      string
	Workflows []WorkflowHint
	Chains    []ChainHint
}

// WorkflowHint 把工作流元数据提供给大模型，作为可识别意图的唯一来源。
type WorkflowHint struct {
	Name        string
	Description string
	Examples    []string
	Intents     []string
}

// ChainHint 描述一条受支持的链。
type ChainHint struct {
	ID   int64
	Name string
}

// Response 是大模型返回的结构化意图。Action 为空表示未识别。
type Response struct {
	Action     string
	Entities   map[string]any
	Confidence float64
	RiskLevel  string
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	ParseIntent(ctx context.Context, req Request) (*Response, error)
}
