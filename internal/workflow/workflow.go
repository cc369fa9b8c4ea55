// Package workflow 维护工作流注册表：既用于意图分发，也把可识别的意图与示例回传给 NLU。
package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"WalletHub/internal/intent"
	"WalletHub/internal/llm"
)

// Metadata 描述一个工作流对外公布的能力。
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Examples    []string `json:"examples"`
	Intents     []string `json:"intents"`
}

// Request 是分发给工作流的规范化参数。
type Request struct {
	Action         string
	UserID         string
	ConversationID string
	IntentID       string
	Address        string
	ChainID        int64
	Entities       intent.Entities
}

// Handler 实现一类意图。Execute 只在结构性故障时返回错误，部分数据缺失应体现在结果中。
type Handler interface {
	Metadata() Metadata
	Execute(ctx context.Context, req Request) (any, error)
}

// Registry 按名称与触发意图索引工作流。
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Handler
	byIntent map[string]Handler
}

// NewRegistry 创建注册表并注册给定的工作流。
func NewRegistry(handlers ...Handler) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]Handler),
		byIntent: make(map[string]Handler),
	}
	for _, h := range handlers {
		if err := r.Register(h); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册工作流，名称或触发意图重复时返回错误。
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("工作流不能为空")
	}
	meta := h.Metadata()
	name := strings.TrimSpace(meta.Name)
	if name == "" {
		return fmt.Errorf("工作流缺少名称")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("工作流 %s 已注册", name)
	}
	for _, trigger := range meta.Intents {
		if owner, exists := r.byIntent[trigger]; exists {
			return fmt.Errorf("意图 %s 已由工作流 %s 处理", trigger, owner.Metadata().Name)
		}
	}
	r.byName[name] = h
	for _, trigger := range meta.Intents {
		r.byIntent[trigger] = h
	}
	return nil
}

// Resolve 根据动作名找到工作流，动作可以是工作流名称或其触发意图。
func (r *Registry) Resolve(action string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	action = strings.TrimSpace(action)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.byIntent[action]; ok {
		return h, true
	}
	h, ok := r.byName[action]
	return h, ok
}

// Catalog 返回按名称排序的工作流元数据。
func (r *Registry) Catalog() []Metadata {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metadata, 0, len(r.byName))
	for _, h := range r.byName {
		out = append(out, h.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Hints 把目录转换为 NLU 提示。
func (r *Registry) Hints() []llm.WorkflowHint {
	catalog := r.Catalog()
	hints := make([]llm.WorkflowHint, 0, len(catalog))
	for _, meta := range catalog {
		hints = append(hints, llm.WorkflowHint{
			Name:        meta.Name,
			Description: meta.Description,
			Examples:    meta.Examples,
			Intents:     meta.Intents,
		})
	}
	return hints
}
