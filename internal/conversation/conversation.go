// Package conversation 维护用户的会话上下文，保证每个用户同一时刻最多只有一个活跃会话。
package conversation

import (
	"context"
	"time"
)

// Status 表示会话状态。
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// Conversation 绑定一个用户的一系列意图。
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	Status    Status    `json:"status"`
}

// Store 是会话存储端口。ResolveActive 必须是原子的：对同一用户的并发调用只会创建一个会话。
type Store interface {
	// ResolveActive 返回用户的活跃会话，不存在时创建；created 表示本次是否新建。
	ResolveActive(ctx context.Context, userID string) (Conversation, bool, error)
	// Get 按 ID 查询会话，不存在时返回 NOT_FOUND。
	Get(ctx context.Context, id string) (Conversation, error)
	// Close 关闭会话并释放用户的活跃槽位。
	Close(ctx context.Context, id string) error
}
