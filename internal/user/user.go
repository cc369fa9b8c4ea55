// Package user 提供只读的用户查询端口，核心流程只读取钱包地址。
package user

import (
	"context"
	"strings"
	"sync"

	xerrors "WalletHub/internal/errors"
)

// User 描述一个已认证的调用方。
type User struct {
	ID            string `json:"id" mapstructure:"id"`
	WalletAddress string `json:"walletAddress" mapstructure:"wallet_address"`
}

// Store 是用户存储端口，找不到用户时返回 NOT_FOUND。
type Store interface {
	FindByID(ctx context.Context, id string) (User, error)
}

// MemoryStore 是基于配置种子的内存实现。
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewMemoryStore 使用给定用户初始化存储。
func NewMemoryStore(users ...User) *MemoryStore {
	s := &MemoryStore{users: make(map[string]User, len(users))}
	for _, u := range users {
		s.Put(u)
	}
	return s
}

// Put 新增或覆盖用户。
func (s *MemoryStore) Put(u User) {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return
	}
	u.ID = id
	u.WalletAddress = strings.TrimSpace(u.WalletAddress)
	s.mu.Lock()
	s.users[id] = u
	s.mu.Unlock()
}

// FindByID 实现 Store。没有钱包地址的用户同样视为不存在。
func (s *MemoryStore) FindByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	u, ok := s.users[strings.TrimSpace(id)]
	s.mu.RUnlock()
	if !ok || u.WalletAddress == "" {
		return User{}, xerrors.New(xerrors.CodeNotFound, "User not found")
	}
	return u, nil
}

var _ Store = (*MemoryStore)(nil)
