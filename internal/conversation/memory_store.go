package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	xerrors "WalletHub/internal/errors"

	"github.com/google/uuid"
)

// MemoryStore 是进程内的会话存储，用单把互斥锁保护“查找或创建”。
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Conversation
	active map[string]string
	now    func() time.Time
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Conversation),
		active: make(map[string]string),
		now:    time.Now,
	}
}

// ResolveActive 实现 Store。
func (s *MemoryStore) ResolveActive(_ context.Context, userID string) (Conversation, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Conversation{}, false, xerrors.New(xerrors.CodeInvalidArgument, "user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.active[userID]; ok {
		return s.byID[id], false, nil
	}
	conv := Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: s.now().UTC(),
		Status:    StatusActive,
	}
	s.byID[conv.ID] = conv
	s.active[userID] = conv.ID
	return conv, true, nil
}

// Get 实现 Store。
func (s *MemoryStore) Get(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[id]
	if !ok {
		return Conversation{}, xerrors.New(xerrors.CodeNotFound, "conversation not found")
	}
	return conv, nil
}

// Close 实现 Store，重复关闭不会报错。
func (s *MemoryStore) Close(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.byID[id]
	if !ok {
		return xerrors.New(xerrors.CodeNotFound, "conversation not found")
	}
	if conv.Status == StatusClosed {
		return nil
	}
	conv.Status = StatusClosed
	s.byID[id] = conv
	if s.active[conv.UserID] == id {
		delete(s.active, conv.UserID)
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
