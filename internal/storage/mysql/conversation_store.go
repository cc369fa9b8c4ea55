package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"WalletHub/internal/conversation"
	xerrors "WalletHub/internal/errors"

	"github.com/google/uuid"
)

const (
	upsertActiveConversationSQL = `INSERT INTO conversations (id, user_id, status, active_user_id, created_at)
VALUES (?, ?, 'active', ?, ?)
ON DUPLICATE KEY UPDATE id = id`
	selectActiveConversationSQL = `SELECT id, user_id, status, created_at FROM conversations WHERE active_user_id = ?`
	selectConversationSQL       = `SELECT id, user_id, status, created_at FROM conversations WHERE id = ?`
	closeConversationSQL        = `UPDATE conversations SET status = 'closed', active_user_id = NULL, closed_at = ? WHERE id = ? AND status = 'active'`
)

// ConversationStore 基于唯一索引 active_user_id 实现原子的“查找或创建”。
type ConversationStore struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// NewConversationStore 使用已完成迁移的连接池创建存储。
func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db, now: time.Now, newID: uuid.NewString}
}

// ResolveActive 实现 conversation.Store。插入与唯一索引冲突时保留已有行，随后读回当前活跃会话。
func (s *ConversationStore) ResolveActive(ctx context.Context, userID string) (conversation.Conversation, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return conversation.Conversation{}, false, xerrors.New(xerrors.CodeInvalidArgument, "user id is required")
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	newID := uuid.NewString
	if s.newID != nil {
		newID = s.newID
	}
	// 是否新建以读回的 id 判断，影响行数受 clientFoundRows 影响不可靠。
	candidate := newID()
	if _, err := s.db.ExecContext(ctx, upsertActiveConversationSQL, candidate, userID, userID, now().UnixMilli()); err != nil {
		return conversation.Conversation{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建会话失败")
	}

	conv, err := s.scan(s.db.QueryRowContext(ctx, selectActiveConversationSQL, userID))
	if err != nil {
		return conversation.Conversation{}, false, err
	}
	return conv, conv.ID == candidate, nil
}

// Get 实现 conversation.Store。
func (s *ConversationStore) Get(ctx context.Context, id string) (conversation.Conversation, error) {
	return s.scan(s.db.QueryRowContext(ctx, selectConversationSQL, id))
}

// Close 实现 conversation.Store。
func (s *ConversationStore) Close(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, closeConversationSQL, time.Now().UnixMilli(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭会话失败")
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		_, err := s.Get(ctx, id)
		return err
	}
	return nil
}

func (s *ConversationStore) scan(row *sql.Row) (conversation.Conversation, error) {
	var (
		conv      conversation.Conversation
		status    string
		createdAt int64
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.Conversation{}, xerrors.New(xerrors.CodeNotFound, "conversation not found")
		}
		return conversation.Conversation{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	conv.Status = conversation.Status(status)
	conv.CreatedAt = time.UnixMilli(createdAt).UTC()
	return conv, nil
}

var _ conversation.Store = (*ConversationStore)(nil)
