package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"WalletHub/internal/conversation"
	xerrors "WalletHub/internal/errors"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "wallethub"

// KEYS[1] 活跃指针, KEYS[2] 候选会话; ARGV: id, user_id, created_at(ms)
var resolveActiveScript = goredis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	return {current, 0}
end
redis.call('HSET', KEYS[2], 'id', ARGV[1], 'user_id', ARGV[2], 'status', 'active', 'created_at', ARGV[3])
redis.call('SET', KEYS[1], ARGV[1])
return {ARGV[1], 1}
`)

// KEYS[1] 会话, KEYS[2] 活跃指针前缀; ARGV: id, closed_at(ms)
var closeScript = goredis.NewScript(`
local userID = redis.call('HGET', KEYS[1], 'user_id')
if not userID then
	return -1
end
if redis.call('HGET', KEYS[1], 'status') == 'closed' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'closed', 'closed_at', ARGV[2])
local active = KEYS[2] .. userID
if redis.call('GET', active) == ARGV[1] then
	redis.call('DEL', active)
end
return 1
`)

// ConversationStore 使用 Lua 脚本在 Redis 中原子地查找或创建活跃会话。
type ConversationStore struct {
	client goredis.Cmdable
	prefix string
	now    func() time.Time
}

// NewConversationStore 创建 Redis 会话存储，prefix 为空时使用 "wallethub"。
func NewConversationStore(client goredis.Cmdable, prefix string) *ConversationStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &ConversationStore{client: client, prefix: prefix, now: time.Now}
}

func (s *ConversationStore) activeKey(userID string) string {
	return s.activePrefix() + userID
}

func (s *ConversationStore) activePrefix() string {
	return s.prefix + ":conversation:active:"
}

func (s *ConversationStore) conversationKey(id string) string {
	return s.prefix + ":conversation:" + id
}

// ResolveActive 实现 conversation.Store。
func (s *ConversationStore) ResolveActive(ctx context.Context, userID string) (conversation.Conversation, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return conversation.Conversation{}, false, xerrors.New(xerrors.CodeInvalidArgument, "user id is required")
	}

	candidate := uuid.NewString()
	keys := []string{s.activeKey(userID), s.conversationKey(candidate)}
	raw, err := resolveActiveScript.Run(ctx, s.client, keys, candidate, userID, s.now().UnixMilli()).Slice()
	if err != nil {
		return conversation.Conversation{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析活跃会话失败")
	}
	if len(raw) != 2 {
		return conversation.Conversation{}, false, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("unexpected script reply %v", raw))
	}
	id, _ := raw[0].(string)
	created, _ := raw[1].(int64)

	conv, err := s.Get(ctx, id)
	if err != nil {
		return conversation.Conversation{}, false, err
	}
	return conv, created == 1, nil
}

// Get 实现 conversation.Store。
func (s *ConversationStore) Get(ctx context.Context, id string) (conversation.Conversation, error) {
	fields, err := s.client.HGetAll(ctx, s.conversationKey(id)).Result()
	if err != nil {
		return conversation.Conversation{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	if len(fields) == 0 {
		return conversation.Conversation{}, xerrors.New(xerrors.CodeNotFound, "conversation not found")
	}
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	return conversation.Conversation{
		ID:        fields["id"],
		UserID:    fields["user_id"],
		Status:    conversation.Status(fields["status"]),
		CreatedAt: time.UnixMilli(createdAt).UTC(),
	}, nil
}

// Close 实现 conversation.Store，重复关闭不会报错。
func (s *ConversationStore) Close(ctx context.Context, id string) error {
	keys := []string{s.conversationKey(id), s.activePrefix()}
	outcome, err := closeScript.Run(ctx, s.client, keys, id, s.now().UnixMilli()).Int64()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭会话失败")
	}
	if outcome < 0 {
		return xerrors.New(xerrors.CodeNotFound, "conversation not found")
	}
	return nil
}

var _ conversation.Store = (*ConversationStore)(nil)
