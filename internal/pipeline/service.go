package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"WalletHub/internal/conversation"
	xerrors "WalletHub/internal/errors"
	"WalletHub/internal/events"
	"WalletHub/internal/intent"
	"WalletHub/internal/user"
	"WalletHub/pkg/logger"

	"github.com/google/uuid"
)

// BuildRequest 是一次 /intents/build 调用的输入。
type BuildRequest struct {
	UserID string
	Input  string
	// ChainID 为 0 表示未指定。
	ChainID int64
}

// BuildOutput 汇总一次成功的预览。
type BuildOutput struct {
	Intent              *intent.Intent
	Preview             ExecutionPreview
	ConversationID      string
	IntentID            string
	ChainID             int64
	ConversationCreated bool
}

// Service 编排 解析 -> 校验 -> 上下文 -> 预览 -> 事件 的完整流程。
type Service struct {
	parser        intent.Parser
	validator     *intent.Validator
	users         user.Store
	conversations conversation.Store
	executor      *Executor
	publisher     events.Publisher
	newID         func() string
	now           func() time.Time
	log           *slog.Logger
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithPublisher 配置预览事件的发布器。
func WithPublisher(p events.Publisher) ServiceOption {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// NewService 创建流水线服务。
func NewService(parser intent.Parser, validator *intent.Validator, users user.Store, conversations conversation.Store, executor *Executor, opts ...ServiceOption) *Service {
	s := &Service{
		parser:        parser,
		validator:     validator,
		users:         users,
		conversations: conversations,
		executor:      executor,
		publisher:     events.Noop{},
		newID:         uuid.NewString,
		now:           time.Now,
		log:           logger.Named("pipeline"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Build 执行完整流程。解析未命中时不会触达任何下游依赖。
func (s *Service) Build(ctx context.Context, req BuildRequest) (*BuildOutput, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, xerrors.New(xerrors.CodeUnauthenticated, "")
	}

	parsed, err := s.parse(ctx, req.Input)
	if err != nil {
		return nil, err
	}

	if result := s.validator.Validate(parsed); !result.Valid {
		return nil, xerrors.New(xerrors.CodeValidationFailed, "Invalid intent: "+strings.Join(result.Errors, ", "))
	}

	account, err := s.users.FindByID(ctx, req.UserID)
	if err != nil {
		if xerrors.CodeOf(err) == xerrors.CodeNotFound {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err, "User not found")
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Failed to load user")
	}

	conv, created, err := s.conversations.ResolveActive(ctx, req.UserID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "Failed to resolve conversation")
	}

	out := &BuildOutput{
		Intent:              parsed,
		ConversationID:      conv.ID,
		IntentID:            s.newID(),
		ChainID:             ResolveChainID(parsed, req.ChainID),
		ConversationCreated: created,
	}
	out.Preview = s.executor.BuildExecutionPreview(ctx, parsed, PreviewContext{
		UserID:         req.UserID,
		ConversationID: conv.ID,
		IntentID:       out.IntentID,
		WalletAddress:  account.WalletAddress,
		ChainID:        req.ChainID,
	})

	s.publish(ctx, req.UserID, out)

	if !out.Preview.Success {
		return nil, xerrors.New(xerrors.CodeNoHandler, out.Preview.Error)
	}
	return out, nil
}

func (s *Service) parse(ctx context.Context, input string) (*intent.Intent, error) {
	if strings.TrimSpace(input) == "" {
		return nil, xerrors.New(xerrors.CodeUnrecognizedInput, "")
	}
	parsed, err := s.parser.Parse(ctx, input)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnknown, err, "Failed to parse input")
	}
	if parsed == nil {
		return nil, xerrors.New(xerrors.CodeUnrecognizedInput, "")
	}
	return parsed, nil
}

func (s *Service) publish(ctx context.Context, userID string, out *BuildOutput) {
	event := events.Event{
		ID:             out.IntentID,
		Type:           events.TypeIntentPreviewed,
		UserID:         userID,
		ConversationID: out.ConversationID,
		Action:         out.Intent.Action,
		ChainID:        out.ChainID,
		Success:        out.Preview.Success,
		OccurredAt:     s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("发布预览事件失败",
			slog.String("intent_id", out.IntentID),
			slog.String("error", err.Error()))
	}
}
