package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "WalletHub/internal/errors"
	"WalletHub/internal/intent"
	"WalletHub/internal/web3"
	"WalletHub/internal/workflow"
	"WalletHub/pkg/logger"
)

// PreviewContext 携带预览所需的调用方上下文。
type PreviewContext struct {
	UserID         string
	ConversationID string
	IntentID       string
	WalletAddress  string
	// ChainID 为 0 表示请求未指定。
	ChainID int64
}

// ExecutionPreview 是只读的执行预览，不会签名或广播任何交易。
type ExecutionPreview struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	// Code 标记失败类别，不对外序列化。
	Code xerrors.Code `json:"-"`
}

// Executor 根据意图选择工作流并生成预览。
type Executor struct {
	registry *workflow.Registry
	log      *slog.Logger
}

// NewExecutor 创建预览执行器。
func NewExecutor(registry *workflow.Registry) *Executor {
	return &Executor{registry: registry, log: logger.Named("pipeline")}
}

// ResolveChainID 按 意图实体 > 请求上下文 > 默认链 的顺序确定链 ID。
func ResolveChainID(in *intent.Intent, requested int64) int64 {
	if in != nil {
		if id, ok := in.Entities.Int64(intent.EntityChainID); ok && id > 0 {
			return id
		}
	}
	if requested > 0 {
		return requested
	}
	return web3.DefaultChainID
}

// BuildExecutionPreview 分发意图。找不到工作流或工作流返回错误时 Success 为 false。
func (e *Executor) BuildExecutionPreview(ctx context.Context, in *intent.Intent, pc PreviewContext) (preview ExecutionPreview) {
	if in == nil {
		return ExecutionPreview{Error: "intent is required", Code: xerrors.CodeInvalidArgument}
	}
	handler, ok := e.registry.Resolve(in.Action)
	if !ok {
		return ExecutionPreview{
			Error: fmt.Sprintf("no workflow handler for action %q", in.Action),
			Code:  xerrors.CodeNoHandler,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("工作流执行发生 panic",
				slog.String("workflow", handler.Metadata().Name),
				slog.Any("panic", r))
			preview = ExecutionPreview{Error: xerrors.AttributesOf(xerrors.CodeNoHandler).Message, Code: xerrors.CodeNoHandler}
		}
	}()

	data, err := handler.Execute(ctx, workflow.Request{
		Action:         in.Action,
		UserID:         pc.UserID,
		ConversationID: pc.ConversationID,
		IntentID:       pc.IntentID,
		Address:        pc.WalletAddress,
		ChainID:        ResolveChainID(in, pc.ChainID),
		Entities:       in.Entities.Clone(),
	})
	if err != nil {
		e.log.Warn("工作流执行失败",
			slog.String("workflow", handler.Metadata().Name),
			slog.String("action", in.Action),
			slog.String("error", err.Error()))
		return ExecutionPreview{Error: xerrors.MessageOf(err), Code: xerrors.CodeNoHandler}
	}
	return ExecutionPreview{Success: true, Data: data}
}
