package auth

import (
	"context"
	"strings"
)

type subjectKey struct{}

// WithSubject 把已认证的调用方写入上下文，UserID 为空时原样返回 ctx。
func WithSubject(ctx context.Context, subject Subject) context.Context {
	subject.UserID = strings.TrimSpace(subject.UserID)
	if subject.UserID == "" {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFrom 读取中间件写入的调用方。
func SubjectFrom(ctx context.Context) (Subject, bool) {
	if ctx == nil {
		return Subject{}, false
	}
	subject, ok := ctx.Value(subjectKey{}).(Subject)
	return subject, ok
}

// UserIDFrom 返回调用方 ID，未认证时为空串。
func UserIDFrom(ctx context.Context) string {
	subject, _ := SubjectFrom(ctx)
	return subject.UserID
}
