// Package errors 定义 WalletHub 的错误码。HTTP 状态码、告警与严重程度都由错误码推导，
// 不依赖错误文本。
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeUnrecognizedInput     Code = "UNRECOGNIZED_INPUT"
	CodeValidationFailed      Code = "VALIDATION_FAILED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeNoHandler             Code = "NO_HANDLER"
	CodeDataSourceUnavailable Code = "DATA_SOURCE_UNAVAILABLE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
)

// Attributes 是错误码的默认行为。
type Attributes struct {
	Message    string
	Severity   Severity
	Alert      bool
	HTTPStatus int
}

// 表在包初始化后只读。
var codes = map[Code]Attributes{
	CodeUnknown:               {"internal error", SeverityCritical, true, http.StatusInternalServerError},
	CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, http.StatusBadRequest},
	CodeUnrecognizedInput:     {"Could not understand input", SeverityInfo, false, http.StatusBadRequest},
	CodeValidationFailed:      {"invalid intent", SeverityInfo, false, http.StatusBadRequest},
	CodeNotFound:              {"resource not found", SeverityInfo, false, http.StatusNotFound},
	CodeNoHandler:             {"Failed to build preview", SeverityInfo, false, http.StatusBadRequest},
	CodeDataSourceUnavailable: {"data source unavailable", SeverityWarning, false, http.StatusBadGateway},
	CodeStorageFailure:        {"storage failure", SeverityCritical, true, http.StatusInternalServerError},
	CodeTimeout:               {"operation timed out", SeverityWarning, true, http.StatusGatewayTimeout},
	CodeUnauthenticated:       {"unauthenticated", SeverityInfo, false, http.StatusUnauthorized},
}

// AttributesOf 返回错误码对应的属性，未知错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	if attr, ok := codes[code]; ok {
		return attr
	}
	return codes[CodeUnknown]
}

// Error 携带错误码、面向调用方的信息以及底层原因。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，随告警一起发送。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建错误。message 为空时使用错误码的默认信息。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wrap 与 New 相同，但保留 cause 以便 errors.Is/As。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// Is 按错误码匹配，New(code, "") 可作为 errors.Is 的哨兵。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t != nil && e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code { return e.code }

// Message 返回面向调用方的信息，不包含底层原因。
func (e *Error) Message() string { return e.message }

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// ShouldAlert 报告该错误码是否需要告警。
func (e *Error) ShouldAlert() bool {
	return AttributesOf(e.code).Alert
}

// From 在错误链中查找 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链中的错误码，没有则为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.code
	}
	return CodeUnknown
}

// HTTPStatusOf 根据错误码映射 HTTP 状态码。
func HTTPStatusOf(err error) int {
	return AttributesOf(CodeOf(err)).HTTPStatus
}

// MessageOf 返回可以直接展示给调用方的信息。
func MessageOf(err error) string {
	if e, ok := From(err); ok {
		return e.message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// ShouldAlert 判断任意 error 是否需要告警。未编码的错误一律告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return err != nil
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	return AttributesOf(CodeOf(err)).Severity
}
