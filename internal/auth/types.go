package auth

import "errors"

// Mode 表示认证模式。
type Mode string

const (
	// ModeDisabled 直接信任请求头中的用户 ID，仅用于本地开发。
	ModeDisabled Mode = "disabled"
	// ModeJWT 校验 HS256 Bearer Token，sub 即用户 ID。
	ModeJWT Mode = "jwt"
)

// DefaultUserHeader 是 disabled 模式下读取用户 ID 的请求头。
const DefaultUserHeader = "X-User-ID"

// Config 描述认证配置。
type Config struct {
	Mode   Mode
	Header string
	JWT    JWTConfig
}

// JWTConfig 描述 JWT 校验参数。
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// Subject 描述已认证的调用方。
type Subject struct {
	UserID string
	Mode   Mode
}

var (
	// ErrMissingCredentials 表示请求未携带凭证。
	ErrMissingCredentials = errors.New("missing credentials")
	// ErrInvalidToken 表示凭证无法通过校验。
	ErrInvalidToken = errors.New("invalid token")
)
