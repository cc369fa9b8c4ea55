package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"WalletHub/pkg/logger"

	"github.com/golang-jwt/jwt/v4"
)

// Service 负责从 HTTP 请求中解析调用方身份。
type Service struct {
	mode     Mode
	header   string
	secret   []byte
	issuer   string
	audience string
	audit    *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	header := strings.TrimSpace(cfg.Header)
	if header == "" {
		header = DefaultUserHeader
	}
	svc := &Service{mode: mode, header: header, audit: logger.Audit()}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.secret = []byte(cfg.JWT.Secret)
		svc.issuer = cfg.JWT.Issuer
		svc.audience = cfg.JWT.Audience
		return svc, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode { return s.mode }

// Authenticate 解析请求携带的身份。
func (s *Service) Authenticate(r *http.Request) (*Subject, error) {
	if s.mode == ModeDisabled {
		userID := strings.TrimSpace(r.Header.Get(s.header))
		if userID == "" {
			return nil, ErrMissingCredentials
		}
		return &Subject{UserID: userID, Mode: s.mode}, nil
	}

	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return nil, ErrMissingCredentials
	}
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return nil, ErrInvalidToken
	}
	return s.verify(strings.TrimSpace(raw[7:]))
}

func (s *Service) verify(tokenString string) (*Subject, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return nil, ErrInvalidToken
	}
	if s.audience != "" && !claims.VerifyAudience(s.audience, true) {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &Subject{UserID: claims.Subject, Mode: s.mode}, nil
}

// IssueToken 为指定用户签发访问令牌，供运维脚本与测试使用。
func (s *Service) IssueToken(userID string, ttl time.Duration) (string, error) {
	if s.mode != ModeJWT {
		return "", errors.New("token issuing requires jwt mode")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
