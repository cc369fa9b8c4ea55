package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	xerrors "WalletHub/internal/errors"
	"WalletHub/internal/user"
)

// UserStore 从 users 表读取调用方的钱包地址。
type UserStore struct {
	db *sql.DB
}

// NewUserStore 创建用户存储。
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// FindByID 实现 user.Store。
func (s *UserStore) FindByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	err := s.db.QueryRowContext(ctx, `SELECT id, wallet_address FROM users WHERE id = ?`, strings.TrimSpace(id)).
		Scan(&u.ID, &u.WalletAddress)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, xerrors.New(xerrors.CodeNotFound, "User not found")
		}
		return user.User{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询用户失败")
	}
	if strings.TrimSpace(u.WalletAddress) == "" {
		return user.User{}, xerrors.New(xerrors.CodeNotFound, "User not found")
	}
	return u, nil
}

// ApplySeed 写入配置中的种子用户，已存在的用户只更新钱包地址。
func (s *UserStore) ApplySeed(ctx context.Context, users []user.User) error {
	for _, u := range users {
		if strings.TrimSpace(u.ID) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO users (id, wallet_address, created_at) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE wallet_address = VALUES(wallet_address)`,
			strings.TrimSpace(u.ID), strings.TrimSpace(u.WalletAddress), time.Now().Unix(),
		); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入种子用户失败")
		}
	}
	return nil
}

var _ user.Store = (*UserStore)(nil)
