package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.UserStore = (*UserRepo)(nil)

// UserRepo is the SQLite implementation of the UserStore port interface.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a new UserRepo backed by the given DB.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u model.User) error {
	const query = `INSERT INTO users (id, username, email, phone, wallet_address, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		u.ID, u.Username, u.Email, u.Phone, u.WalletAddress, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.ID, err)
	}
	return nil
}

// GetByID retrieves a user by id. Returns driven.ErrUserNotFound if absent.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	const query = `SELECT id, username, email, phone, wallet_address, created_at FROM users WHERE id = ?`

	var (
		u         model.User
		createdAt string
	)
	err := r.db.Reader.QueryRowContext(ctx, query, id).Scan(
		&u.ID, &u.Username, &u.Email, &u.Phone, &u.WalletAddress, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	u.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at for user %s: %w", id, err)
	}
	return &u, nil
}
