package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenStore = (*TokenRepo)(nil)

// TokenRepo is the SQLite implementation of the TokenStore port interface.
// Scopes are stored space-joined; token ids never repeat so the ledger only
// ever grows or flips status.
type TokenRepo struct {
	db *DB
}

// NewTokenRepo creates a new TokenRepo backed by the given DB.
func NewTokenRepo(db *DB) *TokenRepo {
	return &TokenRepo{db: db}
}

const tokenColumns = `token_id, user_id, purpose, scopes, status, issued_at, expires_at, revoked_at, last_used_at`

// Create inserts a new ledger row for an issued token.
func (r *TokenRepo) Create(ctx context.Context, t model.DelegatedToken) error {
	const query = `INSERT INTO delegated_tokens (token_id, user_id, purpose, scopes, status, issued_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	status := t.Status
	if status == "" {
		status = model.TokenStatusActive
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		t.TokenID, t.UserID, string(t.Purpose), strings.Join(t.Scopes, " "),
		string(status), formatTime(t.IssuedAt), formatTime(t.ExpiresAt))
	if err != nil {
		return fmt.Errorf("create token %s: %w", t.TokenID, err)
	}
	return nil
}

// GetByID retrieves a token ledger row by id.
func (r *TokenRepo) GetByID(ctx context.Context, tokenID string) (*model.DelegatedToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM delegated_tokens WHERE token_id = ?`

	token, err := scanToken(r.db.Reader.QueryRowContext(ctx, query, tokenID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token %s: %w", tokenID, err)
	}
	return token, nil
}

// ListActiveByUser returns the user's active tokens of the given purpose,
// newest first. An empty purpose matches all purposes.
func (r *TokenRepo) ListActiveByUser(ctx context.Context, userID string, purpose model.TokenPurpose) ([]model.DelegatedToken, error) {
	query := `SELECT ` + tokenColumns + ` FROM delegated_tokens WHERE user_id = ? AND status = 'active'`
	args := []any{userID}
	if purpose != "" {
		query += ` AND purpose = ?`
		args = append(args, string(purpose))
	}
	query += ` ORDER BY issued_at DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list active tokens for user %s: %w", userID, err)
	}
	defer rows.Close()

	var tokens []model.DelegatedToken
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, *token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}
	return tokens, nil
}

// Revoke flips the token to revoked. The status guard in the WHERE clause
// makes the flip atomic; when zero rows match we re-read to tell "no such
// token" apart from "already revoked", which is a no-op success.
func (r *TokenRepo) Revoke(ctx context.Context, tokenID string) error {
	const query = `UPDATE delegated_tokens SET status = 'revoked', revoked_at = ? WHERE token_id = ? AND status = 'active'`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(time.Now()), tokenID)
	if err != nil {
		return fmt.Errorf("revoke token %s: %w", tokenID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := r.GetByID(ctx, tokenID); err != nil {
		return err
	}
	// Row exists but was already revoked; idempotent success.
	return nil
}

// RevokeAllExcept revokes every active token of the user except keepTokenID
// and returns how many were revoked.
func (r *TokenRepo) RevokeAllExcept(ctx context.Context, userID, keepTokenID string) (int, error) {
	const query = `UPDATE delegated_tokens SET status = 'revoked', revoked_at = ?
		WHERE user_id = ? AND status = 'active' AND token_id != ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(time.Now()), userID, keepTokenID)
	if err != nil {
		return 0, fmt.Errorf("revoke all tokens for user %s: %w", userID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(rows), nil
}

// TouchLastUsed stamps the row after a successful verification.
func (r *TokenRepo) TouchLastUsed(ctx context.Context, tokenID string) error {
	const query = `UPDATE delegated_tokens SET last_used_at = ? WHERE token_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, formatTime(time.Now()), tokenID)
	if err != nil {
		return fmt.Errorf("touch token %s: %w", tokenID, err)
	}
	return requireRow(result, driven.ErrTokenNotFound)
}

func scanToken(s scanner) (*model.DelegatedToken, error) {
	var (
		t          model.DelegatedToken
		purpose    string
		scopes     string
		status     string
		issuedAt   string
		expiresAt  string
		revokedAt  sql.NullString
		lastUsedAt sql.NullString
	)

	err := s.Scan(&t.TokenID, &t.UserID, &purpose, &scopes, &status,
		&issuedAt, &expiresAt, &revokedAt, &lastUsedAt)
	if err != nil {
		return nil, err
	}

	t.Purpose = model.TokenPurpose(purpose)
	t.Status = model.TokenStatus(status)
	if scopes != "" {
		t.Scopes = strings.Fields(scopes)
	}

	t.IssuedAt, err = parseTime(issuedAt)
	if err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	t.ExpiresAt, err = parseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	if revokedAt.Valid {
		at, err := parseTime(revokedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse revoked_at: %w", err)
		}
		t.RevokedAt = &at
	}
	if lastUsedAt.Valid {
		at, err := parseTime(lastUsedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_used_at: %w", err)
		}
		t.LastUsedAt = &at
	}
	return &t, nil
}
