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
var _ driven.AccountStore = (*AccountRepo)(nil)

// AccountRepo is the SQLite implementation of the AccountStore port interface.
// The UNIQUE(service, external_id) constraint carries the system-wide identity
// binding invariant; violations surface as driven.ErrIdentityConflict.
type AccountRepo struct {
	db *DB
}

// NewAccountRepo creates a new AccountRepo backed by the given DB.
func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `id, user_id, service, external_id, username, display_name, policy_json, allow_login, created_at, updated_at`

// Create inserts a new linked account. A (service, external_id) collision is
// reported as driven.ErrIdentityConflict; the constraint makes the uniqueness
// check atomic with the insert, so concurrent binds cannot both succeed.
func (r *AccountRepo) Create(ctx context.Context, a model.LinkedAccount) error {
	const query = `INSERT INTO linked_accounts (id, user_id, service, external_id, username, display_name, policy_json, allow_login, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := a.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	var policyJSON *string
	if a.Policy != nil {
		encoded, err := a.Policy.Encode()
		if err != nil {
			return fmt.Errorf("create linked account: %w", err)
		}
		policyJSON = &encoded
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		a.ID, a.UserID, a.Service, a.ExternalID, a.Username, a.DisplayName,
		policyJSON, a.AllowLogin, formatTime(createdAt), formatTime(updatedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("create linked account %s/%s: %w", a.Service, a.ExternalID, driven.ErrIdentityConflict)
		}
		return fmt.Errorf("create linked account %s/%s: %w", a.Service, a.ExternalID, err)
	}
	return nil
}

// GetByID retrieves a linked account by id.
func (r *AccountRepo) GetByID(ctx context.Context, id string) (*model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM linked_accounts WHERE id = ?`

	account, err := scanAccount(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get linked account %s: %w", id, err)
	}
	return account, nil
}

// GetByServiceExternalID retrieves the unique binding for (service, external_id).
func (r *AccountRepo) GetByServiceExternalID(ctx context.Context, service, externalID string) (*model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM linked_accounts WHERE service = ? AND external_id = ?`

	account, err := scanAccount(r.db.Reader.QueryRowContext(ctx, query, service, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get linked account %s/%s: %w", service, externalID, err)
	}
	return account, nil
}

// ListByUser returns every linked account owned by the user, newest update first.
func (r *AccountRepo) ListByUser(ctx context.Context, userID string) ([]model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM linked_accounts WHERE user_id = ? ORDER BY updated_at DESC`
	return r.list(ctx, query, userID)
}

// ListByUserAndService returns the user's linked accounts for one service,
// newest update first.
func (r *AccountRepo) ListByUserAndService(ctx context.Context, userID, service string) ([]model.LinkedAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM linked_accounts WHERE user_id = ? AND service = ? ORDER BY updated_at DESC`
	return r.list(ctx, query, userID, service)
}

func (r *AccountRepo) list(ctx context.Context, query string, args ...any) ([]model.LinkedAccount, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.LinkedAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan linked account: %w", err)
		}
		accounts = append(accounts, *account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked accounts: %w", err)
	}
	return accounts, nil
}

// UpdateProfile refreshes the display metadata captured at the last
// successful credential validation.
func (r *AccountRepo) UpdateProfile(ctx context.Context, id, username, displayName string) error {
	const query = `UPDATE linked_accounts SET username = ?, display_name = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, username, displayName, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update profile for account %s: %w", id, err)
	}
	return requireRow(result, driven.ErrAccountNotFound)
}

// SetPolicy attaches, replaces, or (with nil) removes the account's policy document.
func (r *AccountRepo) SetPolicy(ctx context.Context, id string, policy *model.PolicyDocument) error {
	const query = `UPDATE linked_accounts SET policy_json = ?, updated_at = ? WHERE id = ?`

	var policyJSON *string
	if policy != nil {
		encoded, err := policy.Encode()
		if err != nil {
			return fmt.Errorf("set policy for account %s: %w", id, err)
		}
		policyJSON = &encoded
	}

	result, err := r.db.Writer.ExecContext(ctx, query, policyJSON, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set policy for account %s: %w", id, err)
	}
	return requireRow(result, driven.ErrAccountNotFound)
}

// SetAllowLogin flips whether this account can bootstrap a first-party session.
func (r *AccountRepo) SetAllowLogin(ctx context.Context, id string, allow bool) error {
	const query = `UPDATE linked_accounts SET allow_login = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, allow, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("set allow_login for account %s: %w", id, err)
	}
	return requireRow(result, driven.ErrAccountNotFound)
}

func requireRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

func scanAccount(s scanner) (*model.LinkedAccount, error) {
	var (
		a          model.LinkedAccount
		policyJSON sql.NullString
		createdAt  string
		updatedAt  string
	)

	err := s.Scan(&a.ID, &a.UserID, &a.Service, &a.ExternalID, &a.Username,
		&a.DisplayName, &policyJSON, &a.AllowLogin, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if policyJSON.Valid {
		policy, err := model.ParsePolicyDocument(policyJSON.String)
		if err != nil {
			return nil, err
		}
		a.Policy = policy
	}

	a.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	a.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &a, nil
}
