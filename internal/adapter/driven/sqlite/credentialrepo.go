package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port
// interface. Credential blobs are encrypted with AES-256-GCM before write and
// decrypted after read; the rest of the system only ever sees plaintext.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for
// AES-256-GCM, or nil to disable credential storage (all operations will
// return driven.ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key}
}

// Upsert stores or replaces the blob of the given kind for a linked account.
// The UNIQUE(linked_account_id, kind) constraint keeps at most one blob per
// kind per account.
func (r *CredentialRepo) Upsert(ctx context.Context, linkedAccountID string, kind model.CredentialKind, blob string) error {
	encrypted, err := r.encrypt(blob)
	if err != nil {
		return err
	}

	const query = `INSERT INTO account_credentials (linked_account_id, kind, blob, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (linked_account_id, kind) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`
	_, err = r.db.Writer.ExecContext(ctx, query, linkedAccountID, string(kind), encrypted, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert credential %s/%s: %w", linkedAccountID, kind, err)
	}
	return nil
}

// Get retrieves the plaintext blob for (account, kind).
func (r *CredentialRepo) Get(ctx context.Context, linkedAccountID string, kind model.CredentialKind) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	const query = `SELECT blob FROM account_credentials WHERE linked_account_id = ? AND kind = ?`
	var encrypted string
	err := r.db.Reader.QueryRowContext(ctx, query, linkedAccountID, string(kind)).Scan(&encrypted)
	if errors.Is(err, sql.ErrNoRows) {
		return "", driven.ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get credential %s/%s: %w", linkedAccountID, kind, err)
	}

	blob, err := r.decrypt(encrypted)
	if err != nil {
		return "", fmt.Errorf("decrypt credential %s/%s: %w", linkedAccountID, kind, err)
	}
	return blob, nil
}

// ListByAccount returns every credential stored for the account with
// decrypted blobs, most recently updated first.
func (r *CredentialRepo) ListByAccount(ctx context.Context, linkedAccountID string) ([]model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = `SELECT id, linked_account_id, kind, blob, updated_at FROM account_credentials
		WHERE linked_account_id = ? ORDER BY updated_at DESC`
	rows, err := r.db.Reader.QueryContext(ctx, query, linkedAccountID)
	if err != nil {
		return nil, fmt.Errorf("list credentials for %s: %w", linkedAccountID, err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		var (
			cred      model.Credential
			kind      string
			encrypted string
			updatedAt string
		)
		if err := rows.Scan(&cred.ID, &cred.LinkedAccountID, &kind, &encrypted, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		cred.Kind = model.CredentialKind(kind)

		cred.Blob, err = r.decrypt(encrypted)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential %d: %w", cred.ID, err)
		}

		cred.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at for credential %d: %w", cred.ID, err)
		}

		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// Delete removes the blob of the given kind for the account.
func (r *CredentialRepo) Delete(ctx context.Context, linkedAccountID string, kind model.CredentialKind) error {
	const query = `DELETE FROM account_credentials WHERE linked_account_id = ? AND kind = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, linkedAccountID, string(kind))
	if err != nil {
		return fmt.Errorf("delete credential %s/%s: %w", linkedAccountID, kind, err)
	}
	return nil
}

// encrypt encrypts a blob using AES-256-GCM and returns a base64-encoded
// string containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(blob string) (string, error) {
	if r.key == nil {
		return "", driven.ErrEncryptionKeyNotSet
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(blob), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}
