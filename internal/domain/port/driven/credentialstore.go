package driven

import (
	"context"
	"errors"

	"github.com/oauthree/teeproxy/internal/domain/model"
)

var (
	// ErrCredentialNotFound is returned when no credential blob exists for
	// the requested (account, kind) pair.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
	// TEEPROXY_SECRET_KEY has not been configured.
	ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set TEEPROXY_SECRET_KEY")
)

// CredentialStore defines the driven port for upstream credential blobs.
// The adapter encrypts blobs at rest; this interface operates on plaintext
// at the domain boundary and never interprets blob contents.
type CredentialStore interface {
	// Upsert stores or replaces the blob of the given kind for a linked account.
	Upsert(ctx context.Context, linkedAccountID string, kind model.CredentialKind, blob string) error

	// Get retrieves the plaintext blob for (account, kind).
	// Returns ErrCredentialNotFound if absent.
	Get(ctx context.Context, linkedAccountID string, kind model.CredentialKind) (string, error)

	// ListByAccount returns every credential stored for the account,
	// most recently updated first.
	ListByAccount(ctx context.Context, linkedAccountID string) ([]model.Credential, error)

	// Delete removes the blob of the given kind for the account.
	Delete(ctx context.Context, linkedAccountID string, kind model.CredentialKind) error
}
