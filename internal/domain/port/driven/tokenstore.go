package driven

import (
	"context"
	"errors"

	"github.com/oauthree/teeproxy/internal/domain/model"
)

// ErrTokenNotFound is returned when no token row matches the given id.
var ErrTokenNotFound = errors.New("token not found")

// TokenStore defines the driven port for the delegated token ledger.
type TokenStore interface {
	Create(ctx context.Context, t model.DelegatedToken) error
	GetByID(ctx context.Context, tokenID string) (*model.DelegatedToken, error)
	ListActiveByUser(ctx context.Context, userID string, purpose model.TokenPurpose) ([]model.DelegatedToken, error)

	// Revoke flips status to revoked for the given token. It must be a
	// conditional UPDATE (not read-then-write) so concurrent revocations
	// cannot lose updates; revoking an already-revoked token is not an error.
	// Returns ErrTokenNotFound when no row exists for tokenID at all.
	Revoke(ctx context.Context, tokenID string) error

	// RevokeAllExcept revokes every active token of the user except
	// keepTokenID, returning the number of tokens revoked.
	RevokeAllExcept(ctx context.Context, userID, keepTokenID string) (int, error)

	// TouchLastUsed records a successful verification against the row.
	TouchLastUsed(ctx context.Context, tokenID string) error
}
