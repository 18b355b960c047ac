package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// CredentialVault resolves (user, service, kind) to a stored credential blob
// without interpreting it. When a user has several linked accounts for the
// same service, the account whose credential of the requested kind was
// updated most recently wins; callers needing a specific account use the
// ForAccount variants.
type CredentialVault struct {
	accounts    driven.AccountStore
	credentials driven.CredentialStore
}

// NewCredentialVault creates a CredentialVault.
func NewCredentialVault(accounts driven.AccountStore, credentials driven.CredentialStore) *CredentialVault {
	return &CredentialVault{accounts: accounts, credentials: credentials}
}

// Fetch returns the serialized credential of the given kind for the user's
// account on the service, together with the owning account.
func (v *CredentialVault) Fetch(ctx context.Context, userID, service string, kind model.CredentialKind) (string, *model.LinkedAccount, error) {
	accounts, err := v.accounts.ListByUserAndService(ctx, userID, service)
	if err != nil {
		return "", nil, fmt.Errorf("fetch credential: %w", err)
	}

	var (
		best        string
		bestAccount *model.LinkedAccount
		bestUpdated int64
	)
	for i := range accounts {
		account := accounts[i]
		creds, err := v.credentials.ListByAccount(ctx, account.ID)
		if err != nil {
			return "", nil, fmt.Errorf("fetch credential: %w", err)
		}
		for _, c := range creds {
			if c.Kind != kind {
				continue
			}
			if updated := c.UpdatedAt.UnixNano(); bestAccount == nil || updated > bestUpdated {
				best = c.Blob
				bestAccount = &account
				bestUpdated = updated
			}
		}
	}

	if bestAccount == nil {
		return "", nil, driven.ErrCredentialNotFound
	}
	return best, bestAccount, nil
}

// FetchLatest returns the most recently updated credential of any kind for
// the user's accounts on the service, along with its kind and owning account.
// This is what the proxy path uses when the caller does not care how the
// upstream call gets authenticated.
func (v *CredentialVault) FetchLatest(ctx context.Context, userID, service string) (string, model.CredentialKind, *model.LinkedAccount, error) {
	accounts, err := v.accounts.ListByUserAndService(ctx, userID, service)
	if err != nil {
		return "", "", nil, fmt.Errorf("fetch credential: %w", err)
	}

	var (
		best        string
		bestKind    model.CredentialKind
		bestAccount *model.LinkedAccount
		bestUpdated int64
	)
	for i := range accounts {
		account := accounts[i]
		creds, err := v.credentials.ListByAccount(ctx, account.ID)
		if err != nil {
			return "", "", nil, fmt.Errorf("fetch credential: %w", err)
		}
		for _, c := range creds {
			if updated := c.UpdatedAt.UnixNano(); bestAccount == nil || updated > bestUpdated {
				best = c.Blob
				bestKind = c.Kind
				bestAccount = &account
				bestUpdated = updated
			}
		}
	}

	if bestAccount == nil {
		return "", "", nil, driven.ErrCredentialNotFound
	}
	return best, bestKind, bestAccount, nil
}

// FetchForAccount returns the blob of the given kind for one specific linked
// account, verifying the account belongs to userID.
func (v *CredentialVault) FetchForAccount(ctx context.Context, userID, accountID string, kind model.CredentialKind) (string, error) {
	account, err := v.accounts.GetByID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if account.UserID != userID {
		return "", driven.ErrAccountNotFound
	}
	return v.credentials.Get(ctx, accountID, kind)
}

// StoreForAccount stores or replaces the blob of the given kind on an account
// the user owns. Pure storage: the blob is opaque here, and validation
// happens in the identity resolver before anything reaches the vault.
func (v *CredentialVault) StoreForAccount(ctx context.Context, userID, accountID string, kind model.CredentialKind, blob string) (*model.LinkedAccount, error) {
	account, err := v.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, driven.ErrAccountNotFound) {
			return nil, driven.ErrAccountNotFound
		}
		return nil, fmt.Errorf("store credential: %w", err)
	}
	if account.UserID != userID {
		return nil, driven.ErrAccountNotFound
	}
	if err := v.credentials.Upsert(ctx, accountID, kind, blob); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}
	return account, nil
}

// DeleteForAccount removes the blob of the given kind from an account the
// user owns. Deleting a kind that was never stored is not an error.
func (v *CredentialVault) DeleteForAccount(ctx context.Context, userID, accountID string, kind model.CredentialKind) error {
	account, err := v.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account.UserID != userID {
		return driven.ErrAccountNotFound
	}
	return v.credentials.Delete(ctx, accountID, kind)
}
