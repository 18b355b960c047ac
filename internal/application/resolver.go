package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// IdentityResolver maps an opaque upstream credential to a stable external
// account identifier and ties that identity to exactly one local user. The
// live check itself is delegated to the owning plugin's validator; the
// resolver never touches upstream protocol details.
type IdentityResolver struct {
	registry    *CapabilityRegistry
	users       driven.UserStore
	accounts    driven.AccountStore
	credentials driven.CredentialStore
	sanitizer   *bluemonday.Policy
	logger      *slog.Logger
}

// NewIdentityResolver creates an IdentityResolver with the required dependencies.
func NewIdentityResolver(
	registry *CapabilityRegistry,
	users driven.UserStore,
	accounts driven.AccountStore,
	credentials driven.CredentialStore,
	logger *slog.Logger,
) *IdentityResolver {
	return &IdentityResolver{
		registry:    registry,
		users:       users,
		accounts:    accounts,
		credentials: credentials,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger,
	}
}

// Resolve validates the raw credential against the live external service and
// extracts the external account identity. Display fields come from an
// untrusted upstream and are stripped of any markup before they leave here.
func (r *IdentityResolver) Resolve(ctx context.Context, service string, kind model.CredentialKind, raw string) (*model.ExternalIdentity, error) {
	validator, err := r.registry.Validator(service, kind)
	if err != nil {
		return nil, err
	}

	identity, err := validator.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if identity.ExternalID == "" {
		return nil, fmt.Errorf("%w: validator returned empty external id", driven.ErrInvalidCredential)
	}

	identity.Username = r.sanitizer.Sanitize(identity.Username)
	identity.DisplayName = r.sanitizer.Sanitize(identity.DisplayName)
	return identity, nil
}

// Bind attaches a resolved identity to the given user: create when unbound,
// update in place when already owned by the same user, ErrIdentityConflict
// when owned by anyone else. The (service, external_id) uniqueness check is
// atomic with the insert — it rides on the storage constraint, so two
// concurrent bind attempts for the same external account cannot both succeed.
func (r *IdentityResolver) Bind(ctx context.Context, userID, service string, identity model.ExternalIdentity, kind model.CredentialKind, raw string) (*model.LinkedAccount, error) {
	existing, err := r.accounts.GetByServiceExternalID(ctx, service, identity.ExternalID)
	switch {
	case err == nil:
		if existing.UserID != userID {
			return nil, driven.ErrIdentityConflict
		}
		return r.refresh(ctx, existing, identity, kind, raw)
	case errors.Is(err, driven.ErrAccountNotFound):
		// Fall through to create.
	default:
		return nil, fmt.Errorf("bind identity: %w", err)
	}

	now := time.Now()
	account := model.LinkedAccount{
		ID:          uuid.NewString(),
		UserID:      userID,
		Service:     service,
		ExternalID:  identity.ExternalID,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, driven.ErrIdentityConflict) {
			// Lost a race. Re-read to distinguish "same user linked it
			// concurrently" from a genuine conflict.
			winner, getErr := r.accounts.GetByServiceExternalID(ctx, service, identity.ExternalID)
			if getErr == nil && winner.UserID == userID {
				return r.refresh(ctx, winner, identity, kind, raw)
			}
			return nil, driven.ErrIdentityConflict
		}
		return nil, fmt.Errorf("bind identity: %w", err)
	}

	if err := r.credentials.Upsert(ctx, account.ID, kind, raw); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	r.logger.Info("external account linked",
		"service", service,
		"external_id", identity.ExternalID,
		"user_id", userID,
	)
	return &account, nil
}

// refresh updates profile metadata and the credential blob on an account the
// user already owns.
func (r *IdentityResolver) refresh(ctx context.Context, account *model.LinkedAccount, identity model.ExternalIdentity, kind model.CredentialKind, raw string) (*model.LinkedAccount, error) {
	if err := r.accounts.UpdateProfile(ctx, account.ID, identity.Username, identity.DisplayName); err != nil {
		return nil, fmt.Errorf("update account profile: %w", err)
	}
	if err := r.credentials.Upsert(ctx, account.ID, kind, raw); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	account.Username = identity.Username
	account.DisplayName = identity.DisplayName
	return account, nil
}
