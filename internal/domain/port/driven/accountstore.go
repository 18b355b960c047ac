package driven

import (
	"context"
	"errors"

	"github.com/oauthree/teeproxy/internal/domain/model"
)

var (
	// ErrAccountNotFound is returned when no linked account matches the query.
	ErrAccountNotFound = errors.New("linked account not found")

	// ErrIdentityConflict is returned when a (service, external_id) pair is
	// already bound to a different local user. The binding is never silently
	// reassigned; the adapter translates its uniqueness-constraint violation
	// into this error so concurrent link attempts cannot both succeed.
	ErrIdentityConflict = errors.New("external account already linked to another user")
)

// AccountStore defines the driven port for linked account persistence.
// Create must enforce (service, external_id) uniqueness atomically at the
// storage layer and surface violations as ErrIdentityConflict.
type AccountStore interface {
	Create(ctx context.Context, a model.LinkedAccount) error
	GetByID(ctx context.Context, id string) (*model.LinkedAccount, error)
	GetByServiceExternalID(ctx context.Context, service, externalID string) (*model.LinkedAccount, error)
	ListByUser(ctx context.Context, userID string) ([]model.LinkedAccount, error)
	ListByUserAndService(ctx context.Context, userID, service string) ([]model.LinkedAccount, error)
	UpdateProfile(ctx context.Context, id, username, displayName string) error
	SetPolicy(ctx context.Context, id string, policy *model.PolicyDocument) error
	SetAllowLogin(ctx context.Context, id string, allow bool) error
}
