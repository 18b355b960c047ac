package driven

import (
	"context"
	"errors"

	"github.com/oauthree/teeproxy/internal/domain/model"
)

var (
	// ErrInvalidCredential is returned when the upstream service rejects the
	// credential. Non-retryable: the caller must obtain a fresh credential.
	ErrInvalidCredential = errors.New("upstream service rejected the credential")

	// ErrServiceUnavailable is returned on transport-level failure reaching
	// the upstream service. Retryable at the caller's discretion.
	ErrServiceUnavailable = errors.New("upstream service unavailable")
)

// CredentialValidator is the plugin contract for live credential checks.
// Implementations call the external service with the raw serialized
// credential and extract the stable external account identifier.
type CredentialValidator interface {
	// Validate checks the credential against the live service. It returns
	// ErrInvalidCredential when the service rejects it and
	// ErrServiceUnavailable on transport failure — the two are distinct
	// because only the latter is worth retrying.
	Validate(ctx context.Context, raw string) (*model.ExternalIdentity, error)
}

// OperationRequest is a downstream call brokered through a plugin after an
// allow decision: a declared operation id plus operation-specific parameters.
type OperationRequest struct {
	OperationID string
	Params      map[string]string
}

// Dispatcher is the plugin contract for executing declared operations with a
// previously vaulted credential. The core imposes no constraint on what the
// plugin does downstream of an allow decision; results are opaque JSON-ready
// values produced by the plugin.
type Dispatcher interface {
	Dispatch(ctx context.Context, kind model.CredentialKind, blob string, req OperationRequest) (any, error)
}
