package application

import (
	"errors"
	"fmt"

	"github.com/oauthree/teeproxy/internal/domain/model"
)

// ErrUnknownOperation is returned when an operation id is not declared by the
// target service. This is a programming or configuration error, not a denial.
var ErrUnknownOperation = errors.New("operation not declared by service")

// Outcome is the result of an authorization evaluation.
type Outcome struct {
	Decision model.Decision
	Reason   string // Empty on allow; DenyMissingScope or DenyPolicyDenied on deny.
}

// allowed is the allow outcome; denials carry their reason.
var allowed = Outcome{Decision: model.DecisionAllow}

func denied(reason string) Outcome {
	return Outcome{Decision: model.DecisionDeny, Reason: reason}
}

// PolicyEngine decides whether a token's granted scopes, optionally narrowed
// by a per-account policy document, authorize one declared operation.
// It is a pure function over its inputs plus a registry lookup; audit logging
// of decisions is the caller's responsibility.
type PolicyEngine struct {
	registry *CapabilityRegistry
}

// NewPolicyEngine creates a PolicyEngine backed by the given registry.
func NewPolicyEngine(registry *CapabilityRegistry) *PolicyEngine {
	return &PolicyEngine{registry: registry}
}

// Authorize evaluates (scopes, service, operation, policy).
//
// The scope check passes when the token carries either the category scope
// "{service}.{category}" or the service-wide scope "{service}". Exactly one
// of the two suffices; an operation never requires both. A present policy
// document then narrows the result: the operation must be named directly or
// covered by an allowed category. Policy can only remove authority a scope
// granted, never add it.
func (e *PolicyEngine) Authorize(
	scopes []string,
	service string,
	operationID string,
	policy *model.PolicyDocument,
) (Outcome, error) {
	operations, err := e.registry.Operations(service)
	if err != nil {
		return Outcome{}, err
	}

	category, ok := operations[operationID]
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %q on %q", ErrUnknownOperation, operationID, service)
	}

	categoryScope := service + "." + string(category)
	if !containsScope(scopes, categoryScope) && !containsScope(scopes, service) {
		return denied(model.DenyMissingScope), nil
	}

	if policy == nil {
		return allowed, nil
	}
	if policy.Permits(operationID, category) {
		return allowed, nil
	}
	return denied(model.DenyPolicyDenied), nil
}

func containsScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
