package application

import (
	"errors"
	"fmt"
	"sort"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

var (
	// ErrDuplicateService is returned when a service name is registered twice.
	// Registration is deliberately not idempotent: a duplicate means the
	// composition root wired the same plugin in two places.
	ErrDuplicateService = errors.New("service already registered")

	// ErrUnknownService is returned for lookups against an unregistered service.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownCredentialKind is returned when a service has no validator
	// for the requested credential kind.
	ErrUnknownCredentialKind = errors.New("credential kind not supported by service")
)

// registration bundles a plugin's declaration with its callables.
type registration struct {
	capability model.Capability
	validators map[model.CredentialKind]driven.CredentialValidator
	dispatcher driven.Dispatcher
}

// CapabilityRegistry is the process-wide table of service declarations.
// It is populated by plugin registrations during single-threaded bootstrap
// and read-only afterwards, so lookups need no synchronization. It is the
// single indirection point that keeps the policy engine and token service
// ignorant of which concrete services exist.
type CapabilityRegistry struct {
	services map[string]registration
}

// NewCapabilityRegistry creates an empty registry.
func NewCapabilityRegistry() *CapabilityRegistry {
	return &CapabilityRegistry{services: make(map[string]registration)}
}

// Register adds a service declaration with its per-kind validators and its
// operation dispatcher. Must only be called during bootstrap, before the
// first request is served.
func (r *CapabilityRegistry) Register(
	capability model.Capability,
	validators map[model.CredentialKind]driven.CredentialValidator,
	dispatcher driven.Dispatcher,
) error {
	if capability.Service == "" {
		return errors.New("capability declares empty service name")
	}
	if _, exists := r.services[capability.Service]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateService, capability.Service)
	}
	for _, kind := range capability.Kinds {
		if _, ok := validators[kind]; !ok {
			return fmt.Errorf("service %q declares kind %q without a validator", capability.Service, kind)
		}
	}

	r.services[capability.Service] = registration{
		capability: capability,
		validators: validators,
		dispatcher: dispatcher,
	}
	return nil
}

// Operations returns the declared operation-to-category mapping for a service.
func (r *CapabilityRegistry) Operations(service string) (map[string]model.OperationCategory, error) {
	reg, ok := r.services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return reg.capability.Operations, nil
}

// Scopes returns the scope strings declared by a service.
func (r *CapabilityRegistry) Scopes(service string) ([]string, error) {
	reg, ok := r.services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return reg.capability.Scopes, nil
}

// Validator returns the credential validator a service registered for kind.
func (r *CapabilityRegistry) Validator(service string, kind model.CredentialKind) (driven.CredentialValidator, error) {
	reg, ok := r.services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	v, ok := reg.validators[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q for service %q", ErrUnknownCredentialKind, kind, service)
	}
	return v, nil
}

// Dispatcher returns the operation dispatcher a service registered.
func (r *CapabilityRegistry) Dispatcher(service string) (driven.Dispatcher, error) {
	reg, ok := r.services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}
	return reg.dispatcher, nil
}

// AllScopes aggregates every registered service's declared scopes, sorted.
// The token service validates issuance requests against this set, and the
// token creation UI uses it as the scope picklist.
func (r *CapabilityRegistry) AllScopes() []string {
	var scopes []string
	for _, reg := range r.services {
		scopes = append(scopes, reg.capability.Scopes...)
	}
	sort.Strings(scopes)
	return scopes
}

// HasScope reports whether any registered service declares the given scope.
func (r *CapabilityRegistry) HasScope(scope string) bool {
	for _, reg := range r.services {
		for _, s := range reg.capability.Scopes {
			if s == scope {
				return true
			}
		}
	}
	return false
}

// Services returns the registered service names, sorted.
func (r *CapabilityRegistry) Services() []string {
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
