package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oauthree/teeproxy/internal/application"
	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// --- Mock implementations ---

type mockUserStore struct {
	users map[string]model.User
}

func newMockUserStore(ids ...string) *mockUserStore {
	m := &mockUserStore{users: make(map[string]model.User)}
	for _, id := range ids {
		m.users[id] = model.User{ID: id, CreatedAt: time.Now()}
	}
	return m
}

func (m *mockUserStore) Create(_ context.Context, u model.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *mockUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, driven.ErrUserNotFound
	}
	return &u, nil
}

type mockAccountStore struct {
	accounts map[string]model.LinkedAccount

	// createErr, when set, is returned by Create instead of inserting.
	createErr error
	// getByExternalFn, when set, replaces the default lookup.
	getByExternalFn func(service, externalID string) (*model.LinkedAccount, error)
}

func newMockAccountStore() *mockAccountStore {
	return &mockAccountStore{accounts: make(map[string]model.LinkedAccount)}
}

func (m *mockAccountStore) put(a model.LinkedAccount) {
	m.accounts[a.ID] = a
}

func (m *mockAccountStore) Create(_ context.Context, a model.LinkedAccount) error {
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.accounts {
		if existing.Service == a.Service && existing.ExternalID == a.ExternalID {
			return driven.ErrIdentityConflict
		}
	}
	m.accounts[a.ID] = a
	return nil
}

func (m *mockAccountStore) GetByID(_ context.Context, id string) (*model.LinkedAccount, error) {
	a, ok := m.accounts[id]
	if !ok {
		return nil, driven.ErrAccountNotFound
	}
	return &a, nil
}

func (m *mockAccountStore) GetByServiceExternalID(_ context.Context, service, externalID string) (*model.LinkedAccount, error) {
	if m.getByExternalFn != nil {
		return m.getByExternalFn(service, externalID)
	}
	for _, a := range m.accounts {
		if a.Service == service && a.ExternalID == externalID {
			return &a, nil
		}
	}
	return nil, driven.ErrAccountNotFound
}

func (m *mockAccountStore) ListByUser(_ context.Context, userID string) ([]model.LinkedAccount, error) {
	var out []model.LinkedAccount
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAccountStore) ListByUserAndService(_ context.Context, userID, service string) ([]model.LinkedAccount, error) {
	var out []model.LinkedAccount
	for _, a := range m.accounts {
		if a.UserID == userID && a.Service == service {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockAccountStore) UpdateProfile(_ context.Context, id, username, displayName string) error {
	a, ok := m.accounts[id]
	if !ok {
		return driven.ErrAccountNotFound
	}
	a.Username = username
	a.DisplayName = displayName
	m.accounts[id] = a
	return nil
}

func (m *mockAccountStore) SetPolicy(_ context.Context, id string, policy *model.PolicyDocument) error {
	a, ok := m.accounts[id]
	if !ok {
		return driven.ErrAccountNotFound
	}
	a.Policy = policy
	m.accounts[id] = a
	return nil
}

func (m *mockAccountStore) SetAllowLogin(_ context.Context, id string, allow bool) error {
	a, ok := m.accounts[id]
	if !ok {
		return driven.ErrAccountNotFound
	}
	a.AllowLogin = allow
	m.accounts[id] = a
	return nil
}

type mockCredentialStore struct {
	blobs map[string]map[model.CredentialKind]model.Credential
	seq   int64
}

func newMockCredentialStore() *mockCredentialStore {
	return &mockCredentialStore{blobs: make(map[string]map[model.CredentialKind]model.Credential)}
}

// putAt seeds a credential with an explicit update time.
func (m *mockCredentialStore) putAt(accountID string, kind model.CredentialKind, blob string, updatedAt time.Time) {
	if m.blobs[accountID] == nil {
		m.blobs[accountID] = make(map[model.CredentialKind]model.Credential)
	}
	m.seq++
	m.blobs[accountID][kind] = model.Credential{
		ID:              m.seq,
		LinkedAccountID: accountID,
		Kind:            kind,
		Blob:            blob,
		UpdatedAt:       updatedAt,
	}
}

func (m *mockCredentialStore) Upsert(_ context.Context, accountID string, kind model.CredentialKind, blob string) error {
	m.putAt(accountID, kind, blob, time.Now())
	return nil
}

func (m *mockCredentialStore) Get(_ context.Context, accountID string, kind model.CredentialKind) (string, error) {
	c, ok := m.blobs[accountID][kind]
	if !ok {
		return "", driven.ErrCredentialNotFound
	}
	return c.Blob, nil
}

func (m *mockCredentialStore) ListByAccount(_ context.Context, accountID string) ([]model.Credential, error) {
	var out []model.Credential
	for _, c := range m.blobs[accountID] {
		out = append(out, c)
	}
	return out, nil
}

func (m *mockCredentialStore) Delete(_ context.Context, accountID string, kind model.CredentialKind) error {
	delete(m.blobs[accountID], kind)
	return nil
}

type mockTokenStore struct {
	tokens map[string]model.DelegatedToken
}

func newMockTokenStore() *mockTokenStore {
	return &mockTokenStore{tokens: make(map[string]model.DelegatedToken)}
}

func (m *mockTokenStore) Create(_ context.Context, t model.DelegatedToken) error {
	m.tokens[t.TokenID] = t
	return nil
}

func (m *mockTokenStore) GetByID(_ context.Context, tokenID string) (*model.DelegatedToken, error) {
	t, ok := m.tokens[tokenID]
	if !ok {
		return nil, driven.ErrTokenNotFound
	}
	return &t, nil
}

func (m *mockTokenStore) ListActiveByUser(_ context.Context, userID string, purpose model.TokenPurpose) ([]model.DelegatedToken, error) {
	var out []model.DelegatedToken
	for _, t := range m.tokens {
		if t.UserID != userID || t.Status != model.TokenStatusActive {
			continue
		}
		if purpose != "" && t.Purpose != purpose {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (m *mockTokenStore) Revoke(_ context.Context, tokenID string) error {
	t, ok := m.tokens[tokenID]
	if !ok {
		return driven.ErrTokenNotFound
	}
	if t.Status == model.TokenStatusActive {
		now := time.Now()
		t.Status = model.TokenStatusRevoked
		t.RevokedAt = &now
		m.tokens[tokenID] = t
	}
	return nil
}

func (m *mockTokenStore) RevokeAllExcept(_ context.Context, userID, keepTokenID string) (int, error) {
	count := 0
	now := time.Now()
	for id, t := range m.tokens {
		if t.UserID == userID && t.Status == model.TokenStatusActive && id != keepTokenID {
			t.Status = model.TokenStatusRevoked
			t.RevokedAt = &now
			m.tokens[id] = t
			count++
		}
	}
	return count, nil
}

func (m *mockTokenStore) TouchLastUsed(_ context.Context, tokenID string) error {
	t, ok := m.tokens[tokenID]
	if !ok {
		return driven.ErrTokenNotFound
	}
	now := time.Now()
	t.LastUsedAt = &now
	m.tokens[tokenID] = t
	return nil
}

type mockAccessLog struct {
	events []model.AccessEvent
}

func (m *mockAccessLog) Record(_ context.Context, e model.AccessEvent) error {
	m.events = append(m.events, e)
	return nil
}

func (m *mockAccessLog) ListByUser(_ context.Context, userID string, _ int) ([]model.AccessEvent, error) {
	var out []model.AccessEvent
	for _, e := range m.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// actions returns the recorded action names in order.
func (m *mockAccessLog) actions() []string {
	var out []string
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

type mockValidator struct {
	validate func(ctx context.Context, raw string) (*model.ExternalIdentity, error)
}

func (m *mockValidator) Validate(ctx context.Context, raw string) (*model.ExternalIdentity, error) {
	return m.validate(ctx, raw)
}

// staticValidator accepts any credential and returns a fixed identity.
func staticValidator(identity model.ExternalIdentity) *mockValidator {
	return &mockValidator{validate: func(context.Context, string) (*model.ExternalIdentity, error) {
		id := identity
		return &id, nil
	}}
}

type mockDispatcher struct {
	dispatch func(ctx context.Context, kind model.CredentialKind, blob string, req driven.OperationRequest) (any, error)
}

func (m *mockDispatcher) Dispatch(ctx context.Context, kind model.CredentialKind, blob string, req driven.OperationRequest) (any, error) {
	if m.dispatch == nil {
		return map[string]string{"ok": "true"}, nil
	}
	return m.dispatch(ctx, kind, blob, req)
}

// --- Registry fixtures ---

func twitterCapability() model.Capability {
	return model.Capability{
		Service: "twitter",
		Scopes:  []string{"twitter", "twitter.read", "twitter.write"},
		Operations: map[string]model.OperationCategory{
			"HomeTimeline": model.CategoryRead,
			"UserByScreenName":    model.CategoryRead,
			"CreateTweet":   model.CategoryWrite,
			"DeleteTweet": model.CategoryWrite,
		},
		Kinds: []model.CredentialKind{model.CredentialKindCookie, model.CredentialKindOAuth1},
	}
}

func telegramCapability() model.Capability {
	return model.Capability{
		Service: "telegram",
		Scopes:  []string{"telegram", "telegram.read", "telegram.write"},
		Operations: map[string]model.OperationCategory{
			"GetMe":       model.CategoryRead,
			"SendMessage": model.CategoryWrite,
		},
		Kinds: []model.CredentialKind{model.CredentialKindBotToken},
	}
}

// newTestRegistry registers the twitter and telegram fixtures with
// accept-anything validators.
func newTestRegistry(t *testing.T) *application.CapabilityRegistry {
	t.Helper()

	registry := application.NewCapabilityRegistry()

	twitterID := model.ExternalIdentity{ExternalID: "12345", Username: "alice", DisplayName: "Alice"}
	err := registry.Register(twitterCapability(), map[model.CredentialKind]driven.CredentialValidator{
		model.CredentialKindCookie: staticValidator(twitterID),
		model.CredentialKindOAuth1: staticValidator(twitterID),
	}, &mockDispatcher{})
	require.NoError(t, err)

	telegramID := model.ExternalIdentity{ExternalID: "bot99", Username: "alice_bot", DisplayName: "Alice Bot"}
	err = registry.Register(telegramCapability(), map[model.CredentialKind]driven.CredentialValidator{
		model.CredentialKindBotToken: staticValidator(telegramID),
	}, &mockDispatcher{})
	require.NoError(t, err)

	return registry
}
