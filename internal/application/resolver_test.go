package application_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthree/teeproxy/internal/application"
	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

type resolverFixture struct {
	resolver    *application.IdentityResolver
	accounts    *mockAccountStore
	credentials *mockCredentialStore
}

func newResolverFixture(t *testing.T, registry *application.CapabilityRegistry) *resolverFixture {
	t.Helper()

	accounts := newMockAccountStore()
	credentials := newMockCredentialStore()
	resolver := application.NewIdentityResolver(
		registry, newMockUserStore("u1", "u2"), accounts, credentials,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return &resolverFixture{resolver: resolver, accounts: accounts, credentials: credentials}
}

func TestIdentityResolver_Resolve(t *testing.T) {
	f := newResolverFixture(t, newTestRegistry(t))

	identity, err := f.resolver.Resolve(context.Background(), "twitter", model.CredentialKindCookie, `{"auth_token":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, "12345", identity.ExternalID)
	assert.Equal(t, "alice", identity.Username)
}

func TestIdentityResolver_ResolveSanitizesDisplayFields(t *testing.T) {
	registry := application.NewCapabilityRegistry()
	err := registry.Register(twitterCapability(), map[model.CredentialKind]driven.CredentialValidator{
		model.CredentialKindCookie: staticValidator(model.ExternalIdentity{
			ExternalID:  "12345",
			Username:    "<b>alice</b>",
			DisplayName: `Alice <img src=x onerror="alert(1)">`,
		}),
		model.CredentialKindOAuth1: staticValidator(model.ExternalIdentity{ExternalID: "12345"}),
	}, &mockDispatcher{})
	require.NoError(t, err)

	f := newResolverFixture(t, registry)

	identity, err := f.resolver.Resolve(context.Background(), "twitter", model.CredentialKindCookie, "raw")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Username)
	assert.NotContains(t, identity.DisplayName, "<img")
	assert.NotContains(t, identity.DisplayName, "onerror")
}

func TestIdentityResolver_ResolveUnknownServiceOrKind(t *testing.T) {
	f := newResolverFixture(t, newTestRegistry(t))
	ctx := context.Background()

	_, err := f.resolver.Resolve(ctx, "mastodon", model.CredentialKindCookie, "raw")
	assert.ErrorIs(t, err, application.ErrUnknownService)

	_, err = f.resolver.Resolve(ctx, "telegram", model.CredentialKindCookie, "raw")
	assert.ErrorIs(t, err, application.ErrUnknownCredentialKind)
}

func TestIdentityResolver_ResolveRejectedCredential(t *testing.T) {
	registry := application.NewCapabilityRegistry()
	err := registry.Register(telegramCapability(), map[model.CredentialKind]driven.CredentialValidator{
		model.CredentialKindBotToken: &mockValidator{validate: func(context.Context, string) (*model.ExternalIdentity, error) {
			return nil, driven.ErrInvalidCredential
		}},
	}, &mockDispatcher{})
	require.NoError(t, err)

	f := newResolverFixture(t, registry)

	_, err = f.resolver.Resolve(context.Background(), "telegram", model.CredentialKindBotToken, "bad-token")
	assert.ErrorIs(t, err, driven.ErrInvalidCredential)
}

func TestIdentityResolver_ResolveEmptyExternalID(t *testing.T) {
	registry := application.NewCapabilityRegistry()
	err := registry.Register(telegramCapability(), map[model.CredentialKind]driven.CredentialValidator{
		model.CredentialKindBotToken: staticValidator(model.ExternalIdentity{Username: "nameless"}),
	}, &mockDispatcher{})
	require.NoError(t, err)

	f := newResolverFixture(t, registry)

	_, err = f.resolver.Resolve(context.Background(), "telegram", model.CredentialKindBotToken, "raw")
	assert.ErrorIs(t, err, driven.ErrInvalidCredential)
}

func TestIdentityResolver_BindCreatesAccount(t *testing.T) {
	f := newResolverFixture(t, newTestRegistry(t))
	ctx := context.Background()

	identity := model.ExternalIdentity{ExternalID: "12345", Username: "alice", DisplayName: "Alice"}
	account, err := f.resolver.Bind(ctx, "u1", "twitter", identity, model.CredentialKindCookie, "raw-blob")
	require.NoError(t, err)
	assert.NotEmpty(t, account.ID)
	assert.Equal(t, "u1", account.UserID)
	assert.Equal(t, "12345", account.ExternalID)

	blob, err := f.credentials.Get(ctx, account.ID, model.CredentialKindCookie)
	require.NoError(t, err)
	assert.Equal(t, "raw-blob", blob)
}

func TestIdentityResolver_BindRefreshesOwnAccount(t *testing.T) {
	f := newResolverFixture(t, newTestRegistry(t))
	ctx := context.Background()

	identity := model.ExternalIdentity{ExternalID: "12345", Username: "alice", DisplayName: "Alice"}
	first, err := f.resolver.Bind(ctx, "u1", "twitter", identity, model.CredentialKindCookie, "old-blob")
	require.NoError(t, err)

	renamed := model.ExternalIdentity{ExternalID: "12345", Username: "alice_new", DisplayName: "Alice Renamed"}
	second, err := f.resolver.Bind(ctx, "u1", "twitter", renamed, model.CredentialKindCookie, "new-blob")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "rebinding the same identity must not mint a new account")
	assert.Equal(t, "alice_new", second.Username)

	blob, err := f.credentials.Get(ctx, first.ID, model.CredentialKindCookie)
	require.NoError(t, err)
	assert.Equal(t, "new-blob", blob)
}

func TestIdentityResolver_BindConflict(t *testing.T) {
	f := newResolverFixture(t, newTestRegistry(t))
	ctx := context.Background()

	identity := model.ExternalIdentity{ExternalID: "12345", Username: "alice"}
	_, err := f.resolver.Bind(ctx, "u1", "twitter", identity, model.CredentialKindCookie, "blob")
	require.NoError(t, err)

	_, err = f.resolver.Bind(ctx, "u2", "twitter", identity, model.CredentialKindCookie, "blob")
	assert.ErrorIs(t, err, driven.ErrIdentityConflict)
}

func TestIdentityResolver_BindRaceSameUser(t *testing.T) {
	f := newResolverFixture(t, newTestRegistry(t))
	ctx := context.Background()

	// Simulate losing the insert race to a concurrent bind by the same user:
	// the first lookup misses, the insert conflicts, and the re-read finds the
	// winner already owned by us.
	winner := model.LinkedAccount{ID: "a-winner", UserID: "u1", Service: "twitter", ExternalID: "12345"}
	calls := 0
	f.accounts.getByExternalFn = func(service, externalID string) (*model.LinkedAccount, error) {
		calls++
		if calls == 1 {
			return nil, driven.ErrAccountNotFound
		}
		w := winner
		return &w, nil
	}
	f.accounts.createErr = driven.ErrIdentityConflict
	f.accounts.put(winner)

	identity := model.ExternalIdentity{ExternalID: "12345", Username: "alice"}
	account, err := f.resolver.Bind(ctx, "u1", "twitter", identity, model.CredentialKindCookie, "blob")
	require.NoError(t, err)
	assert.Equal(t, "a-winner", account.ID)
}

func TestIdentityResolver_BindRaceDifferentUser(t *testing.T) {
	f := newResolverFixture(t, newTestRegistry(t))
	ctx := context.Background()

	winner := model.LinkedAccount{ID: "a-winner", UserID: "u2", Service: "twitter", ExternalID: "12345"}
	calls := 0
	f.accounts.getByExternalFn = func(service, externalID string) (*model.LinkedAccount, error) {
		calls++
		if calls == 1 {
			return nil, driven.ErrAccountNotFound
		}
		w := winner
		return &w, nil
	}
	f.accounts.createErr = driven.ErrIdentityConflict
	f.accounts.put(winner)

	identity := model.ExternalIdentity{ExternalID: "12345", Username: "alice"}
	_, err := f.resolver.Bind(ctx, "u1", "twitter", identity, model.CredentialKindCookie, "blob")
	assert.ErrorIs(t, err, driven.ErrIdentityConflict)
}
