package application_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oauthree/teeproxy/internal/application"
	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

var testSigningKey = []byte("test-signing-key-for-hs256-units")

type tokenFixture struct {
	svc    *application.TokenService
	tokens *mockTokenStore
	users  *mockUserStore
	log    *mockAccessLog
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()

	tokens := newMockTokenStore()
	users := newMockUserStore("u1", "u2")
	log := &mockAccessLog{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := application.NewTokenService(
		testSigningKey, tokens, users, newTestRegistry(t), log,
		2*time.Hour, 24*time.Hour, logger,
	)
	return &tokenFixture{svc: svc, tokens: tokens, users: users, log: log}
}

func TestTokenService_IssueAndVerify(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, "u1", model.TokenPurposeAPI, []string{"twitter.read", "telegram"})
	require.NoError(t, err)
	assert.NotEmpty(t, issued.SignedToken)
	assert.NotEmpty(t, issued.Claims.TokenID)

	claims, err := f.svc.Verify(ctx, issued.SignedToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, issued.Claims.TokenID, claims.TokenID)
	assert.Equal(t, model.TokenPurposeAPI, claims.Purpose)
	assert.Equal(t, []string{"twitter.read", "telegram"}, claims.Scopes)
	assert.True(t, claims.HasScope("telegram"))
	assert.False(t, claims.HasScope("twitter.write"))

	// Issuance persists a ledger row and records an audit event.
	row, err := f.tokens.GetByID(ctx, issued.Claims.TokenID)
	require.NoError(t, err)
	assert.Equal(t, model.TokenStatusActive, row.Status)
	assert.Equal(t, []string{"token_create"}, f.log.actions())

	// Verification stamps last_used.
	row, err = f.tokens.GetByID(ctx, issued.Claims.TokenID)
	require.NoError(t, err)
	assert.NotNil(t, row.LastUsedAt)
}

func TestTokenService_IssueSessionUsesSessionTTL(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, "u1", model.TokenPurposeSession, []string{"twitter"})
	require.NoError(t, err)

	ttl := time.Until(issued.Claims.ExpiresAt)
	assert.InDelta(t, (2 * time.Hour).Seconds(), ttl.Seconds(), 60)
}

func TestTokenService_IssueUnknownScope(t *testing.T) {
	f := newTokenFixture(t)

	_, err := f.svc.Issue(context.Background(), "u1", model.TokenPurposeAPI, []string{"twitter.admin"})
	assert.ErrorIs(t, err, application.ErrUnknownScope)
}

func TestTokenService_IssueUnknownUser(t *testing.T) {
	f := newTokenFixture(t)

	_, err := f.svc.Issue(context.Background(), "ghost", model.TokenPurposeAPI, []string{"twitter"})
	assert.ErrorIs(t, err, driven.ErrUserNotFound)
}

func TestTokenService_VerifyMalformed(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	_, err := f.svc.Verify(ctx, "not-a-token")
	assert.ErrorIs(t, err, application.ErrTokenMalformed)

	_, err = f.svc.Verify(ctx, "")
	assert.ErrorIs(t, err, application.ErrTokenMalformed)
}

func TestTokenService_VerifyWrongKey(t *testing.T) {
	f := newTokenFixture(t)
	other := newTokenFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, "u1", model.TokenPurposeAPI, []string{"twitter"})
	require.NoError(t, err)

	// Re-sign the fixture with a different key by issuing from a service that
	// shares the token store but uses another secret.
	otherSvc := application.NewTokenService(
		[]byte("a-completely-different-secret-key"),
		other.tokens, other.users, newTestRegistry(t), other.log,
		2*time.Hour, 24*time.Hour,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	_, err = otherSvc.Verify(ctx, issued.SignedToken)
	assert.ErrorIs(t, err, application.ErrTokenMalformed)
}

func TestTokenService_VerifyExpired(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	// Issue in the past so the signed expiry has already passed. The ledger
	// row still says active: expiry must be recognized from the payload alone.
	f.svc.OverrideNow(func() time.Time { return time.Now().Add(-48 * time.Hour) })
	issued, err := f.svc.Issue(ctx, "u1", model.TokenPurposeAPI, []string{"twitter"})
	require.NoError(t, err)

	row, err := f.tokens.GetByID(ctx, issued.Claims.TokenID)
	require.NoError(t, err)
	require.Equal(t, model.TokenStatusActive, row.Status)

	_, err = f.svc.Verify(ctx, issued.SignedToken)
	assert.ErrorIs(t, err, application.ErrTokenExpired)
}

func TestTokenService_VerifyRevoked(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, "u1", model.TokenPurposeAPI, []string{"twitter"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Revoke(ctx, "u1", issued.Claims.TokenID))

	_, err = f.svc.Verify(ctx, issued.SignedToken)
	assert.ErrorIs(t, err, application.ErrTokenRevoked)
}

func TestTokenService_VerifyMissingLedgerRow(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, "u1", model.TokenPurposeAPI, []string{"twitter"})
	require.NoError(t, err)

	// Purge the row: a cryptographically valid token with no ledger entry is
	// reported as revoked, not as an internal error.
	delete(f.tokens.tokens, issued.Claims.TokenID)

	_, err = f.svc.Verify(ctx, issued.SignedToken)
	assert.ErrorIs(t, err, application.ErrTokenRevoked)
}

func TestTokenService_RevokeOwnership(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, "u1", model.TokenPurposeAPI, []string{"twitter"})
	require.NoError(t, err)

	// Another user cannot revoke it, and cannot learn that it exists.
	err = f.svc.Revoke(ctx, "u2", issued.Claims.TokenID)
	assert.ErrorIs(t, err, driven.ErrTokenNotFound)

	require.NoError(t, f.svc.Revoke(ctx, "u1", issued.Claims.TokenID))
	// Idempotent for the owner.
	require.NoError(t, f.svc.Revoke(ctx, "u1", issued.Claims.TokenID))
}

func TestTokenService_RefreshNearExpiry(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	claims := model.TokenClaims{
		UserID:    "u1",
		Scopes:    []string{"twitter"},
		TokenID:   "old-token",
		Purpose:   model.TokenPurposeSession,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}

	issued, err := f.svc.RefreshIfNearExpiry(ctx, claims)
	require.NoError(t, err)
	require.NotNil(t, issued)
	assert.NotEqual(t, "old-token", issued.Claims.TokenID)
	assert.Equal(t, claims.Scopes, issued.Claims.Scopes)
	assert.Equal(t, model.TokenPurposeSession, issued.Claims.Purpose)
	assert.Contains(t, f.log.actions(), "token_refresh")
}

func TestTokenService_RefreshNotNeeded(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	t.Run("plenty of lifetime left", func(t *testing.T) {
		issued, err := f.svc.RefreshIfNearExpiry(ctx, model.TokenClaims{
			UserID:    "u1",
			TokenID:   "t",
			Purpose:   model.TokenPurposeSession,
			ExpiresAt: time.Now().Add(40 * time.Minute),
		})
		require.NoError(t, err)
		assert.Nil(t, issued)
	})

	t.Run("api tokens never refresh", func(t *testing.T) {
		issued, err := f.svc.RefreshIfNearExpiry(ctx, model.TokenClaims{
			UserID:    "u1",
			TokenID:   "t",
			Purpose:   model.TokenPurposeAPI,
			ExpiresAt: time.Now().Add(5 * time.Minute),
		})
		require.NoError(t, err)
		assert.Nil(t, issued)
	})
}

func TestTokenService_RevokeAllExcept(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	keep, err := f.svc.Issue(ctx, "u1", model.TokenPurposeSession, []string{"twitter"})
	require.NoError(t, err)
	other1, err := f.svc.Issue(ctx, "u1", model.TokenPurposeAPI, []string{"twitter"})
	require.NoError(t, err)
	other2, err := f.svc.Issue(ctx, "u1", model.TokenPurposeSession, []string{"telegram"})
	require.NoError(t, err)

	count, err := f.svc.RevokeAllExcept(ctx, "u1", keep.Claims.TokenID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = f.svc.Verify(ctx, keep.SignedToken)
	assert.NoError(t, err)
	_, err = f.svc.Verify(ctx, other1.SignedToken)
	assert.ErrorIs(t, err, application.ErrTokenRevoked)
	_, err = f.svc.Verify(ctx, other2.SignedToken)
	assert.ErrorIs(t, err, application.ErrTokenRevoked)
	assert.Contains(t, f.log.actions(), "token_revoke_all")
}

func TestTokenService_ListActive(t *testing.T) {
	f := newTokenFixture(t)
	ctx := context.Background()

	api, err := f.svc.Issue(ctx, "u1", model.TokenPurposeAPI, []string{"twitter"})
	require.NoError(t, err)
	_, err = f.svc.Issue(ctx, "u1", model.TokenPurposeSession, []string{"twitter"})
	require.NoError(t, err)

	active, err := f.svc.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1, "session tokens stay out of the API token listing")
	assert.Equal(t, api.Claims.TokenID, active[0].TokenID)
}
