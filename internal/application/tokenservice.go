package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

var (
	// ErrUnknownScope is returned when an issuance request names a scope no
	// registered service declares. Requests are rejected outright; scopes
	// are never silently dropped.
	ErrUnknownScope = errors.New("unknown scope")

	// ErrTokenMalformed is returned when a presented token fails signature
	// or structural validation.
	ErrTokenMalformed = errors.New("token malformed")

	// ErrTokenExpired is returned when the signed expiry has passed. Checked
	// from the payload alone, so no storage lookup is needed to reject it.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenRevoked is returned when the persisted ledger row is revoked
	// (or absent — a verified signature with no row is treated as revoked).
	ErrTokenRevoked = errors.New("token revoked")
)

// refreshWindow is the trailing window before expiry inside which session
// tokens are silently re-issued.
const refreshWindow = 30 * time.Minute

// tokenClaims is the exact signed payload: registered sub/jti/exp plus the
// space-joined scope set and the purpose flag. Nothing else rides in a token.
type tokenClaims struct {
	jwt.RegisteredClaims
	Scope   string `json:"scope"`
	Purpose string `json:"purpose"`
}

// IssuedToken pairs the signed compact form with its verified claims.
type IssuedToken struct {
	SignedToken string
	Claims      model.TokenClaims
}

// TokenService issues, verifies, refreshes, and revokes delegated tokens,
// and maintains the revocation ledger. Tokens are HS256-signed JWTs; the
// signing algorithm is a process parameter, not something this service owns.
type TokenService struct {
	signingKey []byte
	tokens     driven.TokenStore
	users      driven.UserStore
	registry   *CapabilityRegistry
	accessLog  driven.AccessLog
	sessionTTL time.Duration
	apiTTL     time.Duration
	logger     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewTokenService creates a TokenService. sessionTTL and apiTTL select the
// two lifetime policies; purpose picks between them at issuance.
func NewTokenService(
	signingKey []byte,
	tokens driven.TokenStore,
	users driven.UserStore,
	registry *CapabilityRegistry,
	accessLog driven.AccessLog,
	sessionTTL, apiTTL time.Duration,
	logger *slog.Logger,
) *TokenService {
	return &TokenService{
		signingKey: signingKey,
		tokens:     tokens,
		users:      users,
		registry:   registry,
		accessLog:  accessLog,
		sessionTTL: sessionTTL,
		apiTTL:     apiTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// Issue creates, signs, and persists a new delegated token for the user.
// Every requested scope must be declared by a registered service.
func (s *TokenService) Issue(ctx context.Context, userID string, purpose model.TokenPurpose, scopes []string) (*IssuedToken, error) {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	for _, scope := range scopes {
		if !s.registry.HasScope(scope) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
		}
	}

	ttl := s.apiTTL
	if purpose == model.TokenPurposeSession {
		ttl = s.sessionTTL
	}

	now := s.now()
	tokenID := uuid.NewString()
	expiresAt := now.Add(ttl)

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        tokenID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scope:   strings.Join(scopes, " "),
		Purpose: string(purpose),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	row := model.DelegatedToken{
		TokenID:   tokenID,
		UserID:    userID,
		Purpose:   purpose,
		Scopes:    scopes,
		Status:    model.TokenStatusActive,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("persist token: %w", err)
	}

	s.record(ctx, model.AccessEvent{
		UserID:   userID,
		TokenID:  tokenID,
		Action:   "token_create",
		Decision: model.DecisionAllow,
		Reason:   string(purpose),
	})

	return &IssuedToken{
		SignedToken: signed,
		Claims: model.TokenClaims{
			UserID:    userID,
			Scopes:    scopes,
			TokenID:   tokenID,
			Purpose:   purpose,
			ExpiresAt: expiresAt,
		},
	}, nil
}

// Verify validates a signed token and checks the revocation ledger. Expiry is
// rejected from the signed payload without touching storage; revocation needs
// the ledger lookup so a just-revoked token fails even before its expiry.
func (s *TokenService) Verify(ctx context.Context, signed string) (*model.TokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(signed, &claims, func(t *jwt.Token) (any, error) {
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	tokenID := claims.ID
	if tokenID == "" || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}

	row, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		if errors.Is(err, driven.ErrTokenNotFound) {
			// A valid signature with no ledger row: the row was purged.
			// Treat as revoked rather than leaking why.
			return nil, ErrTokenRevoked
		}
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if row.Status == model.TokenStatusRevoked {
		return nil, ErrTokenRevoked
	}

	if err := s.tokens.TouchLastUsed(ctx, tokenID); err != nil {
		s.logger.Warn("failed to touch token last_used", "token_id", tokenID, "error", err)
	}

	result := model.TokenClaims{
		UserID:    claims.Subject,
		TokenID:   tokenID,
		Purpose:   model.TokenPurpose(claims.Purpose),
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.Scope != "" {
		result.Scopes = strings.Fields(claims.Scope)
	}
	return &result, nil
}

// RefreshIfNearExpiry re-issues a session token when it is inside the
// trailing refresh window. Returns nil when no refresh is needed or the
// token is not session-purpose. The superseded token keeps its own row and
// stays valid until its natural expiry, tolerating in-flight requests; this
// is a sliding-window convenience, not a security boundary, and claims must
// come from a successful Verify so a revoked token can never reach here.
func (s *TokenService) RefreshIfNearExpiry(ctx context.Context, claims model.TokenClaims) (*IssuedToken, error) {
	if claims.Purpose != model.TokenPurposeSession {
		return nil, nil
	}
	if claims.ExpiresAt.Sub(s.now()) >= refreshWindow {
		return nil, nil
	}

	issued, err := s.Issue(ctx, claims.UserID, model.TokenPurposeSession, claims.Scopes)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	s.record(ctx, model.AccessEvent{
		UserID:   claims.UserID,
		TokenID:  issued.Claims.TokenID,
		Action:   "token_refresh",
		Decision: model.DecisionAllow,
		Reason:   "superseded " + claims.TokenID,
	})

	return issued, nil
}

// Revoke flips the token's status to revoked. Only the owner may revoke;
// a token owned by someone else is reported as not found. Revoking an
// already-revoked token succeeds (idempotent).
func (s *TokenService) Revoke(ctx context.Context, userID, tokenID string) error {
	row, err := s.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if row.UserID != userID {
		return driven.ErrTokenNotFound
	}

	if err := s.tokens.Revoke(ctx, tokenID); err != nil {
		return err
	}

	s.record(ctx, model.AccessEvent{
		UserID:   userID,
		TokenID:  tokenID,
		Action:   "token_revoke",
		Decision: model.DecisionAllow,
	})
	return nil
}

// RevokeAllExcept revokes every active token of the user except the one
// identified by keepTokenID ("log out other devices"). Returns the count.
func (s *TokenService) RevokeAllExcept(ctx context.Context, userID, keepTokenID string) (int, error) {
	count, err := s.tokens.RevokeAllExcept(ctx, userID, keepTokenID)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		s.record(ctx, model.AccessEvent{
			UserID:   userID,
			TokenID:  keepTokenID,
			Action:   "token_revoke_all",
			Decision: model.DecisionAllow,
			Reason:   fmt.Sprintf("revoked %d tokens", count),
		})
	}
	return count, nil
}

// ListActive returns the user's active delegated API tokens.
func (s *TokenService) ListActive(ctx context.Context, userID string) ([]model.DelegatedToken, error) {
	return s.tokens.ListActiveByUser(ctx, userID, model.TokenPurposeAPI)
}

// record appends an audit event, logging instead of failing on error: audit
// writes must never break the request they describe.
func (s *TokenService) record(ctx context.Context, e model.AccessEvent) {
	if err := s.accessLog.Record(ctx, e); err != nil {
		s.logger.Warn("failed to record access event", "action", e.Action, "error", err)
	}
}
