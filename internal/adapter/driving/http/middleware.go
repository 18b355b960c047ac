package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// sessionCookieName carries the session token for browser callers; API
// callers use the Authorization header instead.
const sessionCookieName = "teeproxy_session"

// refreshedTokenHeader surfaces a silently re-issued session token so
// non-cookie session callers can pick it up.
const refreshedTokenHeader = "X-Refreshed-Token"

type contextKey string

const (
	claimsContextKey  contextKey = "claims"
	accountContextKey contextKey = "account"
)

// claimsFrom returns the verified token claims stored by the auth middleware.
func claimsFrom(ctx context.Context) *model.TokenClaims {
	claims, _ := ctx.Value(claimsContextKey).(*model.TokenClaims)
	return claims
}

// accountFrom returns the linked account resolved by requireOperation.
func accountFrom(ctx context.Context) *proxyTarget {
	target, _ := ctx.Value(accountContextKey).(*proxyTarget)
	return target
}

// proxyTarget is what an allowed proxy request needs downstream: the account
// the decision was made against and the credential to call upstream with.
type proxyTarget struct {
	Account *model.LinkedAccount
	Kind    model.CredentialKind
	Blob    string
}

// bearerToken extracts the presented token: Authorization header first, then
// the session cookie.
func bearerToken(r *http.Request) (string, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found || token == "" {
			return "", false
		}
		return token, true
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return "", false
}

// setSessionCookie attaches a session token cookie expiring with the token.
func setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// clearSessionCookie expires the session cookie immediately.
func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// requireAuth verifies the presented token and stores its claims in the
// request context. Session tokens inside the refresh window are silently
// re-issued: the response carries a fresh cookie plus the
// X-Refreshed-Token header, while the superseded token stays valid until
// its natural expiry. Every 401 body is identical on purpose.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		signed, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w)
			return
		}

		claims, err := h.tokens.Verify(r.Context(), signed)
		if err != nil {
			h.logger.Info("token rejected", "path", r.URL.Path, "reason", err)
			writeUnauthorized(w)
			return
		}

		if refreshed, err := h.tokens.RefreshIfNearExpiry(r.Context(), *claims); err != nil {
			h.logger.Warn("session refresh failed", "user_id", claims.UserID, "error", err)
		} else if refreshed != nil {
			setSessionCookie(w, refreshed.SignedToken, refreshed.Claims.ExpiresAt)
			w.Header().Set(refreshedTokenHeader, refreshed.SignedToken)
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// requireSession restricts an endpoint to first-party session tokens.
// Delegated api tokens exercise proxy operations only; letting one reach the
// management surface would allow it to mint tokens with scopes it does not
// hold. Rejected api tokens get the same uniform 401 as any other failure.
func (h *Handler) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return h.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())
		if claims.Purpose != model.TokenPurposeSession {
			h.logger.Info("api token rejected on session endpoint", "path", r.URL.Path, "token_id", claims.TokenID)
			writeUnauthorized(w)
			return
		}
		next(w, r)
	})
}

// requireOperation authorizes one declared operation before the proxy handler
// runs: token verification, credential lookup, policy evaluation, and an
// access-log record of the decision. On allow, the proxy target rides in the
// request context.
func (h *Handler) requireOperation(service, operationID string, next http.HandlerFunc) http.HandlerFunc {
	return h.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFrom(r.Context())

		blob, kind, account, err := h.vault.FetchLatest(r.Context(), claims.UserID, service)
		if err != nil {
			if errors.Is(err, driven.ErrCredentialNotFound) {
				writeError(w, http.StatusNotFound, "no linked "+service+" credential")
				return
			}
			h.logger.Error("credential lookup failed", "service", service, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		outcome, err := h.policy.Authorize(claims.Scopes, service, operationID, account.Policy)
		if err != nil {
			h.logger.Error("authorization evaluation failed", "service", service, "operation", operationID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		h.recordEvent(r.Context(), model.AccessEvent{
			UserID:    claims.UserID,
			TokenID:   claims.TokenID,
			Service:   service,
			Operation: operationID,
			Action:    "authorize",
			Decision:  outcome.Decision,
			Reason:    outcome.Reason,
		})

		if outcome.Decision != model.DecisionAllow {
			writeError(w, http.StatusForbidden, outcome.Reason)
			return
		}

		h.recordEvent(r.Context(), model.AccessEvent{
			UserID:    claims.UserID,
			TokenID:   claims.TokenID,
			Service:   service,
			Operation: operationID,
			Action:    "token_use",
			Decision:  model.DecisionAllow,
		})

		target := &proxyTarget{Account: account, Kind: kind, Blob: blob}
		ctx := context.WithValue(r.Context(), accountContextKey, target)
		next(w, r.WithContext(ctx))
	})
}

// statusWriter wraps http.ResponseWriter to capture the response status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code and delegates to the embedded writer.
func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start).Round(time.Microsecond),
		)
	})
}

// recoveryMiddleware recovers from panics in HTTP handlers, logs the error,
// and returns a 500 response.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("panic recovered",
					"panic", v,
					"path", r.URL.Path,
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// recordEvent appends an audit row, logging instead of failing: the audit
// trail must never break the request it describes.
func (h *Handler) recordEvent(ctx context.Context, e model.AccessEvent) {
	if err := h.accessLog.Record(ctx, e); err != nil {
		h.logger.Warn("failed to record access event", "action", e.Action, "error", err)
	}
}
