package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oauthree/teeproxy/internal/application"
	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// Register validates a fresh upstream credential, creates a new local user,
// binds the external account to it, and opens a session. The first linked
// account is marked login-capable so the user can come back.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentialRequest(w, r)
	if !ok {
		return
	}

	identity, ok := h.resolveCredential(w, r, req)
	if !ok {
		return
	}

	user := model.User{ID: uuid.NewString(), CreatedAt: time.Now()}
	if err := h.users.Create(r.Context(), user); err != nil {
		h.logger.Error("failed to create user", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	account, err := h.resolver.Bind(r.Context(), user.ID, req.Service, *identity, model.CredentialKind(req.Kind), req.Credential)
	if err != nil {
		if errors.Is(err, driven.ErrIdentityConflict) {
			writeError(w, http.StatusConflict, "external account already linked to another user")
			return
		}
		h.logger.Error("failed to bind identity", "service", req.Service, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.accounts.SetAllowLogin(r.Context(), account.ID, true); err != nil {
		h.logger.Error("failed to enable login on account", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	account.AllowLogin = true

	h.openSession(w, r, user.ID, *account)
}

// Login re-validates a credential for an already-linked, login-enabled
// account and opens a session for its owner. Accounts that exist but have
// login disabled get the same opaque 401 as unknown accounts.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentialRequest(w, r)
	if !ok {
		return
	}

	identity, ok := h.resolveCredential(w, r, req)
	if !ok {
		return
	}

	account, err := h.accounts.GetByServiceExternalID(r.Context(), req.Service, identity.ExternalID)
	if err != nil {
		if errors.Is(err, driven.ErrAccountNotFound) {
			writeUnauthorized(w)
			return
		}
		h.logger.Error("failed to look up account", "service", req.Service, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !account.AllowLogin {
		h.logger.Info("login rejected for login-disabled account", "account_id", account.ID)
		writeUnauthorized(w)
		return
	}

	// Fresh credential and profile metadata ride along with every login.
	updated, err := h.resolver.Bind(r.Context(), account.UserID, req.Service, *identity, model.CredentialKind(req.Kind), req.Credential)
	if err != nil {
		h.logger.Error("failed to refresh account on login", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	updated.AllowLogin = account.AllowLogin
	updated.Policy = account.Policy

	h.openSession(w, r, account.UserID, *updated)
}

// Logout revokes the presented session token and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	if err := h.tokens.Revoke(r.Context(), claims.UserID, claims.TokenID); err != nil && !errors.Is(err, driven.ErrTokenNotFound) {
		h.logger.Error("failed to revoke session token", "token_id", claims.TokenID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// openSession issues a session token over every registered scope and writes
// the session response with its cookie.
func (h *Handler) openSession(w http.ResponseWriter, r *http.Request, userID string, account model.LinkedAccount) {
	issued, err := h.tokens.Issue(r.Context(), userID, model.TokenPurposeSession, h.registry.AllScopes())
	if err != nil {
		h.logger.Error("failed to issue session token", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	setSessionCookie(w, issued.SignedToken, issued.Claims.ExpiresAt)
	writeJSON(w, http.StatusOK, SessionResponse{
		UserID:    userID,
		Account:   toAccountResponse(account),
		ExpiresAt: issued.Claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// decodeCredentialRequest parses and field-checks the shared credential body.
func decodeCredentialRequest(w http.ResponseWriter, r *http.Request) (CredentialRequest, bool) {
	var req CredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Service == "" || req.Kind == "" || req.Credential == "" {
		writeError(w, http.StatusBadRequest, "service, kind, and credential are required")
		return req, false
	}
	return req, true
}

// resolveCredential runs the live upstream check and maps resolver errors to
// HTTP statuses shared by register, login, and account linking.
func (h *Handler) resolveCredential(w http.ResponseWriter, r *http.Request, req CredentialRequest) (*model.ExternalIdentity, bool) {
	identity, err := h.resolver.Resolve(r.Context(), req.Service, model.CredentialKind(req.Kind), req.Credential)
	if err != nil {
		switch {
		case errors.Is(err, application.ErrUnknownService), errors.Is(err, application.ErrUnknownCredentialKind):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, driven.ErrInvalidCredential):
			writeError(w, http.StatusUnauthorized, "upstream service rejected the credential")
		case errors.Is(err, driven.ErrServiceUnavailable):
			writeError(w, http.StatusBadGateway, "upstream service unavailable")
		default:
			h.logger.Error("credential resolution failed", "service", req.Service, "error", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return nil, false
	}
	return identity, true
}
