package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oauthree/teeproxy/internal/application"
	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// IssueToken mints a delegated api token carrying the requested scopes.
// Scopes arrive space-joined in the OAuth style; any scope not declared by a
// registered service rejects the whole request.
func (h *Handler) IssueToken(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	scopes := strings.Fields(req.Scope)
	if len(scopes) == 0 {
		writeError(w, http.StatusBadRequest, "scope is required")
		return
	}

	issued, err := h.tokens.Issue(r.Context(), claims.UserID, model.TokenPurposeAPI, scopes)
	if err != nil {
		if errors.Is(err, application.ErrUnknownScope) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to issue token", "user_id", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, IssuedTokenResponse{
		AccessToken: issued.SignedToken,
		TokenType:   "bearer",
		Scope:       strings.Join(issued.Claims.Scopes, " "),
		ExpiresIn:   int64(time.Until(issued.Claims.ExpiresAt).Seconds()),
	})
}

// ListTokens returns the caller's active delegated api tokens. Session tokens
// never appear here; they are managed through login and logout.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	tokens, err := h.tokens.ListActive(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to list tokens", "user_id", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp = append(resp, toTokenResponse(t))
	}

	writeJSON(w, http.StatusOK, resp)
}

// RevokeToken revokes one of the caller's tokens by id. A token owned by
// someone else reads as not found.
func (h *Handler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	tokenID := r.PathValue("id")

	if err := h.tokens.Revoke(r.Context(), claims.UserID, tokenID); err != nil {
		if errors.Is(err, driven.ErrTokenNotFound) {
			writeError(w, http.StatusNotFound, "token not found")
			return
		}
		h.logger.Error("failed to revoke token", "token_id", tokenID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RevokeOtherTokens revokes every active token of the caller except the one
// making this request.
func (h *Handler) RevokeOtherTokens(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	count, err := h.tokens.RevokeAllExcept(r.Context(), claims.UserID, claims.TokenID)
	if err != nil {
		h.logger.Error("failed to revoke tokens", "user_id", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, RevokedResponse{Revoked: count})
}
