package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// LinkAccount validates a credential and binds the external account to the
// calling user. Linking a second account on the same service is fine; binding
// an account someone else already owns is a conflict.
func (h *Handler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	req, ok := decodeCredentialRequest(w, r)
	if !ok {
		return
	}

	identity, ok := h.resolveCredential(w, r, req)
	if !ok {
		return
	}

	account, err := h.resolver.Bind(r.Context(), claims.UserID, req.Service, *identity, model.CredentialKind(req.Kind), req.Credential)
	if err != nil {
		if errors.Is(err, driven.ErrIdentityConflict) {
			writeError(w, http.StatusConflict, "external account already linked to another user")
			return
		}
		h.logger.Error("failed to bind identity", "service", req.Service, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toAccountResponse(*account))
}

// ListAccounts returns the caller's linked accounts. Credential material is
// never part of the response.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	accounts, err := h.accounts.ListByUser(r.Context(), claims.UserID)
	if err != nil {
		h.logger.Error("failed to list accounts", "user_id", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]AccountResponse, 0, len(accounts))
	for _, a := range accounts {
		resp = append(resp, toAccountResponse(a))
	}

	writeJSON(w, http.StatusOK, resp)
}

// SetAccountPolicy replaces the per-account policy document. A present
// document only ever narrows what scoped tokens may do with the account.
func (h *Handler) SetAccountPolicy(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	account, ok := h.ownedAccount(w, r, claims.UserID)
	if !ok {
		return
	}

	var policy model.PolicyDocument
	if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy document")
		return
	}

	if err := h.accounts.SetPolicy(r.Context(), account.ID, &policy); err != nil {
		h.logger.Error("failed to set account policy", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	account.Policy = &policy
	writeJSON(w, http.StatusOK, toAccountResponse(*account))
}

// ClearAccountPolicy removes the policy document, restoring scope-only checks.
func (h *Handler) ClearAccountPolicy(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	account, ok := h.ownedAccount(w, r, claims.UserID)
	if !ok {
		return
	}

	if err := h.accounts.SetPolicy(r.Context(), account.ID, nil); err != nil {
		h.logger.Error("failed to clear account policy", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetAllowLogin flips whether the account's credential can bootstrap a
// first-party session.
func (h *Handler) SetAllowLogin(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	account, ok := h.ownedAccount(w, r, claims.UserID)
	if !ok {
		return
	}

	var req AllowLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.accounts.SetAllowLogin(r.Context(), account.ID, req.AllowLogin); err != nil {
		h.logger.Error("failed to set allow_login", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	account.AllowLogin = req.AllowLogin
	writeJSON(w, http.StatusOK, toAccountResponse(*account))
}

// RotateCredential replaces one stored credential on an owned account. The
// fresh credential is validated upstream first and must belong to the same
// external identity the account is bound to; rotating in a different
// account's credential is rejected rather than silently rebinding.
func (h *Handler) RotateCredential(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	account, ok := h.ownedAccount(w, r, claims.UserID)
	if !ok {
		return
	}

	var req RotateCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Kind == "" || req.Credential == "" {
		writeError(w, http.StatusBadRequest, "kind and credential are required")
		return
	}

	identity, ok := h.resolveCredential(w, r, CredentialRequest{
		Service:    account.Service,
		Kind:       req.Kind,
		Credential: req.Credential,
	})
	if !ok {
		return
	}
	if identity.ExternalID != account.ExternalID {
		writeError(w, http.StatusConflict, "credential belongs to a different external account")
		return
	}

	if _, err := h.vault.StoreForAccount(r.Context(), claims.UserID, account.ID, model.CredentialKind(req.Kind), req.Credential); err != nil {
		h.logger.Error("failed to store credential", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RemoveCredential deletes one stored credential kind from an owned account.
func (h *Handler) RemoveCredential(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	account, ok := h.ownedAccount(w, r, claims.UserID)
	if !ok {
		return
	}

	kind := model.CredentialKind(r.PathValue("kind"))
	if err := h.vault.DeleteForAccount(r.Context(), claims.UserID, account.ID, kind); err != nil {
		h.logger.Error("failed to delete credential", "account_id", account.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAccessLog returns the caller's most recent audit events, newest first.
func (h *Handler) ListAccessLog(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	events, err := h.accessLog.ListByUser(r.Context(), claims.UserID, 100)
	if err != nil {
		h.logger.Error("failed to list access log", "user_id", claims.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]AccessEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, toAccessEventResponse(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ownedAccount loads the account from the path id and verifies ownership.
// Someone else's account reads as not found.
func (h *Handler) ownedAccount(w http.ResponseWriter, r *http.Request, userID string) (*model.LinkedAccount, bool) {
	accountID := r.PathValue("id")

	account, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, driven.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return nil, false
		}
		h.logger.Error("failed to get account", "account_id", accountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if account.UserID != userID {
		writeError(w, http.StatusNotFound, "account not found")
		return nil, false
	}

	return account, true
}
