package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/oauthree/teeproxy/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeUnauthorized writes the uniform 401 body. All token failures read the
// same on the wire; expired/revoked/malformed are distinguished in logs only.
func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "could not validate credentials")
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Detail string `json:"detail"`
}

// CredentialRequest is the body shared by register, login, and account linking.
type CredentialRequest struct {
	Service    string `json:"service"`
	Kind       string `json:"kind"`
	Credential string `json:"credential"`
}

// SessionResponse is returned by register and login alongside the session cookie.
type SessionResponse struct {
	UserID    string          `json:"user_id"`
	Account   AccountResponse `json:"account"`
	ExpiresAt string          `json:"expires_at"`
}

// IssueTokenRequest asks for a new delegated api token.
type IssueTokenRequest struct {
	Scope string `json:"scope"` // Space-joined scope names.
}

// IssuedTokenResponse is the OAuth-style issuance response.
type IssuedTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	ExpiresIn   int64  `json:"expires_in"`
}

// TokenResponse is one row of the active token listing.
type TokenResponse struct {
	TokenID    string   `json:"token_id"`
	Purpose    string   `json:"purpose"`
	Scopes     []string `json:"scopes"`
	IssuedAt   string   `json:"issued_at"`
	ExpiresAt  string   `json:"expires_at"`
	LastUsedAt string   `json:"last_used_at,omitempty"`
}

// RevokedResponse reports how many tokens a bulk revocation hit.
type RevokedResponse struct {
	Revoked int `json:"revoked"`
}

// AccountResponse is the JSON representation of a linked account. Credential
// material never appears here.
type AccountResponse struct {
	ID          string                `json:"id"`
	Service     string                `json:"service"`
	ExternalID  string                `json:"external_id"`
	Username    string                `json:"username"`
	DisplayName string                `json:"display_name"`
	AllowLogin  bool                  `json:"allow_login"`
	Policy      *model.PolicyDocument `json:"policy,omitempty"`
	CreatedAt   string                `json:"created_at"`
	UpdatedAt   string                `json:"updated_at"`
}

// RotateCredentialRequest replaces one stored credential on a linked account.
// The service is implied by the account.
type RotateCredentialRequest struct {
	Kind       string `json:"kind"`
	Credential string `json:"credential"`
}

// AllowLoginRequest flips whether an account can bootstrap a session.
type AllowLoginRequest struct {
	AllowLogin bool `json:"allow_login"`
}

// AccessEventResponse is one row of the caller's audit trail.
type AccessEventResponse struct {
	TokenID   string `json:"token_id,omitempty"`
	Service   string `json:"service,omitempty"`
	Operation string `json:"operation,omitempty"`
	Action    string `json:"action"`
	Decision  string `json:"decision"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func toAccountResponse(a model.LinkedAccount) AccountResponse {
	return AccountResponse{
		ID:          a.ID,
		Service:     a.Service,
		ExternalID:  a.ExternalID,
		Username:    a.Username,
		DisplayName: a.DisplayName,
		AllowLogin:  a.AllowLogin,
		Policy:      a.Policy,
		CreatedAt:   a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toTokenResponse(t model.DelegatedToken) TokenResponse {
	resp := TokenResponse{
		TokenID:   t.TokenID,
		Purpose:   string(t.Purpose),
		Scopes:    t.Scopes,
		IssuedAt:  t.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt: t.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if resp.Scopes == nil {
		resp.Scopes = []string{}
	}
	if t.LastUsedAt != nil {
		resp.LastUsedAt = t.LastUsedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func toAccessEventResponse(e model.AccessEvent) AccessEventResponse {
	return AccessEventResponse{
		TokenID:   e.TokenID,
		Service:   e.Service,
		Operation: e.Operation,
		Action:    e.Action,
		Decision:  string(e.Decision),
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
	}
}
