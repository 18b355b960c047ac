package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialValidator = (*cookieValidator)(nil)

// cookieCredential is the serialized form of a Twitter web session: the
// auth_token session cookie plus the ct0 CSRF token that must be echoed in
// the x-csrf-token header on every authenticated call.
type cookieCredential struct {
	AuthToken string `json:"auth_token"`
	CSRFToken string `json:"ct0"`
}

func parseCookieCredential(raw string) (*cookieCredential, error) {
	var cred cookieCredential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("%w: malformed cookie blob: %v", driven.ErrInvalidCredential, err)
	}
	if cred.AuthToken == "" {
		return nil, fmt.Errorf("%w: cookie blob missing auth_token", driven.ErrInvalidCredential)
	}
	return &cred, nil
}

// apply attaches the session cookies and CSRF header to an outgoing request.
func (c *cookieCredential) apply(req *http.Request) {
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: c.AuthToken})
	if c.CSRFToken != "" {
		req.AddCookie(&http.Cookie{Name: "ct0", Value: c.CSRFToken})
		req.Header.Set("x-csrf-token", c.CSRFToken)
	}
}

// cookieValidator checks a web-session cookie blob against the live service.
type cookieValidator struct {
	plugin *Plugin
}

func (v *cookieValidator) Validate(ctx context.Context, raw string) (*model.ExternalIdentity, error) {
	cred, err := parseCookieCredential(raw)
	if err != nil {
		return nil, err
	}

	return v.plugin.verifyCredentials(ctx, func(req *http.Request) error {
		cred.apply(req)
		return nil
	})
}
