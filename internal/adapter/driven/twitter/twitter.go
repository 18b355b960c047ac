// Package twitter implements the twitter service plugin: credential
// validators for web-session cookies and OAuth1 token pairs, and the
// operation dispatcher that brokers declared calls to the Twitter API.
package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// ServiceName is the registry key for this plugin.
const ServiceName = "twitter"

// Plugin bundles the Twitter capability declaration with its validators and
// dispatcher. One instance is registered at bootstrap and shared by all
// requests; the underlying http.Client handles concurrency.
type Plugin struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

// New creates the production plugin. GET responses ride through an in-memory
// ETag cache so repeated timeline reads hit conditional requests upstream.
func New(logger *slog.Logger) *Plugin {
	return &Plugin{
		client: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   15 * time.Second,
		},
		baseURL: "https://api.twitter.com",
		logger:  logger,
	}
}

// NewWithBaseURL creates a Plugin against a custom endpoint and client.
// This constructor is intended for testing, allowing injection of an
// httptest server.
func NewWithBaseURL(client *http.Client, baseURL string, logger *slog.Logger) *Plugin {
	return &Plugin{client: client, baseURL: baseURL, logger: logger}
}

// Capability declares the scopes, operations, and credential kinds this
// plugin contributes to the registry.
func (p *Plugin) Capability() model.Capability {
	return model.Capability{
		Service: ServiceName,
		Scopes:  []string{ServiceName, ServiceName + ".read", ServiceName + ".write"},
		Operations: map[string]model.OperationCategory{
			"HomeTimeline":     model.CategoryRead,
			"UserTweets":       model.CategoryRead,
			"UserByScreenName": model.CategoryRead,
			"CreateTweet":      model.CategoryWrite,
			"DeleteTweet":      model.CategoryWrite,
			"FavoriteTweet":    model.CategoryWrite,
			"RetweetTweet":     model.CategoryWrite,
		},
		Kinds: []model.CredentialKind{model.CredentialKindCookie, model.CredentialKindOAuth1},
	}
}

// Validators returns one live-check validator per declared credential kind.
func (p *Plugin) Validators() map[model.CredentialKind]driven.CredentialValidator {
	return map[model.CredentialKind]driven.CredentialValidator{
		model.CredentialKindCookie: &cookieValidator{plugin: p},
		model.CredentialKindOAuth1: &oauth1Validator{plugin: p},
	}
}

// Dispatcher returns the operation dispatcher.
func (p *Plugin) Dispatcher() driven.Dispatcher {
	return &dispatcher{plugin: p}
}

// verifyResponse is the subset of the verify_credentials payload we read.
type verifyResponse struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

// verifyCredentials performs the live identity check shared by both
// validators; authenticate decorates the request with kind-specific auth.
func (p *Plugin) verifyCredentials(ctx context.Context, authenticate func(*http.Request) error) (*model.ExternalIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/1.1/account/verify_credentials.json", nil)
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	if err := authenticate(req); err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driven.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if payload.IDStr == "" {
		return nil, fmt.Errorf("%w: verify response carries no account id", driven.ErrInvalidCredential)
	}

	return &model.ExternalIdentity{
		ExternalID:  payload.IDStr,
		Username:    payload.ScreenName,
		DisplayName: payload.Name,
	}, nil
}

// checkStatus maps upstream HTTP status codes onto the plugin error contract.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: twitter returned %d", driven.ErrInvalidCredential, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: twitter returned %d", driven.ErrServiceUnavailable, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("twitter returned %d: %s", resp.StatusCode, body)
	}
}
