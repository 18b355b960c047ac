// Package telegram implements the telegram service plugin: a bot token
// validator backed by the Bot API getMe call, and a dispatcher for the
// declared messaging operations.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// ServiceName is the registry key for this plugin.
const ServiceName = "telegram"

// Compile-time interface satisfaction checks.
var (
	_ driven.CredentialValidator = (*botTokenValidator)(nil)
	_ driven.Dispatcher          = (*dispatcher)(nil)
)

// Plugin bundles the Telegram capability declaration with its validator and
// dispatcher. The credential blob is the raw bot token string; no JSON
// wrapping, matching what BotFather hands out.
type Plugin struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

// New creates the production plugin against api.telegram.org.
func New(logger *slog.Logger) *Plugin {
	return &Plugin{
		client: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   15 * time.Second,
		},
		baseURL: "https://api.telegram.org",
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
			"GetMe":       model.CategoryRead,
			"GetChat":     model.CategoryRead,
			"SendMessage": model.CategoryWrite,
		},
		Kinds: []model.CredentialKind{model.CredentialKindBotToken},
	}
}

// Validators returns the bot token validator.
func (p *Plugin) Validators() map[model.CredentialKind]driven.CredentialValidator {
	return map[model.CredentialKind]driven.CredentialValidator{
		model.CredentialKindBotToken: &botTokenValidator{plugin: p},
	}
}

// Dispatcher returns the operation dispatcher.
func (p *Plugin) Dispatcher() driven.Dispatcher {
	return &dispatcher{plugin: p}
}

// apiResponse is the Bot API envelope every method returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// call invokes one Bot API method and unwraps the response envelope.
func (p *Plugin) call(ctx context.Context, token, method string, params url.Values) (json.RawMessage, error) {
	endpoint := p.baseURL + "/bot" + token + "/" + method
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driven.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: telegram returned %d", driven.ErrServiceUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK {
		if envelope.ErrorCode == http.StatusUnauthorized || envelope.ErrorCode == http.StatusNotFound {
			// The Bot API answers 404 for a structurally invalid token.
			return nil, fmt.Errorf("%w: telegram: %s", driven.ErrInvalidCredential, envelope.Description)
		}
		return nil, fmt.Errorf("telegram %s failed: %s (code %d)", method, envelope.Description, envelope.ErrorCode)
	}
	return envelope.Result, nil
}

// botTokenValidator checks a bot token by asking the Bot API who it is.
type botTokenValidator struct {
	plugin *Plugin
}

func (v *botTokenValidator) Validate(ctx context.Context, raw string) (*model.ExternalIdentity, error) {
	token := strings.TrimSpace(raw)
	if token == "" || strings.ContainsAny(token, " /\n") {
		return nil, fmt.Errorf("%w: malformed bot token", driven.ErrInvalidCredential)
	}

	result, err := v.plugin.call(ctx, token, "getMe", nil)
	if err != nil {
		return nil, err
	}

	var me struct {
		ID        int64  `json:"id"`
		Username  string `json:"username"`
		FirstName string `json:"first_name"`
	}
	if err := json.Unmarshal(result, &me); err != nil {
		return nil, fmt.Errorf("decode getMe result: %w", err)
	}
	if me.ID == 0 {
		return nil, fmt.Errorf("%w: getMe result carries no bot id", driven.ErrInvalidCredential)
	}

	return &model.ExternalIdentity{
		ExternalID:  strconv.FormatInt(me.ID, 10),
		Username:    me.Username,
		DisplayName: me.FirstName,
	}, nil
}

// dispatcher executes declared Telegram operations with a vaulted bot token.
type dispatcher struct {
	plugin *Plugin
}

func (d *dispatcher) Dispatch(ctx context.Context, kind model.CredentialKind, blob string, req driven.OperationRequest) (any, error) {
	if kind != model.CredentialKindBotToken {
		return nil, fmt.Errorf("%w: telegram cannot dispatch with kind %q", driven.ErrInvalidCredential, kind)
	}
	token := strings.TrimSpace(blob)

	var (
		method string
		params = url.Values{}
	)
	switch req.OperationID {
	case "GetMe":
		method = "getMe"

	case "GetChat":
		chatID := req.Params["chat_id"]
		if chatID == "" {
			return nil, fmt.Errorf("GetChat requires a chat_id parameter")
		}
		method = "getChat"
		params.Set("chat_id", chatID)

	case "SendMessage":
		chatID := req.Params["chat_id"]
		text := req.Params["text"]
		if chatID == "" || text == "" {
			return nil, fmt.Errorf("SendMessage requires chat_id and text parameters")
		}
		method = "sendMessage"
		params.Set("chat_id", chatID)
		params.Set("text", text)

	default:
		return nil, fmt.Errorf("telegram does not implement operation %q", req.OperationID)
	}

	result, err := d.plugin.call(ctx, token, method, params)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(result, &decoded); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", method, err)
	}

	d.plugin.logger.Debug("telegram operation dispatched", "operation", req.OperationID)
	return decoded, nil
}
