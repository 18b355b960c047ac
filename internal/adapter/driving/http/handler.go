package httphandler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/oauthree/teeproxy/internal/application"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	resolver  *application.IdentityResolver
	tokens    *application.TokenService
	vault     *application.CredentialVault
	policy    *application.PolicyEngine
	registry  *application.CapabilityRegistry
	users     driven.UserStore
	accounts  driven.AccountStore
	accessLog driven.AccessLog
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	resolver *application.IdentityResolver,
	tokens *application.TokenService,
	vault *application.CredentialVault,
	policy *application.PolicyEngine,
	registry *application.CapabilityRegistry,
	users driven.UserStore,
	accounts driven.AccountStore,
	accessLog driven.AccessLog,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		resolver:  resolver,
		tokens:    tokens,
		vault:     vault,
		policy:    policy,
		registry:  registry,
		users:     users,
		accounts:  accounts,
		accessLog: accessLog,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware. Proxy routes are bound to exactly one
// declared operation each; the operation id is fixed at registration time so
// a request can never choose which capability it exercises.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/auth/register", h.Register)
	mux.HandleFunc("POST /api/v1/auth/login", h.Login)
	mux.HandleFunc("POST /api/v1/auth/logout", h.requireSession(h.Logout))

	mux.HandleFunc("POST /api/v1/tokens", h.requireSession(h.IssueToken))
	mux.HandleFunc("GET /api/v1/tokens", h.requireSession(h.ListTokens))
	mux.HandleFunc("DELETE /api/v1/tokens/{id}", h.requireSession(h.RevokeToken))
	mux.HandleFunc("POST /api/v1/tokens/revoke-others", h.requireSession(h.RevokeOtherTokens))

	mux.HandleFunc("POST /api/v1/accounts", h.requireSession(h.LinkAccount))
	mux.HandleFunc("GET /api/v1/accounts", h.requireSession(h.ListAccounts))
	mux.HandleFunc("PUT /api/v1/accounts/{id}/policy", h.requireSession(h.SetAccountPolicy))
	mux.HandleFunc("DELETE /api/v1/accounts/{id}/policy", h.requireSession(h.ClearAccountPolicy))
	mux.HandleFunc("PUT /api/v1/accounts/{id}/allow-login", h.requireSession(h.SetAllowLogin))
	mux.HandleFunc("PUT /api/v1/accounts/{id}/credentials", h.requireSession(h.RotateCredential))
	mux.HandleFunc("DELETE /api/v1/accounts/{id}/credentials/{kind}", h.requireSession(h.RemoveCredential))

	mux.HandleFunc("GET /api/v1/access-log", h.requireSession(h.ListAccessLog))

	mux.HandleFunc("GET /api/v1/twitter/timeline", h.requireOperation("twitter", "HomeTimeline", h.proxyTwitterTimeline))
	mux.HandleFunc("GET /api/v1/twitter/users/{screen_name}", h.requireOperation("twitter", "UserByScreenName", h.proxyTwitterUser))
	mux.HandleFunc("GET /api/v1/twitter/users/{screen_name}/tweets", h.requireOperation("twitter", "UserTweets", h.proxyTwitterUserTweets))
	mux.HandleFunc("POST /api/v1/twitter/tweets", h.requireOperation("twitter", "CreateTweet", h.proxyCreateTweet))
	mux.HandleFunc("DELETE /api/v1/twitter/tweets/{id}", h.requireOperation("twitter", "DeleteTweet", h.proxyDeleteTweet))
	mux.HandleFunc("POST /api/v1/twitter/tweets/{id}/favorite", h.requireOperation("twitter", "FavoriteTweet", h.proxyFavoriteTweet))
	mux.HandleFunc("POST /api/v1/twitter/tweets/{id}/retweet", h.requireOperation("twitter", "RetweetTweet", h.proxyRetweetTweet))

	mux.HandleFunc("GET /api/v1/telegram/me", h.requireOperation("telegram", "GetMe", h.proxyTelegramMe))
	mux.HandleFunc("GET /api/v1/telegram/chats/{id}", h.requireOperation("telegram", "GetChat", h.proxyTelegramChat))
	mux.HandleFunc("POST /api/v1/telegram/messages", h.requireOperation("telegram", "SendMessage", h.proxySendMessage))

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// Health returns a simple liveness response.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
