package httphandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// CreateTweetRequest is the body for posting a tweet through the proxy.
type CreateTweetRequest struct {
	Text string `json:"text"`
}

// SendMessageRequest is the body for sending a Telegram message.
type SendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// dispatch executes one already-authorized operation through the service's
// registered plugin, using the credential resolved by the middleware, and
// writes the plugin's result straight through. The result is the upstream
// response; the proxy adds nothing to it.
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, service, operationID string, params map[string]string) {
	target := accountFrom(r.Context())

	dispatcher, err := h.registry.Dispatcher(service)
	if err != nil {
		h.logger.Error("no dispatcher registered", "service", service, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	result, err := dispatcher.Dispatch(r.Context(), target.Kind, target.Blob, driven.OperationRequest{
		OperationID: operationID,
		Params:      params,
	})
	if err != nil {
		switch {
		case errors.Is(err, driven.ErrServiceUnavailable):
			writeError(w, http.StatusBadGateway, "upstream service unavailable")
		case errors.Is(err, driven.ErrInvalidCredential):
			// The vaulted credential went stale upstream. The caller cannot
			// fix this with a different token, so it is a gateway failure.
			writeError(w, http.StatusBadGateway, "stored credential was rejected upstream")
		default:
			h.logger.Error("operation dispatch failed", "service", service, "operation", operationID, "error", err)
			writeError(w, http.StatusBadGateway, "upstream call failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) proxyTwitterTimeline(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{}
	if count := r.URL.Query().Get("count"); count != "" {
		params["count"] = count
	}
	h.dispatch(w, r, "twitter", "HomeTimeline", params)
}

func (h *Handler) proxyTwitterUser(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "twitter", "UserByScreenName", map[string]string{
		"screen_name": r.PathValue("screen_name"),
	})
}

func (h *Handler) proxyTwitterUserTweets(w http.ResponseWriter, r *http.Request) {
	params := map[string]string{"screen_name": r.PathValue("screen_name")}
	if count := r.URL.Query().Get("count"); count != "" {
		params["count"] = count
	}
	h.dispatch(w, r, "twitter", "UserTweets", params)
}

func (h *Handler) proxyCreateTweet(w http.ResponseWriter, r *http.Request) {
	var req CreateTweetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	h.dispatch(w, r, "twitter", "CreateTweet", map[string]string{"text": req.Text})
}

func (h *Handler) proxyDeleteTweet(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "twitter", "DeleteTweet", map[string]string{"id": r.PathValue("id")})
}

func (h *Handler) proxyFavoriteTweet(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "twitter", "FavoriteTweet", map[string]string{"id": r.PathValue("id")})
}

func (h *Handler) proxyRetweetTweet(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "twitter", "RetweetTweet", map[string]string{"id": r.PathValue("id")})
}

func (h *Handler) proxyTelegramMe(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "telegram", "GetMe", nil)
}

func (h *Handler) proxyTelegramChat(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, "telegram", "GetChat", map[string]string{"chat_id": r.PathValue("id")})
}

func (h *Handler) proxySendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChatID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "chat_id and text are required")
		return
	}
	h.dispatch(w, r, "telegram", "SendMessage", map[string]string{
		"chat_id": req.ChatID,
		"text":    req.Text,
	})
}
