package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Dispatcher = (*dispatcher)(nil)

// dispatcher executes declared Twitter operations with a vaulted credential.
// It only ever sees operations the policy engine already allowed.
type dispatcher struct {
	plugin *Plugin
}

func (d *dispatcher) Dispatch(ctx context.Context, kind model.CredentialKind, blob string, req driven.OperationRequest) (any, error) {
	method, path, query, err := routeOperation(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, d.plugin.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.OperationID, err)
	}

	switch kind {
	case model.CredentialKindCookie:
		cred, err := parseCookieCredential(blob)
		if err != nil {
			return nil, err
		}
		cred.apply(httpReq)
	case model.CredentialKindOAuth1:
		cred, err := parseOAuth1Credential(blob)
		if err != nil {
			return nil, err
		}
		if err := cred.sign(httpReq); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: twitter cannot dispatch with kind %q", driven.ErrInvalidCredential, kind)
	}

	resp, err := d.plugin.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", driven.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.OperationID, err)
	}

	d.plugin.logger.Debug("twitter operation dispatched", "operation", req.OperationID)
	return result, nil
}

// routeOperation maps a declared operation id onto its API endpoint.
func routeOperation(req driven.OperationRequest) (method, path string, query url.Values, err error) {
	query = url.Values{}
	switch req.OperationID {
	case "HomeTimeline":
		count := req.Params["count"]
		if count == "" {
			count = "20"
		}
		query.Set("count", count)
		return http.MethodGet, "/1.1/statuses/home_timeline.json", query, nil

	case "UserTweets":
		screenName := req.Params["screen_name"]
		if screenName == "" {
			return "", "", nil, fmt.Errorf("UserTweets requires a screen_name parameter")
		}
		query.Set("screen_name", screenName)
		if count := req.Params["count"]; count != "" {
			query.Set("count", count)
		}
		return http.MethodGet, "/1.1/statuses/user_timeline.json", query, nil

	case "UserByScreenName":
		screenName := req.Params["screen_name"]
		if screenName == "" {
			return "", "", nil, fmt.Errorf("UserByScreenName requires a screen_name parameter")
		}
		query.Set("screen_name", screenName)
		return http.MethodGet, "/1.1/users/show.json", query, nil

	case "CreateTweet":
		text := req.Params["text"]
		if text == "" {
			return "", "", nil, fmt.Errorf("CreateTweet requires a text parameter")
		}
		query.Set("status", text)
		return http.MethodPost, "/1.1/statuses/update.json", query, nil

	case "DeleteTweet":
		id := req.Params["id"]
		if id == "" {
			return "", "", nil, fmt.Errorf("DeleteTweet requires an id parameter")
		}
		return http.MethodPost, "/1.1/statuses/destroy/" + url.PathEscape(id) + ".json", query, nil

	case "FavoriteTweet":
		id := req.Params["id"]
		if id == "" {
			return "", "", nil, fmt.Errorf("FavoriteTweet requires an id parameter")
		}
		query.Set("id", id)
		return http.MethodPost, "/1.1/favorites/create.json", query, nil

	case "RetweetTweet":
		id := req.Params["id"]
		if id == "" {
			return "", "", nil, fmt.Errorf("RetweetTweet requires an id parameter")
		}
		return http.MethodPost, "/1.1/statuses/retweet/" + url.PathEscape(id) + ".json", query, nil

	default:
		return "", "", nil, fmt.Errorf("twitter does not implement operation %q", req.OperationID)
	}
}
