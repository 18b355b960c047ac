package twitter

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oauthree/teeproxy/internal/domain/model"
	"github.com/oauthree/teeproxy/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialValidator = (*oauth1Validator)(nil)

// oauth1Credential is the serialized OAuth1 token pair plus the consumer
// keys it was minted under.
type oauth1Credential struct {
	ConsumerKey       string `json:"consumer_key"`
	ConsumerSecret    string `json:"consumer_secret"`
	AccessToken       string `json:"access_token"`
	AccessTokenSecret string `json:"access_token_secret"`
}

func parseOAuth1Credential(raw string) (*oauth1Credential, error) {
	var cred oauth1Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("%w: malformed oauth1 blob: %v", driven.ErrInvalidCredential, err)
	}
	if cred.ConsumerKey == "" || cred.ConsumerSecret == "" || cred.AccessToken == "" || cred.AccessTokenSecret == "" {
		return nil, fmt.Errorf("%w: oauth1 blob missing key material", driven.ErrInvalidCredential)
	}
	return &cred, nil
}

// sign computes the HMAC-SHA1 Authorization header for req per RFC 5849.
// Both query and form parameters must already be on the request URL; body
// parameters other than the query string are not supported here because every
// declared operation passes its parameters in the URL.
func (c *oauth1Credential) sign(req *http.Request) error {
	nonceBytes := make([]byte, 16)
	if _, err := rand.Read(nonceBytes); err != nil {
		return fmt.Errorf("generate oauth nonce: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     c.ConsumerKey,
		"oauth_nonce":            hex.EncodeToString(nonceBytes),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_token":            c.AccessToken,
		"oauth_version":          "1.0",
	}

	// Parameter string: oauth params plus query params, percent-encoded,
	// sorted by encoded key.
	params := make(map[string]string, len(oauthParams))
	for k, v := range oauthParams {
		params[k] = v
	}
	for k, vs := range req.URL.Query() {
		if len(vs) > 0 {
			params[k] = vs[0]
		}
	}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
	}
	sort.Strings(pairs)

	baseURL := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	base := strings.ToUpper(req.Method) + "&" + percentEncode(baseURL) + "&" + percentEncode(strings.Join(pairs, "&"))

	mac := hmac.New(sha1.New, []byte(percentEncode(c.ConsumerSecret)+"&"+percentEncode(c.AccessTokenSecret)))
	mac.Write([]byte(base))
	oauthParams["oauth_signature"] = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	headerKeys := make([]string, 0, len(oauthParams))
	for k := range oauthParams {
		headerKeys = append(headerKeys, k)
	}
	sort.Strings(headerKeys)

	var header strings.Builder
	header.WriteString("OAuth ")
	for i, k := range headerKeys {
		if i > 0 {
			header.WriteString(", ")
		}
		header.WriteString(percentEncode(k))
		header.WriteString(`="`)
		header.WriteString(percentEncode(oauthParams[k]))
		header.WriteString(`"`)
	}
	req.Header.Set("Authorization", header.String())
	return nil
}

// percentEncode implements the strict RFC 3986 encoding OAuth1 requires;
// url.QueryEscape differs on space and tilde.
func percentEncode(s string) string {
	var out strings.Builder
	for _, b := range []byte(s) {
		if (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') ||
			b == '-' || b == '.' || b == '_' || b == '~' {
			out.WriteByte(b)
		} else {
			fmt.Fprintf(&out, "%%%02X", b)
		}
	}
	return out.String()
}

// oauth1Validator checks an OAuth1 token pair against the live service.
type oauth1Validator struct {
	plugin *Plugin
}

func (v *oauth1Validator) Validate(ctx context.Context, raw string) (*model.ExternalIdentity, error) {
	cred, err := parseOAuth1Credential(raw)
	if err != nil {
		return nil, err
	}

	return v.plugin.verifyCredentials(ctx, cred.sign)
}
