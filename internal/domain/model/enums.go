package model

// CredentialKind identifies the shape of an upstream credential blob.
// Each plugin declares which kinds it can validate and serialize.
type CredentialKind string

const (
	CredentialKindCookie   CredentialKind = "cookie"    // Serialized session cookies (Twitter web session).
	CredentialKindOAuth1   CredentialKind = "oauth1"    // OAuth1 token/secret pair.
	CredentialKindBotToken CredentialKind = "bot_token" // Telegram bot API token.
)

// TokenPurpose selects the lifetime policy of a delegated token at issuance.
type TokenPurpose string

const (
	TokenPurposeSession TokenPurpose = "session" // First-party browser session, short-lived, silently refreshed.
	TokenPurposeAPI     TokenPurpose = "api"     // Delegated access token handed to third-party callers.
)

// TokenStatus represents the persisted state of a delegated token.
// Expiry is never a status; it is recognized lazily from the signed payload.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusRevoked TokenStatus = "revoked"
)

// OperationCategory is the coarse classification of a declared operation.
type OperationCategory string

const (
	CategoryRead  OperationCategory = "read"
	CategoryWrite OperationCategory = "write"
)

// Decision is the outcome of a policy engine evaluation.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
)

// Deny reasons surfaced by the policy engine. The middleware maps them to
// 403 responses; they are also recorded verbatim in the access log.
const (
	DenyMissingScope = "missing_scope"
	DenyPolicyDenied = "policy_denied"
)
