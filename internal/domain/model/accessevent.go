package model

import "time"

// AccessEvent is one append-only audit record: a token lifecycle action or an
// authorization decision. Action values: token_create, token_use,
// token_refresh, token_revoke, token_revoke_all, authorize.
type AccessEvent struct {
	ID        int64
	UserID    string
	TokenID   string
	Service   string
	Operation string
	Action    string
	Decision  Decision
	Reason    string
	CreatedAt time.Time
}
