package model

import "time"

// Credential holds one serialized upstream credential blob for a linked
// account. A linked account carries at most one blob per kind; a cookie-kind
// and an oauth1-kind credential may coexist for the same account. The core
// never interprets Blob; serialization formats belong to plugins.
type Credential struct {
	ID              int64
	LinkedAccountID string
	Kind            CredentialKind
	Blob            string
	UpdatedAt       time.Time
}
