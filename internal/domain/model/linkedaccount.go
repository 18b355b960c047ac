package model

import "time"

// LinkedAccount binds one external account on one service to a local user.
// (Service, ExternalID) is unique system-wide: the same upstream account can
// never be attached to two local users.
type LinkedAccount struct {
	ID          string
	UserID      string
	Service     string
	ExternalID  string
	Username    string
	DisplayName string
	Policy      *PolicyDocument // nil means no fine-grained restriction beyond scopes.
	AllowLogin  bool            // Whether this account can bootstrap a first-party session.
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ExternalIdentity is what a plugin's validator extracts from a live
// credential check: the stable upstream identifier plus display metadata.
type ExternalIdentity struct {
	ExternalID  string
	Username    string
	DisplayName string
}
