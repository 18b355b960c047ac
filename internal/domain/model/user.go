package model

import "time"

// User is a local account. Profile fields are all optional; a user exists as
// soon as one external account is linked and is never hard-deleted here.
type User struct {
	ID            string
	Username      *string
	Email         *string
	Phone         *string
	WalletAddress *string
	CreatedAt     time.Time
}
