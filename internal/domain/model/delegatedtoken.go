package model

import "time"

// DelegatedToken is the persisted record of one issued token. TokenID is the
// revocation key; the signed payload itself is never stored. The row is
// mutated only to flip Status to revoked — expiry is read from the signed
// payload at verification time and never extends.
type DelegatedToken struct {
	TokenID    string
	UserID     string
	Purpose    TokenPurpose
	Scopes     []string
	Status     TokenStatus
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// TokenClaims is the verified content of a signed token: exactly the user id,
// the granted scope set, the token id, plus the purpose flag and expiry needed
// for refresh decisions. No other user-identifying data rides in the payload.
type TokenClaims struct {
	UserID    string
	Scopes    []string
	TokenID   string
	Purpose   TokenPurpose
	ExpiresAt time.Time
}

// HasScope reports whether the granted scope set contains s.
func (c TokenClaims) HasScope(s string) bool {
	for _, granted := range c.Scopes {
		if granted == s {
			return true
		}
	}
	return false
}
