package session

import (
	"time"

	"golang.org/x/oauth2"
)

// Credential is the OAuth token record held by a session.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// CredentialFromToken copies the persistent fields of tok.
func CredentialFromToken(tok *oauth2.Token) Credential {
	if tok == nil {
		return Credential{}
	}
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
	}
}

// Token converts the record back into an oauth2 token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// Empty reports whether there is no usable access token.
func (c Credential) Empty() bool {
	return c.AccessToken == ""
}

// ExpiresWithin reports whether the access token has expired or will within
// threshold. A zero expiry never expires.
func (c Credential) ExpiresWithin(threshold time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return time.Now().Add(threshold).After(c.Expiry)
}
