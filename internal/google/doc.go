// Package google implements the OAuth2 authorization-code flow against
// Google for the gateway.
//
// The flow is exposed through the narrow OAuthClient interface so that the
// session layer and tests never depend on golang.org/x/oauth2 details:
//
//	url := client.Begin(state)               // consent screen
//	grant, err := client.Complete(ctx, code)  // tokens + account email
//	tok, err := client.Refresh(ctx, grant.Token)
//
// Consent always requests offline access with a forced prompt, so Google
// issues a refresh token on every sign-in.
package google
