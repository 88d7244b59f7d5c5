package google

import (
	gmail "google.golang.org/api/gmail/v1"
	oauth2api "google.golang.org/api/oauth2/v2"
)

// DefaultScopes are requested on every sign-in: the account identity plus
// read and send access to Gmail.
var DefaultScopes = []string{
	oauth2api.OpenIDScope,
	oauth2api.UserinfoEmailScope,
	oauth2api.UserinfoProfileScope,
	gmail.GmailReadonlyScope,
	gmail.GmailSendScope,
}
