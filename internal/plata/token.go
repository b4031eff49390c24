package plata

import "golang.org/x/oauth2"

// TokenSource wraps a static merchant token. The API has no token exchange,
// the token is sent verbatim in the X-Token header.
func TokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: headerToken})
}
