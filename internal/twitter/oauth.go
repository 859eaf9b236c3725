package twitter

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/fpang/social-post-scheduler/internal/publish"
)

// RefreshedToken is the result of a refresh-token exchange.
type RefreshedToken struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Expiry       time.Time
}

// Refresh exchanges refreshToken for a new access token. The app's client
// credentials are sent as HTTP Basic auth. Any failure wraps publish.ErrAuth.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshedToken, error) {
	if refreshToken == "" {
		return nil, publish.Errorf(publish.ErrAuth, "no refresh token; reconnect required")
	}

	cfg := &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	// An already-expired token forces the source to hit the token endpoint.
	stale := &oauth2.Token{RefreshToken: refreshToken, Expiry: time.Unix(1, 0)}
	tok, err := cfg.TokenSource(ctx, stale).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, publish.Errorf(publish.ErrAuth, "token refresh rejected (status %d): %s",
				re.Response.StatusCode, truncate(string(re.Body), 300))
		}
		return nil, publish.Errorf(publish.ErrAuth, "token refresh: %v", err)
	}

	out := &RefreshedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    time.Duration(tok.ExpiresIn) * time.Second,
		Expiry:       tok.Expiry,
	}
	if out.RefreshToken == "" {
		out.RefreshToken = refreshToken
	}
	return out, nil
}
