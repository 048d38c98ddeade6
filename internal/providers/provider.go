package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"authlabs/labserver/internal/auth"

	"golang.org/x/oauth2"
)

var ErrExchange = errors.New("oauth code exchange failed")

// Provider is one OAuth sign-in option. Every flow uses PKCE (S256).
type Provider interface {
	ID() string
	Name() string
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (auth.Profile, error)
}

type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Option func(*options)

type options struct {
	endpoint    *oauth2.Endpoint
	apiBaseURL  string
	userInfoURL string
	httpClient  *http.Client
}

func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(o *options) { o.endpoint = &ep }
}

// WithAPIBaseURL points the GitHub REST client elsewhere. It must end in "/".
func WithAPIBaseURL(u string) Option {
	return func(o *options) { o.apiBaseURL = u }
}

func WithUserInfoURL(u string) Option {
	return func(o *options) { o.userInfoURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type oauthFlow struct {
	conf       *oauth2.Config
	httpClient *http.Client
}

func newOAuthFlow(creds Credentials, endpoint oauth2.Endpoint, scopes []string, o options) (oauthFlow, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return oauthFlow{}, fmt.Errorf("client id and secret are required")
	}
	if o.endpoint != nil {
		endpoint = *o.endpoint
	}
	return oauthFlow{
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       scopes,
		},
		httpClient: o.httpClient,
	}, nil
}

func (f oauthFlow) AuthCodeURL(state, verifier string) string {
	return f.conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (f oauthFlow) context(ctx context.Context) context.Context {
	if f.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
}

func (f oauthFlow) exchange(ctx context.Context, code, verifier string) (*http.Client, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: missing code", ErrExchange)
	}
	ctx = f.context(ctx)
	tok, err := f.conf.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchange, err)
	}
	return f.conf.Client(ctx, tok), nil
}
