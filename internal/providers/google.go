package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"authlabs/labserver/internal/auth"

	"golang.org/x/oauth2/endpoints"
)

const googleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"

type Google struct {
	oauthFlow
	userInfoURL string
}

func NewGoogle(creds Credentials, opts ...Option) (*Google, error) {
	o := buildOptions(opts)
	flow, err := newOAuthFlow(creds, endpoints.Google, []string{"openid", "email", "profile"}, o)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	p := &Google{oauthFlow: flow, userInfoURL: googleUserInfoURL}
	if o.userInfoURL != "" {
		p.userInfoURL = o.userInfoURL
	}
	return p, nil
}

func (p *Google) ID() string   { return "google" }
func (p *Google) Name() string { return "Google" }

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (p *Google) Exchange(ctx context.Context, code, verifier string) (auth.Profile, error) {
	client, err := p.exchange(ctx, code, verifier)
	if err != nil {
		return auth.Profile{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return auth.Profile{}, fmt.Errorf("google: build userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return auth.Profile{}, fmt.Errorf("google: fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return auth.Profile{}, fmt.Errorf("google: userinfo status %d: %s", resp.StatusCode, body)
	}

	var info googleUserInfo
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&info); err != nil {
		return auth.Profile{}, fmt.Errorf("google: decode userinfo: %w", err)
	}
	if info.Sub == "" {
		return auth.Profile{}, fmt.Errorf("google: userinfo missing sub")
	}

	return auth.Profile{
		Provider:          p.ID(),
		ProviderAccountID: info.Sub,
		Email:             info.Email,
		Name:              info.Name,
		Image:             info.Picture,
		EmailVerified:     info.EmailVerified,
	}, nil
}
