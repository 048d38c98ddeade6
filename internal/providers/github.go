package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"authlabs/labserver/internal/auth"

	"github.com/google/go-github/github"
	"golang.org/x/oauth2/endpoints"
)

type GitHub struct {
	oauthFlow
	apiBaseURL *url.URL
}

func NewGitHub(creds Credentials, opts ...Option) (*GitHub, error) {
	o := buildOptions(opts)
	flow, err := newOAuthFlow(creds, endpoints.GitHub, []string{"read:user", "user:email"}, o)
	if err != nil {
		return nil, fmt.Errorf("github: %w", err)
	}
	p := &GitHub{oauthFlow: flow}
	if o.apiBaseURL != "" {
		u, err := url.Parse(o.apiBaseURL)
		if err != nil {
			return nil, fmt.Errorf("github: parse api base url: %w", err)
		}
		p.apiBaseURL = u
	}
	return p, nil
}

func (p *GitHub) ID() string   { return "github" }
func (p *GitHub) Name() string { return "GitHub" }

func (p *GitHub) Exchange(ctx context.Context, code, verifier string) (auth.Profile, error) {
	httpClient, err := p.exchange(ctx, code, verifier)
	if err != nil {
		return auth.Profile{}, err
	}
	client := github.NewClient(httpClient)
	if p.apiBaseURL != nil {
		client.BaseURL = p.apiBaseURL
	}

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return auth.Profile{}, fmt.Errorf("github: fetch user: %w", err)
	}

	profile := auth.Profile{
		Provider:          p.ID(),
		ProviderAccountID: strconv.FormatInt(user.GetID(), 10),
		Email:             user.GetEmail(),
		Name:              user.GetName(),
		Image:             user.GetAvatarURL(),
	}
	if profile.Name == "" {
		profile.Name = user.GetLogin()
	}

	emails, _, err := client.Users.ListEmails(ctx, nil)
	if err != nil {
		if profile.Email == "" {
			return auth.Profile{}, fmt.Errorf("github: list emails: %w", err)
		}
		return profile, nil
	}
	for _, e := range emails {
		if e.GetPrimary() && e.GetVerified() {
			profile.Email = e.GetEmail()
			profile.EmailVerified = true
			break
		}
	}
	return profile, nil
}
