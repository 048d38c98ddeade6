package providers

import (
	"fmt"
	"strings"

	"authlabs/labserver/internal/config"
)

type Registry struct {
	byID  map[string]Provider
	order []Provider
}

func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{byID: make(map[string]Provider)}
	for _, p := range ps {
		if p == nil {
			continue
		}
		if _, dup := r.byID[p.ID()]; dup {
			continue
		}
		r.byID[p.ID()] = p
		r.order = append(r.order, p)
	}
	return r
}

func (r *Registry) Get(id string) (Provider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.byID[id]
	return p, ok
}

func (r *Registry) List() []Provider {
	if r == nil {
		return nil
	}
	out := make([]Provider, len(r.order))
	copy(out, r.order)
	return out
}

func CallbackURL(baseURL, providerID string) string {
	return strings.TrimRight(baseURL, "/") + "/api/auth/callback/" + providerID
}

func FromConfig(cfg config.OAuthConfig, baseURL string) (*Registry, error) {
	var ps []Provider
	if cfg.Google.Enabled() {
		g, err := NewGoogle(Credentials{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  CallbackURL(baseURL, "google"),
		})
		if err != nil {
			return nil, fmt.Errorf("configure google: %w", err)
		}
		ps = append(ps, g)
	}
	if cfg.GitHub.Enabled() {
		gh, err := NewGitHub(Credentials{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  CallbackURL(baseURL, "github"),
		})
		if err != nil {
			return nil, fmt.Errorf("configure github: %w", err)
		}
		ps = append(ps, gh)
	}
	return NewRegistry(ps...), nil
}
