package httpserver

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"authlabs/labserver/internal/auth"
)

type sessionKey struct{}

func SessionFromContext(ctx context.Context) (auth.ClientSession, bool) {
	s, ok := ctx.Value(sessionKey{}).(auth.ClientSession)
	return s, ok
}

func sessionMiddleware(deps Deps, next http.Handler) http.Handler {
	jar := cookieJar{secure: deps.CookieSecure}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := jar.get(r, sessionCookie)
		if token == "" || deps.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		session, err := deps.Auth.Session(token)
		if err != nil {
			jar.clear(w, sessionCookie)
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

// Paths the guard never looks at: the auth API, build assets and the icon.
var guardExcluded = []string{"/api", "/_next/static", "/_next/image", "/favicon.ico"}

func guardMiddleware(deps Deps, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.Path
		if p == "/" || hasAnyPrefix(p, guardExcluded) || !hasAnyPrefix(p, deps.ProtectedPrefixes) {
			next.ServeHTTP(w, r)
			return
		}
		if _, ok := SessionFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		redirectToSignIn(w, r)
	})
}

func redirectToSignIn(w http.ResponseWriter, r *http.Request) {
	target := "/api/auth/signin?callbackUrl=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func hasAnyPrefix(p string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
