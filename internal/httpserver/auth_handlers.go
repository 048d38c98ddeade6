package httpserver

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"authlabs/labserver/internal/audit"
	"authlabs/labserver/internal/auth"
	"authlabs/labserver/internal/providers"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// Error codes carried in the sign-in page's ?error= parameter.
const (
	errCredentialsSignin     = "CredentialsSignin"
	errOAuthSignin           = "OAuthSignin"
	errOAuthCallback         = "OAuthCallbackError"
	errOAuthAccountNotLinked = "OAuthAccountNotLinked"
)

func registerAuthHandlers(mux *http.ServeMux, deps Deps) {
	jar := cookieJar{secure: deps.CookieSecure}

	mux.HandleFunc("/api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		target := deps.SignInPage
		if cb := r.URL.Query().Get("callbackUrl"); cb != "" {
			target += "?callbackUrl=" + url.QueryEscape(safeCallbackURL(cb, deps.BaseURL))
		}
		http.Redirect(w, r, target, http.StatusFound)
	})

	mux.HandleFunc("/api/auth/signin/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		provider, ok := lookupProvider(deps, strings.TrimPrefix(r.URL.Path, "/api/auth/signin/"))
		if !ok {
			writeError(w, http.StatusNotFound, "unknown provider")
			return
		}
		if err := r.ParseForm(); err != nil || !verifyCSRF(r, jar, deps.Secret) {
			writeError(w, http.StatusForbidden, "invalid csrf token")
			return
		}

		state := randomToken(16)
		verifier := oauth2.GenerateVerifier()
		jar.set(w, stateCookie, state, oauthCookieTTL)
		jar.set(w, pkceCookie, verifier, oauthCookieTTL)
		jar.set(w, callbackURLCookie, safeCallbackURL(r.PostFormValue("callbackUrl"), deps.BaseURL), oauthCookieTTL)

		http.Redirect(w, r, provider.AuthCodeURL(state, verifier), http.StatusFound)
	})

	mux.HandleFunc("/api/auth/callback/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/auth/callback/")
		if id == auth.ProviderCredentials {
			handleCredentialsCallback(w, r, deps, jar)
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		handleOAuthCallback(w, r, deps, jar, id)
	})

	mux.HandleFunc("/api/auth/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		session, ok := SessionFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{})
			return
		}
		writeJSON(w, http.StatusOK, session)
	})

	mux.HandleFunc("/api/auth/csrf", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		token := ensureCSRF(w, r, jar, deps.Secret)
		writeJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
	})

	mux.HandleFunc("/api/auth/providers", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		out := map[string]map[string]string{
			auth.ProviderCredentials: providerInfo(deps.BaseURL, auth.ProviderCredentials, "Credentials", "credentials"),
		}
		if deps.Providers != nil {
			for _, p := range deps.Providers.List() {
				out[p.ID()] = providerInfo(deps.BaseURL, p.ID(), p.Name(), "oauth")
			}
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("/api/auth/signout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if err := r.ParseForm(); err != nil || !verifyCSRF(r, jar, deps.Secret) {
			writeError(w, http.StatusForbidden, "invalid csrf token")
			return
		}

		session, _ := SessionFromContext(r.Context())
		if token := jar.get(r, sessionCookie); token != "" && deps.Auth != nil {
			if err := deps.Auth.SignOut(token); err != nil && !errors.Is(err, auth.ErrInvalidToken) {
				deps.Log.WithError(err).Error("sign out failed")
			}
		}
		jar.clear(w, sessionCookie)
		if session.User.ID != "" {
			auditReq(deps.Audit, r, session.User.Email, "signout", session.User.ID, audit.OutcomeSuccess, "")
		}
		http.Redirect(w, r, safeCallbackURL(r.PostFormValue("callbackUrl"), deps.BaseURL), http.StatusFound)
	})
}

func lookupProvider(deps Deps, id string) (providers.Provider, bool) {
	if deps.Providers == nil || id == "" {
		return nil, false
	}
	return deps.Providers.Get(id)
}

func providerInfo(baseURL, id, name, kind string) map[string]string {
	return map[string]string{
		"id":          id,
		"name":        name,
		"type":        kind,
		"signinUrl":   baseURL + "/api/auth/signin/" + id,
		"callbackUrl": baseURL + "/api/auth/callback/" + id,
	}
}

func handleCredentialsCallback(w http.ResponseWriter, r *http.Request, deps Deps, jar cookieJar) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if deps.Auth == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return
	}
	if err := r.ParseForm(); err != nil || !verifyCSRF(r, jar, deps.Secret) {
		writeError(w, http.StatusForbidden, "invalid csrf token")
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	callbackURL := safeCallbackURL(r.PostFormValue("callbackUrl"), deps.BaseURL)

	session, err := deps.Auth.SignInCredentials(email, r.PostFormValue("password"))
	if err != nil {
		status, code := http.StatusInternalServerError, "Error"
		if errors.Is(err, auth.ErrInvalidCredentials) {
			status, code = http.StatusUnauthorized, errCredentialsSignin
			auditReq(deps.Audit, r, email, "signin.credentials", "", audit.OutcomeFailure, "invalid credentials")
		} else {
			deps.Log.WithError(err).WithField("email", email).Error("credentials sign-in failed")
			auditReq(deps.Audit, r, email, "signin.credentials", "", audit.OutcomeFailure, err.Error())
		}
		renderSignIn(w, r, deps, status, signInView{
			CallbackURL: callbackURL,
			Email:       email,
			Error:       signInErrorMessage(code),
		})
		return
	}

	setSessionCookie(w, jar, session)
	auditReq(deps.Audit, r, session.Email, "signin.credentials", session.UserID, audit.OutcomeSuccess, "")
	http.Redirect(w, r, callbackURL, http.StatusFound)
}

func handleOAuthCallback(w http.ResponseWriter, r *http.Request, deps Deps, jar cookieJar, id string) {
	fail := func(code, detail string) {
		deps.Log.WithFields(logrus.Fields{"provider": id, "code": code, "detail": detail}).Warn("oauth callback failed")
		auditReq(deps.Audit, r, "", "signin.oauth", id, audit.OutcomeFailure, detail)
		http.Redirect(w, r, deps.SignInPage+"?error="+code, http.StatusFound)
	}

	p, ok := lookupProvider(deps, id)
	if !ok || deps.Auth == nil {
		fail(errOAuthSignin, "unknown provider")
		return
	}

	state := jar.get(r, stateCookie)
	verifier := jar.get(r, pkceCookie)
	callbackURL := safeCallbackURL(jar.get(r, callbackURLCookie), deps.BaseURL)
	jar.clear(w, stateCookie)
	jar.clear(w, pkceCookie)
	jar.clear(w, callbackURLCookie)

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		fail(errOAuthCallback, "provider returned "+e)
		return
	}
	if state == "" || verifier == "" || subtle.ConstantTimeCompare([]byte(state), []byte(q.Get("state"))) != 1 {
		fail(errOAuthCallback, "state mismatch")
		return
	}

	profile, err := p.Exchange(r.Context(), q.Get("code"), verifier)
	if err != nil {
		fail(errOAuthCallback, err.Error())
		return
	}

	session, err := deps.Auth.SignInOAuth(profile)
	if err != nil {
		if errors.Is(err, auth.ErrAccountNotLinked) {
			fail(errOAuthAccountNotLinked, err.Error())
			return
		}
		fail(errOAuthCallback, err.Error())
		return
	}

	setSessionCookie(w, jar, session)
	auditReq(deps.Audit, r, session.Email, "signin.oauth", p.ID(), audit.OutcomeSuccess, "")
	http.Redirect(w, r, callbackURL, http.StatusFound)
}

func setSessionCookie(w http.ResponseWriter, jar cookieJar, session auth.Session) {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	jar.set(w, sessionCookie, session.Token, ttl)
}

func signInErrorMessage(code string) string {
	switch code {
	case "":
		return ""
	case errCredentialsSignin:
		return "Invalid credentials."
	case errOAuthAccountNotLinked:
		return "This email is already registered with a different sign-in method."
	default:
		return "Something went wrong."
	}
}
