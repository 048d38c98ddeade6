package httpserver

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	sessionCookie     = "authjs.session-token"
	csrfCookie        = "authjs.csrf-token"
	stateCookie       = "authjs.state"
	pkceCookie        = "authjs.pkce.code_verifier"
	callbackURLCookie = "authjs.callback-url"
)

const oauthCookieTTL = 15 * time.Minute

type cookieJar struct {
	secure bool
}

func (c cookieJar) name(base string) string {
	if !c.secure {
		return base
	}
	if base == csrfCookie {
		return "__Host-" + base
	}
	return "__Secure-" + base
}

func (c cookieJar) set(w http.ResponseWriter, base, value string, maxAge time.Duration) {
	ck := &http.Cookie{
		Name:     c.name(base),
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		ck.MaxAge = int(maxAge / time.Second)
		ck.Expires = time.Now().Add(maxAge)
	}
	http.SetCookie(w, ck)
}

func (c cookieJar) clear(w http.ResponseWriter, base string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(base),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c cookieJar) get(r *http.Request, base string) string {
	ck, err := r.Cookie(c.name(base))
	if err != nil {
		return ""
	}
	return ck.Value
}

func randomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func csrfMAC(secret, token string) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(token))
	return hex.EncodeToString(m.Sum(nil))
}

// csrfFromCookie returns the token from a "token|mac" cookie, or "" when the
// cookie is missing or was not minted with secret.
func csrfFromCookie(r *http.Request, jar cookieJar, secret string) string {
	token, mac, ok := strings.Cut(jar.get(r, csrfCookie), "|")
	if !ok || token == "" {
		return ""
	}
	if !hmac.Equal([]byte(mac), []byte(csrfMAC(secret, token))) {
		return ""
	}
	return token
}

func ensureCSRF(w http.ResponseWriter, r *http.Request, jar cookieJar, secret string) string {
	if token := csrfFromCookie(r, jar, secret); token != "" {
		return token
	}
	token := randomToken(32)
	jar.set(w, csrfCookie, token+"|"+csrfMAC(secret, token), 0)
	return token
}

// verifyCSRF checks the double-submitted csrfToken form field against the
// signed cookie. The form must already be parsed.
func verifyCSRF(r *http.Request, jar cookieJar, secret string) bool {
	want := csrfFromCookie(r, jar, secret)
	got := r.PostFormValue("csrfToken")
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// safeCallbackURL keeps redirects on this site. Absolute URLs are accepted
// only when they point at baseURL.
func safeCallbackURL(raw, baseURL string) string {
	raw = strings.TrimSpace(raw)
	if baseURL != "" && strings.HasPrefix(raw, baseURL+"/") {
		raw = strings.TrimPrefix(raw, baseURL)
	}
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "/"
	}
	for i := 0; i < len(raw); i++ {
		if raw[i] < 0x20 || raw[i] == 0x7f || raw[i] == '\\' {
			return "/"
		}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" || !strings.HasPrefix(u.Path, "/") || strings.HasPrefix(u.Path, "//") {
		return "/"
	}
	return raw
}
