package httpserver

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"authlabs/labserver/internal/audit"
	"authlabs/labserver/internal/auth"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = map[string]*template.Template{
	"home":    parsePage("home.html"),
	"about":   parsePage("about.html"),
	"members": parsePage("members.html"),
	"admin":   parsePage("admin.html"),
	"signin":  parsePage("signin.html"),
	"404":     parsePage("notfound.html"),
}

func parsePage(name string) *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/"+name))
}

type pageData struct {
	Title     string
	Session   *auth.ClientSession
	CSRFToken string
	Page      any
}

type membersView struct {
	User    auth.SessionUser
	Expires string
}

type adminView struct {
	Forbidden bool
	Role      string
}

type providerButton struct {
	ID   string
	Name string
}

type signInView struct {
	Providers   []providerButton
	CallbackURL string
	Email       string
	Error       string
}

func registerPageHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			renderPage(w, r, deps, http.StatusNotFound, "404", "Not Found", nil)
			return
		}
		if !allowGet(w, r) {
			return
		}
		renderPage(w, r, deps, http.StatusOK, "home", "Home", nil)
	})

	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		renderPage(w, r, deps, http.StatusOK, "about", "About", nil)
	})

	mux.HandleFunc("/members", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		session, ok := SessionFromContext(r.Context())
		if !ok {
			redirectToSignIn(w, r)
			return
		}
		renderPage(w, r, deps, http.StatusOK, "members", "Members Only", membersView{
			User:    session.User,
			Expires: session.Expires.UTC().Format("2006-01-02 15:04 MST"),
		})
	})

	mux.HandleFunc("/admin", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		session, ok := SessionFromContext(r.Context())
		if !ok {
			redirectToSignIn(w, r)
			return
		}
		if !session.IsAdmin() {
			auditReq(deps.Audit, r, session.User.Email, "admin.view", "/admin", audit.OutcomeDenied, "role="+session.User.Role)
			renderPage(w, r, deps, http.StatusForbidden, "admin", "Forbidden", adminView{Forbidden: true, Role: session.User.Role})
			return
		}
		renderPage(w, r, deps, http.StatusOK, "admin", "Admin", adminView{Role: session.User.Role})
	})

	mux.HandleFunc(deps.SignInPage, func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		q := r.URL.Query()
		renderSignIn(w, r, deps, http.StatusOK, signInView{
			CallbackURL: safeCallbackURL(q.Get("callbackUrl"), deps.BaseURL),
			Error:       signInErrorMessage(q.Get("error")),
		})
	})
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func renderSignIn(w http.ResponseWriter, r *http.Request, deps Deps, status int, view signInView) {
	if deps.Providers != nil {
		for _, p := range deps.Providers.List() {
			view.Providers = append(view.Providers, providerButton{ID: p.ID(), Name: p.Name()})
		}
	}
	renderPage(w, r, deps, status, "signin", "Sign in", view)
}

func renderPage(w http.ResponseWriter, r *http.Request, deps Deps, status int, name, title string, view any) {
	data := pageData{
		Title:     title,
		CSRFToken: ensureCSRF(w, r, cookieJar{secure: deps.CookieSecure}, deps.Secret),
		Page:      view,
	}
	if s, ok := SessionFromContext(r.Context()); ok {
		data.Session = &s
	}

	var buf bytes.Buffer
	if err := pages[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		deps.Log.WithError(err).WithField("page", name).Error("render page")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
