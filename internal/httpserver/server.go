package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"authlabs/labserver/internal/auth"
	"authlabs/labserver/internal/config"
	"authlabs/labserver/internal/migrations"
	"authlabs/labserver/internal/observability"
	"authlabs/labserver/internal/providers"

	"github.com/sirupsen/logrus"
)

type AuthService interface {
	SignInCredentials(email, password string) (auth.Session, error)
	SignInOAuth(profile auth.Profile) (auth.Session, error)
	Session(token string) (auth.ClientSession, error)
	SignOut(token string) error
	ListSessionViews() []auth.SessionView
	RevokeSessionByID(sessionID string) error
}

type ProviderRegistry interface {
	Get(id string) (providers.Provider, bool)
	List() []providers.Provider
}

type MigrationService interface {
	Status(ctx context.Context) ([]migrations.Status, error)
}

type AuditLogger interface {
	Log(actor, action, target, outcome, detail string) error
}

type Deps struct {
	Auth       AuthService
	Providers  ProviderRegistry
	Migrations MigrationService
	Audit      AuditLogger
	Log        *logrus.Logger
	// Ready reports whether backing services are reachable. Nil means ready.
	Ready func(ctx context.Context) error

	Secret            string
	BaseURL           string
	SignInPage        string
	ProtectedPrefixes []string
	CookieSecure      bool
}

func (d Deps) withDefaults() Deps {
	if d.Log == nil {
		d.Log = observability.Discard()
	}
	if d.SignInPage == "" {
		d.SignInPage = "/auth/signin"
	}
	if d.ProtectedPrefixes == nil {
		d.ProtectedPrefixes = []string{"/members"}
	}
	d.BaseURL = strings.TrimRight(d.BaseURL, "/")
	return d
}

type Server struct {
	httpServer *http.Server
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	deps = deps.withDefaults()
	handler := NewHandler(deps)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      loggingMiddleware(deps.Log, handler),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}
}

func NewHandler(deps Deps) http.Handler {
	deps = deps.withDefaults()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil {
			if err := deps.Ready(r.Context()); err != nil {
				deps.Log.WithError(err).Warn("readiness check failed")
				writeError(w, http.StatusServiceUnavailable, "not ready")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	registerAuthHandlers(mux, deps)
	registerAdminHandlers(mux, deps)
	registerPageHandlers(mux, deps)

	return sessionMiddleware(deps, guardMiddleware(deps, mux))
}

// requireSession accepts the session cookie or a bearer token. An empty
// requiredRole only requires a signed-in user.
func requireSession(w http.ResponseWriter, r *http.Request, authSvc AuthService, requiredRole string) (auth.ClientSession, bool) {
	if authSvc == nil {
		writeError(w, http.StatusServiceUnavailable, "auth service unavailable")
		return auth.ClientSession{}, false
	}

	session, ok := SessionFromContext(r.Context())
	if !ok {
		token, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing or invalid session")
			return auth.ClientSession{}, false
		}
		session, err = authSvc.Session(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return auth.ClientSession{}, false
		}
	}

	if requiredRole != "" && session.User.Role != requiredRole {
		writeError(w, http.StatusForbidden, "forbidden")
		return auth.ClientSession{}, false
	}
	return session, true
}

func extractBearerToken(authHeader string) (string, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(log *logrus.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = newRequestID()
		}
		w.Header().Set("X-Request-Id", reqID)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, reqID))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.WithFields(logrus.Fields{
			"request_id":  reqID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"ip":          clientIP(r),
		}).Info("request")
	})
}

type requestIDKey struct{}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func requestIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey{}).(string); ok {
		return s
	}
	return ""
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func auditReq(a AuditLogger, r *http.Request, actor, action, target, outcome, detail string) {
	parts := []string{
		"rid=" + requestIDFromContext(r.Context()),
		"ip=" + clientIP(r),
		"ua=" + strings.TrimSpace(r.UserAgent()),
	}
	if strings.TrimSpace(detail) != "" {
		parts = append(parts, "detail="+strings.TrimSpace(detail))
	}
	auditSafe(a, actor, action, target, outcome, strings.Join(parts, " | "))
}

func auditSafe(a AuditLogger, actor, action, target, outcome, detail string) {
	if a == nil {
		return
	}
	_ = a.Log(actor, action, target, outcome, detail)
}
