package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"authlabs/labserver/internal/audit"
	"authlabs/labserver/internal/auth"
)

func registerAdminHandlers(mux *http.ServeMux, deps Deps) {
	mux.HandleFunc("/api/admin/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		admin, ok := requireSession(w, r, deps.Auth, auth.RoleAdmin)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": deps.Auth.ListSessionViews()})
		auditReq(deps.Audit, r, admin.User.Email, "session.list", "", audit.OutcomeSuccess, "")
	})

	mux.HandleFunc("/api/admin/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		admin, ok := requireSession(w, r, deps.Auth, auth.RoleAdmin)
		if !ok {
			return
		}

		sessionID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/api/admin/sessions/"))
		if sessionID == "" || strings.Contains(sessionID, "/") {
			writeError(w, http.StatusBadRequest, "invalid session id")
			return
		}
		if err := deps.Auth.RevokeSessionByID(sessionID); err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				auditReq(deps.Audit, r, admin.User.Email, "session.revoke", sessionID, audit.OutcomeFailure, "session not found")
				writeError(w, http.StatusNotFound, "session not found")
				return
			}
			auditReq(deps.Audit, r, admin.User.Email, "session.revoke", sessionID, audit.OutcomeFailure, err.Error())
			writeError(w, http.StatusInternalServerError, "revoke session failed")
			return
		}
		auditReq(deps.Audit, r, admin.User.Email, "session.revoke", sessionID, audit.OutcomeSuccess, "")
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("/api/admin/migrations", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		admin, ok := requireSession(w, r, deps.Auth, auth.RoleAdmin)
		if !ok {
			return
		}
		if deps.Migrations == nil {
			writeError(w, http.StatusServiceUnavailable, "migration service unavailable")
			return
		}
		status, err := deps.Migrations.Status(r.Context())
		if err != nil {
			deps.Log.WithError(err).Error("migration status")
			writeError(w, http.StatusInternalServerError, "migration status failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": status})
		auditReq(deps.Audit, r, admin.User.Email, "migration.status", "", audit.OutcomeSuccess, "")
	})
}
