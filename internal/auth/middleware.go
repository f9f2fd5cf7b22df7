/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/friendsincode/shopfloor/internal/models"
)

// EventsPath is the only route that accepts a token in the query string.
const EventsPath = "/api/v1/events"

// Middleware verifies the bearer token and stores its claims in the request context.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				deny(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}

			claims, err := Parse(secret, token)
			if err != nil {
				deny(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRoles lets the request through when the caller holds any of roles.
// It must run behind Middleware.
func RequireRoles(roles ...models.RoleName) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				deny(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			if !claims.HasRole(roles...) {
				deny(w, http.StatusForbidden, "insufficient_role", "this action needs one of the roles "+joinRoles(roles))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func deny(w http.ResponseWriter, status int, code, message string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="shopfloor"`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func joinRoles(roles []models.RoleName) string {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return strings.Join(names, ", ")
}

func bearerToken(r *http.Request) string {
	if scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}

	// Browsers cannot set headers on a WebSocket handshake, so the live
	// board passes its token as ?token= on the upgrade request only.
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket") && path.Clean(r.URL.Path) == EventsPath {
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return ""
}
