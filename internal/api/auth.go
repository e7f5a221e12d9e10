// Package api implements the HTTP surface of the facility location service.
package api

import (
	"net/http"
	"strings"
)

// Roles
const (
	RoleAdmin  = "admin"
	RoleSolver = "solver"
	RoleViewer = "viewer"
)

type Principal struct {
	Tenant  string
	Role    string // admin, solver, viewer
	Subject string
}

// getPrincipal extracts tenant and role from a bearer token, or from the
// X-Tenant-Id / X-Role headers when no valid token is present.
func (s *Server) getPrincipal(r *http.Request) Principal {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
		tok := strings.TrimSpace(authz[len("Bearer "):])
		if pr, err := s.Auth.Verify(tok); err == nil {
			return Principal{Tenant: pr.Tenant, Role: pr.Role, Subject: pr.Subject}
		}
	}
	tenant := r.Header.Get("X-Tenant-Id")
	role := strings.ToLower(r.Header.Get("X-Role"))
	if tenant == "" {
		tenant = "t_demo"
	}
	if role == "" {
		role = RoleAdmin
	}
	return Principal{Tenant: tenant, Role: role}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// CanSolve reports whether the principal may start or cancel runs.
func (p Principal) CanSolve() bool { return p.Role == RoleAdmin || p.Role == RoleSolver }
