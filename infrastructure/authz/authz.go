// Package authz models the acting user as explicit request state. The
// service consumes identity and capability decisions made upstream (a
// gateway or the surrounding platform); it never authenticates anyone.
package authz

import (
	"context"
	"strings"
)

// Roles recognized by document operations. Admins and managers may act on
// documents they do not own; the QC role may approve and reject.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleQC      = "qc"
	RoleUser    = "user"
)

// Capabilities gating workflow entry points.
const (
	CapGRPO        = "grpo"
	CapQCDashboard = "qc_dashboard"
	CapMultipleGRN = "multiple_grn"
)

// Actor is the user an operation runs as. Passed explicitly into every
// document-mutating call, never read from ambient state.
type Actor struct {
	ID          int64
	Username    string
	Role        string
	Permissions map[string]bool
}

// HasPermission reports whether the actor carries the named capability.
func (a Actor) HasPermission(capability string) bool {
	return a.Permissions[capability]
}

// CanManageDocuments reports whether the actor may act on documents owned
// by other users.
func (a Actor) CanManageDocuments() bool {
	return a.Role == RoleAdmin || a.Role == RoleManager
}

// CanQC reports whether the actor may approve or reject submitted
// documents.
func (a Actor) CanQC() bool {
	return a.HasPermission(CapQCDashboard) || a.Role == RoleAdmin || a.Role == RoleManager
}

// CanView reports whether the actor may read a document owned by ownerID.
func (a Actor) CanView(ownerID int64) bool {
	return a.ID == ownerID || a.CanManageDocuments() || a.Role == RoleQC
}

// ParsePermissions splits a comma-separated capability list as supplied by
// the gateway header.
func ParsePermissions(raw string) map[string]bool {
	perms := make(map[string]bool)
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			perms[p] = true
		}
	}
	return perms
}

type contextKey struct{}

// NewContext returns ctx carrying the actor.
func NewContext(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, actor)
}

// FromContext extracts the actor placed by the transport middleware.
func FromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(contextKey{}).(Actor)
	return actor, ok
}
