// Package scope carries the organization a unit of work acts on.
//
// Scope travels in the context as a forge.Scope whose app is the Polar
// platform and whose org is the seller organization. Jobs persist it in
// ScopeAppID/ScopeOrgID so that the handler sees the same organization as
// the code that enqueued it.
package scope

import (
	"context"

	"github.com/xraph/forge"
)

// AppID is the app identifier used for every Polar scope.
const AppID = "polar"

// WithOrganization returns a context scoped to orgID.
func WithOrganization(ctx context.Context, orgID string) context.Context {
	return Restore(ctx, AppID, orgID)
}

// Organization returns the organization ID in ctx, or "".
func Organization(ctx context.Context) string {
	_, orgID := Capture(ctx)
	return orgID
}

// Capture extracts the app and org identifiers from the context.
func Capture(ctx context.Context) (appID, orgID string) {
	s, ok := forge.ScopeFrom(ctx)
	if !ok {
		return "", ""
	}
	return s.AppID(), s.OrgID()
}

// Restore attaches a scope built from appID and orgID. Both empty is a
// no-op.
func Restore(ctx context.Context, appID, orgID string) context.Context {
	if appID == "" && orgID == "" {
		return ctx
	}
	var s forge.Scope
	if orgID != "" {
		s = forge.NewOrgScope(appID, orgID)
	} else {
		s = forge.NewAppScope(appID)
	}
	return forge.WithScope(ctx, s)
}
