package testutil

import (
	"net/http"

	id "orthoplus/pkg/domain"
	"orthoplus/pkg/requestcontext"
)

// WithTenant adds a tenant ID to the request context.
// This simulates what the session middleware would do for authenticated
// requests. Invalid IDs are silently ignored.
func WithTenant(req *http.Request, tenantID string) *http.Request {
	if parsed, err := id.ParseTenantID(tenantID); err == nil {
		return req.WithContext(requestcontext.WithTenantID(req.Context(), parsed))
	}
	return req
}

// WithSession adds both tenant ID and actor ID to the request context, the
// typical state for an authenticated request. Invalid IDs are silently
// ignored.
func WithSession(req *http.Request, tenantID, actorID string) *http.Request {
	ctx := req.Context()
	if tenantID != "" {
		if parsed, err := id.ParseTenantID(tenantID); err == nil {
			ctx = requestcontext.WithTenantID(ctx, parsed)
		}
	}
	if actorID != "" {
		if parsed, err := id.ParseActorID(actorID); err == nil {
			ctx = requestcontext.WithActorID(ctx, parsed)
		}
	}
	return req.WithContext(ctx)
}
