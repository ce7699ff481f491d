package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/CaioWing/Ledger/internal/domain"
	"github.com/CaioWing/Ledger/internal/ledger"
)

const managementPrefix = "/api/v1/management/"

// ActivityRecorder is satisfied by service.ActivityService.
type ActivityRecorder interface {
	Record(ctx context.Context, actor *domain.Actor, evt ledger.Event) *domain.ActivityRecord
}

// ActivityLog records successful mutating management requests in the ledger.
func ActivityLog(recorder ActivityRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				return
			}
			if rw.status >= 400 {
				return
			}

			action, resource, resourceID := classifyRequest(r.Method, r.URL.Path)
			if action == "" {
				return
			}

			evt := ledger.Event{
				Action:   action,
				Resource: resource,
				Details: domain.NewDetails(
					domain.Field{Key: "method", Value: r.Method},
					domain.Field{Key: "path", Value: r.URL.Path},
					domain.Field{Key: "status", Value: rw.status},
				),
				SessionInfo: SessionInfo(r),
			}
			if resourceID != "" {
				evt.ResourceID = &resourceID
			}

			// The response is already written; the request context may be
			// cancelled by now.
			recorder.Record(context.WithoutCancel(r.Context()), ActorFrom(r.Context()), evt)
		})
	}
}

// classifyRequest maps a management path to an action, the resource it
// targets and, when present, the resource id.
func classifyRequest(method, path string) (action, resource, resourceID string) {
	p := strings.Trim(strings.TrimPrefix(path, managementPrefix), "/")
	if p == "" || p == strings.Trim(path, "/") {
		return "", "", ""
	}
	parts := strings.Split(p, "/")
	resource = parts[0]

	// Verb sub-resources such as /activity/verify.
	if len(parts) > 1 && method == http.MethodPost && !isIDSegment(parts[len(parts)-1]) {
		action = parts[len(parts)-1]
		if len(parts) > 2 {
			resourceID = parts[1]
		}
		return action, resource, resourceID
	}

	if len(parts) > 1 {
		resourceID = parts[1]
	}
	switch method {
	case http.MethodPost:
		return "create", resource, resourceID
	case http.MethodPut, http.MethodPatch:
		return "update", resource, resourceID
	case http.MethodDelete:
		return "delete", resource, resourceID
	}
	return "", "", ""
}
