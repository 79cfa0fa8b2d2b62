package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrProjectRequired rejects requests that carry no project scope.
var ErrProjectRequired = errors.New("project_id_required")

// ProjectResolver extracts the project a request operates on.
type ProjectResolver func(r *http.Request, identity Identity) (string, error)

type ctxKeyProjectID struct{}

func ContextWithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, ctxKeyProjectID{}, strings.TrimSpace(projectID))
}

func ProjectIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(ctxKeyProjectID{}).(string)
	return strings.TrimSpace(v), ok
}

// ProjectIDFromRequest looks for the project id in the path, the
// X-Project-Id header, then the query string. Header lookup is
// canonicalized, so X-Project-ID matches as well.
func ProjectIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, v := range []string{
		r.PathValue("project_id"),
		r.Header.Get("X-Project-Id"),
		r.URL.Query().Get("project_id"),
	} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// RequireProjectIDResolver scopes every request to a project except
// the listed path prefixes (health endpoints).
func RequireProjectIDResolver(skipPrefixes []string) ProjectResolver {
	return func(r *http.Request, identity Identity) (string, error) {
		for _, prefix := range skipPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				return "", nil
			}
		}
		if projectID := ProjectIDFromRequest(r); projectID != "" {
			return projectID, nil
		}
		return "", ErrProjectRequired
	}
}
