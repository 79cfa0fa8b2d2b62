package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/feedline-labs/feedline-go/internal/platform/auth"
)

// InsertAuthDeny records a rejected request (failed authentication,
// missing role, missing project scope) as an audit row.
func InsertAuthDeny(ctx context.Context, q QueryRower, service string, event auth.DenyEvent) error {
	_, err := Insert(ctx, q, denyEvent(service, event))
	return err
}

// denyEvent maps a middleware denial onto the audit schema. The actor
// falls back to "anonymous" when authentication never produced a
// subject.
func denyEvent(service string, event auth.DenyEvent) Event {
	actor := strings.TrimSpace(event.Subject)
	if actor == "" {
		actor = "anonymous"
	}

	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}

	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: "http",
		ResourceID:   event.Method + " " + event.Path,
		RequestID:    event.RequestID,
		IP:           ip,
		UserAgent:    event.UserAgent,
		Payload: map[string]any{
			"service": service,
			"status":  event.Status,
			"reason":  event.Reason,
			"error":   event.Error,
			"subject": event.Subject,
			"email":   event.Email,
			"roles":   event.Roles,
		},
	}
}
