package auditlog

import (
	"context"
	"net"
	"strings"

	"github.com/sgc-labs/sgc-go/internal/platform/auth"
)

// AuthDenyEvent converts a rejected request into an audit event.
func AuthDenyEvent(service string, event auth.DenyEvent) Event {
	actor := "anonymous"
	if strings.TrimSpace(event.Subject) != "" {
		actor = strings.TrimSpace(event.Subject)
	}

	var ip net.IP
	if host, _, err := net.SplitHostPort(event.RemoteAddr); err == nil {
		ip = net.ParseIP(host)
	}

	resourceType := ResourceHTTP
	resourceID := event.Method + " " + event.Path
	if strings.TrimSpace(event.ProcessID) != "" {
		resourceType = ResourceProcess
		resourceID = strings.TrimSpace(event.ProcessID)
	}

	return Event{
		OccurredAt:   event.Time,
		Actor:        actor,
		Action:       "auth." + strings.TrimSpace(event.Reason),
		ResourceType: resourceType,
		ResourceID:   resourceID,
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
			"path":    event.Method + " " + event.Path,
		},
	}
}

// AuthDenyFunc returns an auth.AuditFunc that records denials through a.
func AuthDenyFunc(a Appender, service string) auth.AuditFunc {
	return func(ctx context.Context, event auth.DenyEvent) error {
		return a.Append(ctx, AuthDenyEvent(service, event))
	}
}
