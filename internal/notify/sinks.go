package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/platform/objectstore"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

// LogSink writes one structured line per recipient.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Send(ctx context.Context, n Notification) error {
	if s.Logger == nil {
		return nil
	}
	for _, r := range n.Recipients {
		s.Logger.InfoContext(ctx, "process alert",
			"kind", string(n.Kind),
			"process_id", n.Process.ID,
			"unit_id", int64(r.UnitID),
			"sigla", r.Sigla,
			"participant", r.Participant,
		)
	}
	return nil
}

// AuditSink records who was alerted.
type AuditSink struct {
	Audit repo.AuditAppender
}

func (s AuditSink) Send(ctx context.Context, n Notification) error {
	if s.Audit == nil {
		return errors.New("audit appender is required")
	}
	siglas := make([]string, 0, len(n.Recipients))
	for _, r := range n.Recipients {
		siglas = append(siglas, r.Sigla)
	}
	return s.Audit.Append(ctx, auditlog.Event{
		OccurredAt:   n.OccurredAt,
		Actor:        "system",
		Action:       auditlog.ActionProcessNotified,
		ResourceType: auditlog.ResourceProcess,
		ResourceID:   n.Process.ID,
		Payload: map[string]any{
			"kind":       string(n.Kind),
			"recipients": siglas,
		},
	})
}

type receipt struct {
	ProcessID   string      `json:"process_id"`
	Description string      `json:"description"`
	Type        string      `json:"type"`
	FinalizedAt string      `json:"finalized_at,omitempty"`
	Recipients  []Recipient `json:"recipients"`
}

// ArchiveSink stores a JSON receipt for every finalized process.
type ArchiveSink struct {
	Store  objectstore.Store
	Bucket string
	Prefix string
}

// ReceiptKey is the object key of the finalization receipt of processID.
func (s ArchiveSink) ReceiptKey(processID string) string {
	return path.Join(s.Prefix, "processes", processID, "finalized.json")
}

func (s ArchiveSink) Send(ctx context.Context, n Notification) error {
	if n.Kind != KindProcessFinalized {
		return nil
	}
	if s.Store == nil {
		return errors.New("object store is required")
	}
	rec := receipt{
		ProcessID:   n.Process.ID,
		Description: n.Process.Description,
		Type:        string(n.Process.Type),
		Recipients:  n.Recipients,
	}
	if n.Process.FinalizedAt != nil {
		rec.FinalizedAt = n.Process.FinalizedAt.UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	key := s.ReceiptKey(n.Process.ID)
	if err := s.Store.Put(ctx, s.Bucket, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
