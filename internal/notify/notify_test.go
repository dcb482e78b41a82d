package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/platform/auditlog"
	"github.com/sgc-labs/sgc-go/internal/repo/memory"
)

func newStore() *memory.Store {
	store := memory.New()
	// 1 ROOT -> 2 INTERMEDIATE -> 3, 4 ; 1 -> 5
	store.AddUnits(
		domain.Unit{ID: 1, Sigla: "ROOT", Type: domain.UnitTypeRoot},
		domain.Unit{ID: 2, Sigla: "COORD", Type: domain.UnitTypeIntermediate, ParentID: domain.UnitIDPtr(1)},
		domain.Unit{ID: 3, Sigla: "SEDOC", Type: domain.UnitTypeOperational, ParentID: domain.UnitIDPtr(2)},
		domain.Unit{ID: 4, Sigla: "SESEL", Type: domain.UnitTypeOperational, ParentID: domain.UnitIDPtr(2)},
		domain.Unit{ID: 5, Sigla: "SEJUD", Type: domain.UnitTypeOperational, ParentID: domain.UnitIDPtr(1)},
	)
	return store
}

type recordingSink struct {
	got []Notification
	err error
}

func (s *recordingSink) Send(ctx context.Context, n Notification) error {
	s.got = append(s.got, n)
	return s.err
}

type fakeObjectStore struct {
	bucket, key, contentType string
	body                     []byte
}

func (f *fakeObjectStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.bucket, f.key, f.contentType, f.body = bucket, key, contentType, data
	return nil
}

func TestRecipientsIncludeIntermediateAncestors(t *testing.T) {
	d, err := NewDispatcher(newStore().Stores().Units, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() err=%v", err)
	}
	got, err := d.Recipients(context.Background(), []domain.UnitID{3})
	if err != nil {
		t.Fatalf("Recipients() err=%v", err)
	}
	if len(got) != 3 {
		t.Fatalf("recipients=%+v, want unit 3 plus ancestors 2 and 1", got)
	}
	if got[0].UnitID != 1 || got[1].UnitID != 2 || got[1].Type != string(domain.UnitTypeIntermediate) || got[2].Sigla != "SEDOC" {
		t.Fatalf("unexpected recipients %+v", got)
	}
	if got[0].Participant || got[1].Participant || !got[2].Participant {
		t.Fatalf("participant flags wrong: %+v", got)
	}
}

func TestDispatchContinuesPastFailingSink(t *testing.T) {
	failing := &recordingSink{err: errors.New("down")}
	ok := &recordingSink{}
	d, _ := NewDispatcher(newStore().Stores().Units, nil, failing, ok)
	p := domain.Process{ID: "p-1", Type: domain.ProcessTypeMapping, Participants: []domain.UnitID{3, 5}}

	err := d.OnProcessStarted(context.Background(), p, []domain.UnitID{3, 5})
	if err == nil {
		t.Fatalf("expected sink error")
	}
	if len(ok.got) != 1 || ok.got[0].Kind != KindProcessStarted || len(ok.got[0].Recipients) != 4 {
		t.Fatalf("second sink got %+v", ok.got)
	}
}

func TestAuditSinkRecordsRecipients(t *testing.T) {
	store := newStore()
	d, _ := NewDispatcher(store.Stores().Units, nil, AuditSink{Audit: store.Stores().Audit})
	p := domain.Process{ID: "p-1", Type: domain.ProcessTypeMapping, Participants: []domain.UnitID{5}}

	if err := d.OnProcessFinalized(context.Background(), p); err != nil {
		t.Fatalf("OnProcessFinalized() err=%v", err)
	}
	events := store.AuditEvents()
	if len(events) != 1 || events[0].Action != auditlog.ActionProcessNotified {
		t.Fatalf("events=%+v", events)
	}
	payload := events[0].Payload.(map[string]any)
	if recipients := payload["recipients"].([]string); len(recipients) != 2 || recipients[0] != "ROOT" || recipients[1] != "SEJUD" {
		t.Fatalf("recipients=%v", recipients)
	}
}

func TestArchiveSinkWritesFinalizationReceipt(t *testing.T) {
	objects := &fakeObjectStore{}
	sink := ArchiveSink{Store: objects, Bucket: "process-archive", Prefix: "sgc"}
	d, _ := NewDispatcher(newStore().Stores().Units, nil, sink)
	finalized := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	p := domain.Process{
		ID:           "p-1",
		Description:  "Ciclo 2025",
		Type:         domain.ProcessTypeMapping,
		Situation:    domain.ProcessFinalized,
		FinalizedAt:  &finalized,
		Participants: []domain.UnitID{4},
	}

	if err := d.OnProcessStarted(context.Background(), p, p.Participants); err != nil {
		t.Fatalf("OnProcessStarted() err=%v", err)
	}
	if objects.key != "" {
		t.Fatalf("start must not archive, wrote %s", objects.key)
	}
	if err := d.OnProcessFinalized(context.Background(), p); err != nil {
		t.Fatalf("OnProcessFinalized() err=%v", err)
	}
	if objects.bucket != "process-archive" || objects.key != "sgc/processes/p-1/finalized.json" || objects.contentType != "application/json" {
		t.Fatalf("unexpected object %s/%s (%s)", objects.bucket, objects.key, objects.contentType)
	}
	var rec receipt
	if err := json.Unmarshal(objects.body, &rec); err != nil {
		t.Fatalf("unmarshal receipt: %v", err)
	}
	if rec.ProcessID != "p-1" || rec.FinalizedAt != "2026-01-15T10:00:00Z" || len(rec.Recipients) != 3 {
		t.Fatalf("unexpected receipt %+v", rec)
	}
}

func TestNewDispatcherRequiresUnits(t *testing.T) {
	if _, err := NewDispatcher(nil, nil); err == nil {
		t.Fatalf("expected error")
	}
}
