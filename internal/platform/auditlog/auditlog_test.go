package auditlog

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sgc-labs/sgc-go/internal/platform/auth"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	event := Event{
		OccurredAt:   time.Unix(1700000000, 0).UTC(),
		Actor:        "gestor.sedoc",
		Action:       ActionProcessStarted,
		ResourceType: ResourceProcess,
		ResourceID:   "proc-1",
		RequestID:    "req-123",
		IP:           net.ParseIP("192.0.2.1"),
	}
	payloadJSON := []byte(`{"units":[1,2]}`)

	a, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, payloadJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
	c, err := ComputeIntegritySHA256(event, []byte(`{"units":[1]}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == c {
		t.Fatalf("expected integrity to change with payload")
	}
}

func TestEventValidate(t *testing.T) {
	if err := (Event{}).Validate(); err == nil {
		t.Fatalf("expected empty event to be rejected")
	}
	event := Event{OccurredAt: time.Now(), Actor: "a", Action: ActionProcessCreated, ResourceType: ResourceProcess, ResourceID: "p"}
	if err := event.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}

func TestAuthDenyEventScopesToProcess(t *testing.T) {
	event := AuthDenyEvent("processes", auth.DenyEvent{
		Reason:     "forbidden",
		Method:     "POST",
		Path:       "/processes/p-1/finalize",
		ProcessID:  "p-1",
		RemoteAddr: "192.0.2.10:5555",
	})
	if event.Actor != "anonymous" {
		t.Fatalf("Actor=%q, want anonymous", event.Actor)
	}
	if event.ResourceType != ResourceProcess || event.ResourceID != "p-1" {
		t.Fatalf("unexpected resource %s/%s", event.ResourceType, event.ResourceID)
	}
	if !strings.HasPrefix(event.Action, "auth.") {
		t.Fatalf("Action=%q, want auth.*", event.Action)
	}
	if event.IP.String() != "192.0.2.10" {
		t.Fatalf("IP=%v", event.IP)
	}
}

func TestInsertQueryReturnsID(t *testing.T) {
	if !strings.Contains(insertEventQuery, "RETURNING event_id") {
		t.Fatalf("expected RETURNING clause")
	}
}
