// Package notify delivers process lifecycle alerts to every unit that takes
// part in a process and to the units above it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/hierarchy"
	"github.com/sgc-labs/sgc-go/internal/repo"
)

type Kind string

const (
	KindProcessStarted   Kind = "process.started"
	KindProcessFinalized Kind = "process.finalized"
)

// Recipient is a unit that receives an alert. Participant is false for units
// reached only as an ancestor of a participant.
type Recipient struct {
	UnitID      domain.UnitID `json:"unit_id"`
	Sigla       string        `json:"sigla"`
	Type        string        `json:"type"`
	Participant bool          `json:"participant"`
}

type Notification struct {
	Kind       Kind
	Process    domain.Process
	Units      []domain.UnitID
	Recipients []Recipient
	OccurredAt time.Time
}

// Sink receives every notification. Sinks ignore kinds they do not handle.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher implements repo.Notifier by fanning each notification out to its
// sinks. A failing sink does not stop the others.
type Dispatcher struct {
	units  repo.UnitRepository
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewDispatcher(units repo.UnitRepository, logger *slog.Logger, sinks ...Sink) (*Dispatcher, error) {
	if units == nil {
		return nil, errors.New("unit repository is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Dispatcher{
		units:  units,
		sinks:  sinks,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (d *Dispatcher) OnProcessStarted(ctx context.Context, p domain.Process, unitIDs []domain.UnitID) error {
	return d.dispatch(ctx, KindProcessStarted, p, unitIDs)
}

func (d *Dispatcher) OnProcessFinalized(ctx context.Context, p domain.Process) error {
	return d.dispatch(ctx, KindProcessFinalized, p, p.Participants)
}

func (d *Dispatcher) dispatch(ctx context.Context, kind Kind, p domain.Process, unitIDs []domain.UnitID) error {
	recipients, err := d.Recipients(ctx, unitIDs)
	if err != nil {
		return err
	}
	n := Notification{
		Kind:       kind,
		Process:    p,
		Units:      domain.UniqueUnitIDs(unitIDs),
		Recipients: recipients,
		OccurredAt: d.now(),
	}

	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	d.logger.Debug("notification dispatched", "process_id", p.ID, "kind", string(kind), "recipients", len(recipients))
	return nil
}

// Recipients returns the participants followed by their ancestors, including
// intermediate units, ordered by unit id.
func (d *Dispatcher) Recipients(ctx context.Context, unitIDs []domain.UnitID) ([]Recipient, error) {
	all, err := d.units.FindAllWithHierarchy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load hierarchy: %w", err)
	}
	idx := hierarchy.New(all)

	participants := make(map[domain.UnitID]struct{}, len(unitIDs))
	reached := make(map[domain.UnitID]struct{})
	for _, id := range unitIDs {
		participants[id] = struct{}{}
		reached[id] = struct{}{}
		for _, ancestor := range idx.Ancestors(id) {
			reached[ancestor] = struct{}{}
		}
	}

	out := make([]Recipient, 0, len(reached))
	for _, id := range hierarchy.SortedIDs(reached) {
		r := Recipient{UnitID: id, Sigla: id.String()}
		if u, ok := idx.Unit(id); ok {
			r.Sigla = u.Label()
			r.Type = string(u.Type)
		}
		_, r.Participant = participants[id]
		out = append(out, r)
	}
	return out, nil
}
