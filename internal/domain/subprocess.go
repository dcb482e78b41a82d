package domain

import (
	"errors"
	"strings"
	"time"
)

// SubprocessSituation is the per-unit step of a subprocess lifecycle.
type SubprocessSituation string

const (
	CadastroNotStarted     SubprocessSituation = "CADASTRO_NOT_STARTED"
	CadastroInProgress     SubprocessSituation = "CADASTRO_IN_PROGRESS"
	CadastroDisponibilized SubprocessSituation = "CADASTRO_DISPONIBILIZED"
	CadastroHomologated    SubprocessSituation = "CADASTRO_HOMOLOGATED"
	MapCreated             SubprocessSituation = "MAP_CREATED"
	MapDisponibilized      SubprocessSituation = "MAP_DISPONIBILIZED"
	MapValidated           SubprocessSituation = "MAP_VALIDATED"
	MapHomologated         SubprocessSituation = "MAP_HOMOLOGATED"

	// RevisionCadastroHomologated is a revision cadastro homologated on top of
	// the map carried over from the previous cycle.
	RevisionCadastroHomologated SubprocessSituation = "REVISION_CADASTRO_HOMOLOGATED"

	DiagnosisCadastroNotStarted     SubprocessSituation = "DIAGNOSIS_CADASTRO_NOT_STARTED"
	DiagnosisCadastroInProgress     SubprocessSituation = "DIAGNOSIS_CADASTRO_IN_PROGRESS"
	DiagnosisCadastroDisponibilized SubprocessSituation = "DIAGNOSIS_CADASTRO_DISPONIBILIZED"
	DiagnosisCadastroHomologated    SubprocessSituation = "DIAGNOSIS_CADASTRO_HOMOLOGATED"
)

func (s SubprocessSituation) Valid() bool {
	switch s {
	case CadastroNotStarted, CadastroInProgress, CadastroDisponibilized, CadastroHomologated,
		MapCreated, MapDisponibilized, MapValidated, MapHomologated,
		RevisionCadastroHomologated,
		DiagnosisCadastroNotStarted, DiagnosisCadastroInProgress,
		DiagnosisCadastroDisponibilized, DiagnosisCadastroHomologated:
		return true
	default:
		return false
	}
}

// IsCadastroPhase reports whether the situation belongs to the cadastro side
// of the lifecycle for bulk accept/homologate routing.
func IsCadastroPhase(s SubprocessSituation) bool {
	switch s {
	case CadastroDisponibilized, DiagnosisCadastroDisponibilized,
		CadastroHomologated, DiagnosisCadastroHomologated,
		RevisionCadastroHomologated:
		return true
	default:
		return false
	}
}

// IsCadastroHomologated treats the revision carry-over as a homologated cadastro.
func IsCadastroHomologated(s SubprocessSituation) bool {
	return s == CadastroHomologated || s == RevisionCadastroHomologated || s == DiagnosisCadastroHomologated
}

// IsTerminal reports whether no forward edge leaves the situation.
func IsTerminal(s SubprocessSituation) bool {
	return s == MapHomologated || s == DiagnosisCadastroHomologated
}

// Subprocess is the per-unit instance of a process. Deadline belongs to the
// step currently waiting for analysis.
type Subprocess struct {
	ID        string
	ProcessID string
	UnitID    UnitID
	MapID     *string
	Situation SubprocessSituation
	Deadline  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s Subprocess) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("subprocess id is required")
	}
	if strings.TrimSpace(s.ProcessID) == "" {
		return errors.New("process id is required")
	}
	if s.UnitID == 0 {
		return errors.New("unit id is required")
	}
	if !s.Situation.Valid() {
		return errors.New("invalid subprocess situation")
	}
	return nil
}

// HasMap reports whether a map is attached to the subprocess.
func (s Subprocess) HasMap() bool {
	return s.MapID != nil && strings.TrimSpace(*s.MapID) != ""
}

// Movement is one append-only entry in a subprocess audit trail.
type Movement struct {
	ID           string
	SubprocessID string
	Action       Action
	From         SubprocessSituation
	To           SubprocessSituation
	Actor        string
	Note         string
	OccurredAt   time.Time
}
