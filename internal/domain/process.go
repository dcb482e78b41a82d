package domain

import (
	"errors"
	"strings"
	"time"
)

// ProcessType selects the subprocess lifecycle a process runs.
type ProcessType string

const (
	ProcessTypeMapping   ProcessType = "MAPPING"
	ProcessTypeRevision  ProcessType = "REVISION"
	ProcessTypeDiagnosis ProcessType = "DIAGNOSIS"
)

func (t ProcessType) Valid() bool {
	switch t {
	case ProcessTypeMapping, ProcessTypeRevision, ProcessTypeDiagnosis:
		return true
	default:
		return false
	}
}

// RequiresCurrentMap reports whether participating units must already operate
// under a current map.
func (t ProcessType) RequiresCurrentMap() bool {
	return t == ProcessTypeRevision || t == ProcessTypeDiagnosis
}

// HasMapPhase reports whether subprocesses of this type produce a map.
func (t ProcessType) HasMapPhase() bool {
	return t == ProcessTypeMapping || t == ProcessTypeRevision
}

// ParseProcessType normalizes free-form input to a canonical process type.
func ParseProcessType(value string) ProcessType {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(ProcessTypeMapping), "MAPEAMENTO":
		return ProcessTypeMapping
	case string(ProcessTypeRevision), "REVISAO":
		return ProcessTypeRevision
	case string(ProcessTypeDiagnosis), "DIAGNOSTICO":
		return ProcessTypeDiagnosis
	default:
		return ""
	}
}

// ProcessSituation is the lifecycle state of a process.
type ProcessSituation string

const (
	ProcessCreated    ProcessSituation = "CREATED"
	ProcessInProgress ProcessSituation = "IN_PROGRESS"
	ProcessFinalized  ProcessSituation = "FINALIZED"
)

var processTransitions = map[ProcessSituation][]ProcessSituation{
	ProcessCreated:    {ProcessInProgress},
	ProcessInProgress: {ProcessFinalized},
	ProcessFinalized:  {},
}

func (s ProcessSituation) Valid() bool {
	_, ok := processTransitions[s]
	return ok
}

// Active reports whether a process in this situation still holds its units.
func (s ProcessSituation) Active() bool {
	return s == ProcessCreated || s == ProcessInProgress
}

// CanTransitionProcess returns true when a process situation change is allowed.
func CanTransitionProcess(from, to ProcessSituation) bool {
	for _, candidate := range processTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Process is one organization-wide competency mapping campaign.
type Process struct {
	ID           string
	Description  string
	Type         ProcessType
	Situation    ProcessSituation
	Deadline     *time.Time
	CreatedAt    time.Time
	FinalizedAt  *time.Time
	Participants []UnitID
}

func (p Process) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("process id is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return errors.New("process description is required")
	}
	if !p.Type.Valid() {
		return errors.New("invalid process type")
	}
	if !p.Situation.Valid() {
		return errors.New("invalid process situation")
	}
	return nil
}

// HasParticipant reports whether unit is one of the process participants.
func (p Process) HasParticipant(unit UnitID) bool {
	for _, id := range p.Participants {
		if id == unit {
			return true
		}
	}
	return false
}

// TransitionTo moves the process to the next situation, refusing any change
// once the process is finalized.
func (p *Process) TransitionTo(to ProcessSituation, at time.Time) error {
	if !CanTransitionProcess(p.Situation, to) {
		return &TransitionError{
			Entity:    "process",
			ID:        p.ID,
			Situation: string(p.Situation),
			Operation: "transition to " + string(to),
		}
	}
	p.Situation = to
	if to == ProcessFinalized {
		finalized := at.UTC()
		p.FinalizedAt = &finalized
	}
	return nil
}
