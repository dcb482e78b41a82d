package domain

import "fmt"

// Action is an operation that moves a subprocess along its lifecycle.
type Action string

const (
	ActionProcessStarted       Action = "PROCESS_STARTED"
	ActionStartCadastro        Action = "START_CADASTRO"
	ActionDisponibilize        Action = "DISPONIBILIZE"
	ActionReturnForCorrection  Action = "RETURN_FOR_CORRECTION"
	ActionAcceptCadastro       Action = "ACCEPT_CADASTRO"
	ActionHomologateCadastro   Action = "HOMOLOGATE_CADASTRO"
	ActionCreateMap            Action = "CREATE_MAP"
	ActionValidateMap          Action = "VALIDATE_MAP"
	ActionAcceptValidation     Action = "ACCEPT_VALIDATION"
	ActionHomologateValidation Action = "HOMOLOGATE_VALIDATION"
)

type edges map[SubprocessSituation]SubprocessSituation

// Shared by MAPPING and REVISION; REVISION overrides cadastro homologation.
var mappingTransitions = map[Action]edges{
	ActionStartCadastro: {
		CadastroNotStarted: CadastroInProgress,
	},
	ActionDisponibilize: {
		CadastroNotStarted: CadastroDisponibilized,
		CadastroInProgress: CadastroDisponibilized,
		MapCreated:         MapDisponibilized,
	},
	ActionReturnForCorrection: {
		CadastroDisponibilized: CadastroInProgress,
		MapValidated:           MapDisponibilized,
	},
	ActionAcceptCadastro: {
		CadastroDisponibilized: CadastroDisponibilized,
	},
	ActionHomologateCadastro: {
		CadastroDisponibilized: CadastroHomologated,
	},
	ActionCreateMap: {
		CadastroHomologated:         MapCreated,
		RevisionCadastroHomologated: MapCreated,
	},
	ActionValidateMap: {
		MapDisponibilized: MapValidated,
	},
	ActionAcceptValidation: {
		MapValidated: MapValidated,
	},
	ActionHomologateValidation: {
		MapValidated: MapHomologated,
	},
}

var diagnosisTransitions = map[Action]edges{
	ActionStartCadastro: {
		DiagnosisCadastroNotStarted: DiagnosisCadastroInProgress,
	},
	ActionDisponibilize: {
		DiagnosisCadastroNotStarted: DiagnosisCadastroDisponibilized,
		DiagnosisCadastroInProgress: DiagnosisCadastroDisponibilized,
	},
	ActionReturnForCorrection: {
		DiagnosisCadastroDisponibilized: DiagnosisCadastroInProgress,
	},
	ActionAcceptCadastro: {
		DiagnosisCadastroDisponibilized: DiagnosisCadastroDisponibilized,
	},
	ActionHomologateCadastro: {
		DiagnosisCadastroDisponibilized: DiagnosisCadastroHomologated,
	},
}

var subprocessTransitions = map[ProcessType]map[Action]edges{
	ProcessTypeMapping:   mappingTransitions,
	ProcessTypeRevision:  withOverrides(mappingTransitions, ActionHomologateCadastro, edges{CadastroDisponibilized: RevisionCadastroHomologated}),
	ProcessTypeDiagnosis: diagnosisTransitions,
}

func withOverrides(base map[Action]edges, action Action, override edges) map[Action]edges {
	out := make(map[Action]edges, len(base))
	for a, e := range base {
		out[a] = e
	}
	out[action] = override
	return out
}

// InitialSituation is the situation every subprocess of the type starts in.
func InitialSituation(t ProcessType) SubprocessSituation {
	if t == ProcessTypeDiagnosis {
		return DiagnosisCadastroNotStarted
	}
	return CadastroNotStarted
}

// NextSituation looks up the situation reached by applying action to from.
func NextSituation(t ProcessType, action Action, from SubprocessSituation) (SubprocessSituation, bool) {
	byAction, ok := subprocessTransitions[t]
	if !ok {
		return "", false
	}
	next, ok := byAction[action][from]
	return next, ok
}

// AllowedPredecessors lists the situations from which action is legal.
func AllowedPredecessors(t ProcessType, action Action) []SubprocessSituation {
	byAction := subprocessTransitions[t]
	out := make([]SubprocessSituation, 0, len(byAction[action]))
	for from := range byAction[action] {
		out = append(out, from)
	}
	return out
}

// ApplyTransition moves sp along action, returning a TransitionError when the
// current situation is not a legal predecessor.
func ApplyTransition(t ProcessType, action Action, sp *Subprocess) (SubprocessSituation, error) {
	next, ok := NextSituation(t, action, sp.Situation)
	if !ok {
		return "", &TransitionError{
			Entity:    "subprocess",
			ID:        sp.ID,
			Unit:      sp.UnitID.String(),
			Situation: string(sp.Situation),
			Operation: fmt.Sprintf("%s (%s)", action, t),
		}
	}
	prev := sp.Situation
	sp.Situation = next
	return prev, nil
}
