package domain

import (
	"strconv"
	"strings"
)

// UnitID identifies an organizational unit in the organization registry.
type UnitID int64

func (id UnitID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// UnitType classifies a unit inside the organizational tree.
type UnitType string

const (
	UnitTypeRoot         UnitType = "ROOT"
	UnitTypeIntermediate UnitType = "INTERMEDIATE"
	UnitTypeOperational  UnitType = "OPERATIONAL"
	UnitTypeNoTeam       UnitType = "NO_TEAM"
)

func (t UnitType) Valid() bool {
	switch t {
	case UnitTypeRoot, UnitTypeIntermediate, UnitTypeOperational, UnitTypeNoTeam:
		return true
	default:
		return false
	}
}

// CanParticipate reports whether a unit of this type may own a subprocess.
// Intermediate units only aggregate their children.
func (t UnitType) CanParticipate() bool {
	return t != UnitTypeIntermediate
}

// Unit is a read-only snapshot of an organizational unit.
type Unit struct {
	ID       UnitID
	Sigla    string
	Name     string
	Type     UnitType
	ParentID *UnitID
}

func (u Unit) Label() string {
	if sigla := strings.TrimSpace(u.Sigla); sigla != "" {
		return sigla
	}
	return u.ID.String()
}

// Profile is one role assignment of a user, optionally scoped to a unit.
type Profile struct {
	Role   string
	UnitID *UnitID
}

func UnitIDPtr(id UnitID) *UnitID {
	return &id
}

// UniqueUnitIDs returns ids without duplicates, preserving first occurrence order.
func UniqueUnitIDs(ids []UnitID) []UnitID {
	out := make([]UnitID, 0, len(ids))
	seen := make(map[UnitID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
