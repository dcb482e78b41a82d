package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sgc-labs/sgc-go/internal/domain"
	"github.com/sgc-labs/sgc-go/internal/repo/memory"
)

// seedFile describes the organization loaded into the in-memory store:
//
//	units:
//	  - {id: 1, sigla: ROOT, type: ROOT}
//	  - {id: 2, sigla: SEDOC, type: OPERATIONAL, parent: 1}
//	current_maps:
//	  2: map-2024
//	profiles:
//	  maria: [{role: GESTOR, unit: 1}]
type seedFile struct {
	Units []struct {
		ID     int64  `yaml:"id"`
		Sigla  string `yaml:"sigla"`
		Name   string `yaml:"name"`
		Type   string `yaml:"type"`
		Parent int64  `yaml:"parent"`
	} `yaml:"units"`
	CurrentMaps map[int64]string `yaml:"current_maps"`
	Profiles    map[string][]struct {
		Role string `yaml:"role"`
		Unit int64  `yaml:"unit"`
	} `yaml:"profiles"`
}

func loadSeedFile(ctx context.Context, path string, store *memory.Store) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return applySeed(ctx, data, store)
}

func applySeed(ctx context.Context, data []byte, store *memory.Store) error {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	units := make([]domain.Unit, 0, len(seed.Units))
	for _, raw := range seed.Units {
		u := domain.Unit{
			ID:    domain.UnitID(raw.ID),
			Sigla: strings.TrimSpace(raw.Sigla),
			Name:  strings.TrimSpace(raw.Name),
			Type:  domain.UnitType(strings.ToUpper(strings.TrimSpace(raw.Type))),
		}
		if u.ID <= 0 {
			return fmt.Errorf("seed unit %q: id must be positive", raw.Sigla)
		}
		if !u.Type.Valid() {
			return fmt.Errorf("seed unit %d: invalid type %q", raw.ID, raw.Type)
		}
		if raw.Parent != 0 {
			u.ParentID = domain.UnitIDPtr(domain.UnitID(raw.Parent))
		}
		units = append(units, u)
	}
	store.AddUnits(units...)

	for unitID, mapID := range seed.CurrentMaps {
		if err := store.Stores().Units.SetCurrentMap(ctx, domain.UnitID(unitID), mapID); err != nil {
			return fmt.Errorf("seed current map of %d: %w", unitID, err)
		}
	}
	for login, entries := range seed.Profiles {
		for _, e := range entries {
			p := domain.Profile{Role: strings.ToUpper(strings.TrimSpace(e.Role))}
			if e.Unit != 0 {
				p.UnitID = domain.UnitIDPtr(domain.UnitID(e.Unit))
			}
			store.AddProfiles(login, p)
		}
	}
	return nil
}
