package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleAdmin      = "ADMIN"
	RoleManager    = "MANAGER"
	RoleSupervisor = "SUPERVISOR"
	RoleServer     = "SERVER"
)

// ProcessRoles may act on processes whose participants fall under their units.
var ProcessRoles = []string{RoleManager, RoleSupervisor}

// RoleAliases maps role names issued by identity providers to canonical roles.
type RoleAliases map[string]string

// DefaultRoleAliases covers the role names used by the personnel registry.
func DefaultRoleAliases() RoleAliases {
	return RoleAliases{
		"ADMIN":      RoleAdmin,
		"GESTOR":     RoleManager,
		"MANAGER":    RoleManager,
		"CHEFE":      RoleSupervisor,
		"SUPERVISOR": RoleSupervisor,
		"SERVIDOR":   RoleServer,
		"SERVER":     RoleServer,
	}
}

type roleAliasesFile struct {
	Aliases map[string][]string `yaml:"aliases"`
}

// ParseRoleAliases decodes a YAML document of the form
//
//	aliases:
//	  MANAGER: [GESTOR]
//	  SUPERVISOR: [CHEFE]
//
// on top of the defaults.
func ParseRoleAliases(input []byte) (RoleAliases, error) {
	var doc roleAliasesFile
	if err := yaml.Unmarshal(input, &doc); err != nil {
		return nil, fmt.Errorf("decode role aliases: %w", err)
	}
	out := DefaultRoleAliases()
	for canonical, names := range doc.Aliases {
		canonical = normalizeRole(canonical)
		if !isCanonicalRole(canonical) {
			return nil, fmt.Errorf("role aliases: unknown canonical role %q", canonical)
		}
		for _, name := range names {
			name = normalizeRole(name)
			if name == "" {
				continue
			}
			out[name] = canonical
		}
	}
	return out, nil
}

func LoadRoleAliases(path string) (RoleAliases, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultRoleAliases(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read role aliases: %w", err)
	}
	return ParseRoleAliases(raw)
}

// Canonical maps roles through the alias table, dropping unknown names.
func (a RoleAliases) Canonical(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		canonical, ok := a[normalizeRole(role)]
		if !ok {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out
}

// HasAnyRole reports whether roles contains one of required.
func HasAnyRole(roles []string, required ...string) bool {
	for _, role := range roles {
		role = normalizeRole(role)
		for _, want := range required {
			if role == normalizeRole(want) {
				return true
			}
		}
	}
	return false
}

func normalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

func isCanonicalRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleSupervisor, RoleServer:
		return true
	default:
		return false
	}
}
