// Package capability maps raw caller role strings onto the closed workflow
// role set and derives the actor context for a document.
package capability

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/docflow/model"
)

type aliasFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// rolePriority orders roles when a caller carries several.
var rolePriority = []model.Role{
	model.RoleAdmin,
	model.RoleLeader,
	model.RoleCaseOfficer,
	model.RoleIntakeClerk,
}

// AliasTable resolves raw role strings to workflow roles. Matching ignores
// case, surrounding whitespace, and treats spaces and hyphens as underscores.
type AliasTable struct {
	path    string
	mu      sync.RWMutex
	aliases map[string]model.Role
}

// DefaultAliases returns the built-in alias lists.
func DefaultAliases() map[model.Role][]string {
	return map[model.Role][]string{
		model.RoleIntakeClerk: {"intake_clerk", "clerk", "van_thu", "vanthu", "văn thư", "receptionist"},
		model.RoleCaseOfficer: {"case_officer", "officer", "chuyen_vien", "chuyenvien", "chuyên viên", "specialist", "staff"},
		model.RoleLeader:      {"leader", "leadership", "lanh_dao", "lanhdao", "lãnh đạo", "manager", "director", "approver"},
		model.RoleAdmin:       {"admin", "administrator", "quan_tri", "quantri", "superadmin"},
	}
}

// NewAliasTable builds a table from the given aliases. Each role always
// matches its own name.
func NewAliasTable(aliases map[model.Role][]string) (*AliasTable, error) {
	t := &AliasTable{}
	m, err := buildAliases(aliases)
	if err != nil {
		return nil, err
	}
	t.aliases = m
	return t, nil
}

// DefaultAliasTable returns a table built from DefaultAliases.
func DefaultAliasTable() *AliasTable {
	t, err := NewAliasTable(DefaultAliases())
	if err != nil {
		panic(err)
	}
	return t
}

// LoadAliasTable loads aliases from a YAML file of the form
//
//	roles:
//	  intake_clerk: [van_thu, clerk]
//	  leader: [lanh_dao]
func LoadAliasTable(path string) (*AliasTable, error) {
	t := &AliasTable{path: path}
	if err := t.Sync(); err != nil {
		return nil, err
	}
	return t, nil
}

// Sync reloads the alias file from disk. Tables not loaded from a file are
// left unchanged.
func (t *AliasTable) Sync() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("capability: reading alias file %s: %w", t.path, err)
	}

	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("capability: parsing alias file %s: %w", t.path, err)
	}

	raw := make(map[model.Role][]string, len(f.Roles))
	for role, aliases := range f.Roles {
		raw[model.Role(role)] = aliases
	}
	m, err := buildAliases(raw)
	if err != nil {
		return fmt.Errorf("capability: alias file %s: %w", t.path, err)
	}

	t.mu.Lock()
	t.aliases = m
	t.mu.Unlock()
	return nil
}

// Normalize resolves one raw role string.
func (t *AliasTable) Normalize(raw string) (model.Role, bool) {
	key := normalizeKey(raw)
	if key == "" {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.aliases[key]
	return r, ok
}

// Resolve picks the highest-priority role among raw role strings.
func (t *AliasTable) Resolve(raw []string) (model.Role, bool) {
	found := make(map[model.Role]bool, len(raw))
	for _, s := range raw {
		if r, ok := t.Normalize(s); ok {
			found[r] = true
		}
	}
	for _, r := range rolePriority {
		if found[r] {
			return r, true
		}
	}
	return "", false
}

func buildAliases(aliases map[model.Role][]string) (map[string]model.Role, error) {
	m := make(map[string]model.Role)
	for role, list := range aliases {
		if !role.Valid() {
			return nil, fmt.Errorf("unknown role %q", role)
		}
		m[normalizeKey(string(role))] = role
		for _, a := range list {
			key := normalizeKey(a)
			if key == "" {
				continue
			}
			if prev, dup := m[key]; dup && prev != role {
				return nil, fmt.Errorf("alias %q maps to both %q and %q", a, prev, role)
			}
			m[key] = role
		}
	}
	return m, nil
}

func normalizeKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, s)
}
