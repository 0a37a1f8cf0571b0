package model

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Store keys holding the persisted model.
const (
	KeyGroups               = "groups"
	KeyRules                = "rules"
	KeyEnvironmentVariables = "environmentVariables"
	KeyExtensionEnabled     = "extensionEnabled"
)

// Keys lists every key whose change requires a resync.
var Keys = []string{KeyGroups, KeyRules, KeyEnvironmentVariables, KeyExtensionEnabled}

// Getter reads a JSON value by key. ok is false when the key is absent.
type Getter interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// Setter writes a JSON value by key.
type Setter interface {
	Set(ctx context.Context, key string, value []byte) error
}

// Snapshot is the persisted model as read in one pass.
type Snapshot struct {
	Groups               []*Group              `json:"groups"`
	Rules                RuleSet               `json:"rules,omitempty"`
	EnvironmentVariables []EnvironmentVariable `json:"environmentVariables"`
	ExtensionEnabled     bool                  `json:"extensionEnabled"`
}

// ActiveRules returns the rules a compile pass would consider.
func (s *Snapshot) ActiveRules() []Rule {
	return Flatten(s.Groups, s.Rules)
}

func (s *Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("groups", len(s.Groups)),
		slog.Int("legacy_rules", len(s.Rules)),
		slog.Int("variables", len(s.EnvironmentVariables)),
		slog.Bool("enabled", s.ExtensionEnabled),
	)
}

// Load reads all model keys. A missing extensionEnabled key means enabled.
func Load(ctx context.Context, g Getter) (*Snapshot, error) {
	s := &Snapshot{ExtensionEnabled: true}

	if err := loadKey(ctx, g, KeyGroups, &s.Groups); err != nil {
		return nil, err
	}
	if err := loadKey(ctx, g, KeyRules, &s.Rules); err != nil {
		return nil, err
	}
	vars, err := LoadVariables(ctx, g)
	if err != nil {
		return nil, err
	}
	s.EnvironmentVariables = vars
	if err := loadKey(ctx, g, KeyExtensionEnabled, &s.ExtensionEnabled); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadVariables reads only the environment variables.
func LoadVariables(ctx context.Context, g Getter) ([]EnvironmentVariable, error) {
	var vars []EnvironmentVariable
	if err := loadKey(ctx, g, KeyEnvironmentVariables, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

func loadKey(ctx context.Context, g Getter, key string, v any) error {
	data, ok, err := g.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("store get %s: %w", key, err)
	}
	if !ok || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Save writes every key of the snapshot.
func Save(ctx context.Context, st Setter, s *Snapshot) error {
	groups := s.Groups
	if groups == nil {
		groups = []*Group{}
	}
	rules := s.Rules
	if rules == nil {
		rules = RuleSet{}
	}
	vars := s.EnvironmentVariables
	if vars == nil {
		vars = []EnvironmentVariable{}
	}
	values := []struct {
		key string
		v   any
	}{
		{KeyGroups, groups},
		{KeyRules, rules},
		{KeyEnvironmentVariables, vars},
		{KeyExtensionEnabled, s.ExtensionEnabled},
	}
	for _, kv := range values {
		data, err := json.Marshal(kv.v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", kv.key, err)
		}
		if err := st.Set(ctx, kv.key, data); err != nil {
			return fmt.Errorf("store set %s: %w", kv.key, err)
		}
	}
	return nil
}

const DefaultGroupName = "Default"

// MigrateLegacy moves a legacy flat rule list into a single enabled group.
// It reports whether the snapshot changed. Rules without an ID receive one.
func MigrateLegacy(s *Snapshot) bool {
	if len(s.Groups) > 0 || len(s.Rules) == 0 {
		return false
	}
	for _, r := range s.Rules {
		assignID(r)
	}
	s.Groups = []*Group{{
		ID:      uuid.NewString(),
		Name:    DefaultGroupName,
		Enabled: true,
		Rules:   s.Rules,
	}}
	s.Rules = nil
	slog.Info("Migrated legacy rules", slog.Int("rules", len(s.Groups[0].Rules)), slog.String("group", s.Groups[0].ID))
	return true
}

func assignID(r Rule) {
	switch v := r.(type) {
	case *URLRewriteRule:
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
	case *HeaderModifyRule:
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
	}
}
