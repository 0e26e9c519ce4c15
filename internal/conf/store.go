/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package conf implements the dynamic configuration store: admin-editable,
// typed key/value settings persisted in the database, with change listeners
// driving service reconfiguration.
package conf

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/crazyarms/internal/models"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// ValueType enumerates the supported setting types.
type ValueType string

const (
	TypeBool   ValueType = "bool"
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeString ValueType = "string"
)

// KeyDef describes one registered setting.
type KeyDef struct {
	Key     string    `yaml:"key"`
	Type    ValueType `yaml:"type"`
	Default any       `yaml:"default"`
	Help    string    `yaml:"help"`
}

type registryFile struct {
	Keys []KeyDef `yaml:"keys"`
}

// Listener is invoked after a setting change has been committed.
type Listener func(ctx context.Context, key string)

type listenerEntry struct {
	prefix string
	fn     Listener
}

// Store provides typed access to dynamic settings.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger

	defs map[string]KeyDef

	mu        sync.RWMutex
	values    map[string]any
	listeners []listenerEntry
}

// New builds the store, loading the key registry and any persisted overrides.
func New(db *gorm.DB, logger zerolog.Logger) (*Store, error) {
	var reg registryFile
	if err := yaml.Unmarshal(defaultsYAML, &reg); err != nil {
		return nil, fmt.Errorf("parse config registry: %w", err)
	}

	defs := make(map[string]KeyDef, len(reg.Keys))
	for _, def := range reg.Keys {
		defs[def.Key] = def
	}

	s := &Store{
		db:     db,
		logger: logger.With().Str("component", "conf").Logger(),
		defs:   defs,
		values: make(map[string]any),
	}

	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads all persisted overrides from the database.
func (s *Store) Reload(ctx context.Context) error {
	var rows []models.ConfigEntry
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("load config entries: %w", err)
	}

	values := make(map[string]any, len(rows))
	for _, row := range rows {
		def, ok := s.defs[row.Key]
		if !ok {
			// Stale row from a removed key; keep it out of the snapshot.
			continue
		}
		val, err := decodeValue(def.Type, row.Value)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", row.Key).Msg("ignoring malformed config entry")
			continue
		}
		values[row.Key] = val
	}

	s.mu.Lock()
	s.values = values
	s.mu.Unlock()
	return nil
}

func decodeValue(t ValueType, raw string) (any, error) {
	switch t {
	case TypeBool:
		var v bool
		return v, unmarshalInto(raw, &v)
	case TypeInt:
		var v int
		return v, unmarshalInto(raw, &v)
	case TypeFloat:
		var v float64
		return v, unmarshalInto(raw, &v)
	case TypeString:
		var v string
		return v, unmarshalInto(raw, &v)
	default:
		return nil, fmt.Errorf("unknown value type %q", t)
	}
}

func unmarshalInto(raw string, dest any) error {
	return json.Unmarshal([]byte(raw), dest)
}

func (s *Store) lookup(key string) (any, KeyDef, bool) {
	def, ok := s.defs[key]
	if !ok {
		return nil, KeyDef{}, false
	}
	s.mu.RLock()
	val, has := s.values[key]
	s.mu.RUnlock()
	if has {
		return val, def, true
	}
	return def.Default, def, true
}

// Bool returns a boolean setting; unknown keys are false.
func (s *Store) Bool(key string) bool {
	val, def, ok := s.lookup(key)
	if !ok || def.Type != TypeBool {
		s.logger.Warn().Str("key", key).Msg("unknown or mistyped bool config key")
		return false
	}
	b, _ := val.(bool)
	return b
}

// Int returns an integer setting; unknown keys are zero.
func (s *Store) Int(key string) int {
	val, def, ok := s.lookup(key)
	if !ok || def.Type != TypeInt {
		s.logger.Warn().Str("key", key).Msg("unknown or mistyped int config key")
		return 0
	}
	switch v := val.(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Float returns a float setting; unknown keys are zero.
func (s *Store) Float(key string) float64 {
	val, def, ok := s.lookup(key)
	if !ok || def.Type != TypeFloat {
		s.logger.Warn().Str("key", key).Msg("unknown or mistyped float config key")
		return 0
	}
	switch v := val.(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// String returns a string setting; unknown keys are empty.
func (s *Store) String(key string) string {
	val, def, ok := s.lookup(key)
	if !ok || def.Type != TypeString {
		s.logger.Warn().Str("key", key).Msg("unknown or mistyped string config key")
		return ""
	}
	str, _ := val.(string)
	return str
}

// Set persists a value and then notifies matching listeners. Listeners run
// synchronously after the commit so handlers observe the new value.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	def, ok := s.defs[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}

	normalized, err := normalizeValue(def.Type, value)
	if err != nil {
		return fmt.Errorf("config key %s: %w", key, err)
	}

	encoded, err := json.Marshal(normalized)
	if err != nil {
		return fmt.Errorf("encode config value: %w", err)
	}

	row := models.ConfigEntry{Key: key, Value: string(encoded)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("persist config entry: %w", err)
	}

	s.mu.Lock()
	s.values[key] = normalized
	listeners := append([]listenerEntry(nil), s.listeners...)
	s.mu.Unlock()

	s.logger.Info().Str("key", key).Msg("config value changed")

	for _, entry := range listeners {
		if strings.HasPrefix(key, entry.prefix) {
			entry.fn(ctx, key)
		}
	}
	return nil
}

func normalizeValue(t ValueType, value any) (any, error) {
	switch t {
	case TypeBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		}
	case TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		}
	case TypeString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", t, value)
}

// SubscribePrefix registers a listener invoked for any committed change to a
// key with the given prefix. An empty prefix matches every key.
func (s *Store) SubscribePrefix(prefix string, fn Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, listenerEntry{prefix: prefix, fn: fn})
	s.mu.Unlock()
}

// Snapshot returns a copy of every setting's effective value, defaults
// included. Template rendering uses this as context.
func (s *Store) Snapshot() map[string]any {
	out := make(map[string]any, len(s.defs))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, def := range s.defs {
		if val, ok := s.values[key]; ok {
			out[key] = val
		} else {
			out[key] = def.Default
		}
	}
	return out
}

// Keys returns the registered key definitions, for the admin surface.
func (s *Store) Keys() []KeyDef {
	out := make([]KeyDef, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def)
	}
	return out
}
