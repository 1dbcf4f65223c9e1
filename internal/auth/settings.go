// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Subtrack Contributors

package auth

import (
	"maps"
	"slices"
	"time"
)

// Settings is the typed per-user settings document, stored as JSON.
// Preferences is the open key-value blob; Migration is reserved for the
// legacy import marker and is only changed through MarkMigrated and
// ClearMigration.
type Settings struct {
	Preferences  map[string]any        `json:"preferences,omitempty"`
	Gamification *GamificationSnapshot `json:"gamification,omitempty"`
	Migration    *MigrationMarker      `json:"migration,omitempty"`
}

// GamificationSnapshot holds counters carried over from legacy client data.
type GamificationSnapshot struct {
	Points       int      `json:"points"`
	Level        int      `json:"level"`
	Streak       int      `json:"streak"`
	Achievements []string `json:"achievements,omitempty"`
}

// MigrationMarker records that legacy data was imported.
type MigrationMarker struct {
	Migrated   bool      `json:"migrated"`
	MigratedAt time.Time `json:"migratedAt"`
}

// Merge overwrites the preference keys present in prefs and keeps all
// others. A nil value deletes the key.
func (s *Settings) Merge(prefs map[string]any) {
	if len(prefs) == 0 {
		return
	}
	if s.Preferences == nil {
		s.Preferences = make(map[string]any, len(prefs))
	}
	for k, v := range prefs {
		if v == nil {
			delete(s.Preferences, k)
			continue
		}
		s.Preferences[k] = v
	}
}

// MarkMigrated sets the migration marker.
func (s *Settings) MarkMigrated(at time.Time) {
	s.Migration = &MigrationMarker{Migrated: true, MigratedAt: at.UTC()}
}

// ClearMigration removes the migration marker and nothing else.
func (s *Settings) ClearMigration() {
	s.Migration = nil
}

// HasMigrated reports whether the migration marker is set.
func (s Settings) HasMigrated() bool {
	return s.Migration != nil && s.Migration.Migrated
}

// MigratedAt returns the marker timestamp, if migrated.
func (s Settings) MigratedAt() (time.Time, bool) {
	if !s.HasMigrated() {
		return time.Time{}, false
	}
	return s.Migration.MigratedAt, true
}

// Clone returns a copy that shares no mutable state with s. Nested
// preference values are copied shallowly.
func (s Settings) Clone() Settings {
	out := Settings{Preferences: maps.Clone(s.Preferences)}
	if s.Gamification != nil {
		g := *s.Gamification
		g.Achievements = slices.Clone(g.Achievements)
		out.Gamification = &g
	}
	if s.Migration != nil {
		m := *s.Migration
		out.Migration = &m
	}
	return out
}
