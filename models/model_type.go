// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strings"
)

// ModelType identifies a data category that can be synced. Every entity in the
// entity graph belongs to exactly one ModelType, derived from its specifics.
type ModelType int

const (
	// Unspecified is the zero value; it is never a valid sync type.
	Unspecified ModelType = iota
	// Bookmarks is the bookmark tree (folders and URLs).
	Bookmarks
	// Preferences are synced application preferences.
	Preferences
	// Passwords are saved credentials. Always encrypted.
	Passwords
	// Autofill entries.
	Autofill
	// Themes holds the selected theme.
	Themes
	// TypedURLs is the typed URL history.
	TypedURLs
	// Extensions are installed extensions.
	Extensions
	// Apps are installed apps.
	Apps
	// Sessions are open tabs and windows. Experimental: enabled through the
	// sync_tabs flag of the Nigori node.
	Sessions
	// Nigori is the key-material node carrying the encryption keybag and the
	// set of encrypted types. Always encrypted.
	Nigori

	modelTypeCount
)

// FirstRealModelType is the first ModelType a user can enable.
const FirstRealModelType = Bookmarks

var modelTypeNames = [...]string{
	Unspecified: "unspecified",
	Bookmarks:   "bookmarks",
	Preferences: "preferences",
	Passwords:   "passwords",
	Autofill:    "autofill",
	Themes:      "themes",
	TypedURLs:   "typed_urls",
	Extensions:  "extensions",
	Apps:        "apps",
	Sessions:    "sessions",
	Nigori:      "nigori",
}

// rootTags are the unique server tags of the permanent top-level folder of
// each type, created by the server on first download.
var rootTags = [...]string{
	Bookmarks:   "google_chrome_bookmarks",
	Preferences: "google_chrome_preferences",
	Passwords:   "google_chrome_passwords",
	Autofill:    "google_chrome_autofill",
	Themes:      "google_chrome_themes",
	TypedURLs:   "google_chrome_typed_urls",
	Extensions:  "google_chrome_extensions",
	Apps:        "google_chrome_apps",
	Sessions:    "google_chrome_sessions",
	Nigori:      "google_chrome_nigori",
}

// String returns the lower-case name of the type.
func (t ModelType) String() string {
	if !t.IsValid() && t != Unspecified {
		return fmt.Sprintf("model_type(%d)", int(t))
	}
	return modelTypeNames[t]
}

// IsValid reports whether t is a real, syncable type.
func (t ModelType) IsValid() bool {
	return t >= FirstRealModelType && t < modelTypeCount
}

// RootTag returns the unique server tag of the type's top-level folder.
func (t ModelType) RootTag() string {
	if !t.IsValid() {
		return ""
	}
	return rootTags[t]
}

// ModelTypeFromString parses a name produced by [ModelType.String].
func ModelTypeFromString(s string) (ModelType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t := FirstRealModelType; t < modelTypeCount; t++ {
		if modelTypeNames[t] == s {
			return t, nil
		}
	}
	return Unspecified, fmt.Errorf("%w: %q", ErrUnknownModelType, s)
}

// MarshalText encodes t by name so payloads and progress markers stay
// readable on the wire.
func (t ModelType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a name produced by MarshalText.
func (t *ModelType) UnmarshalText(b []byte) error {
	if string(b) == modelTypeNames[Unspecified] || len(b) == 0 {
		*t = Unspecified
		return nil
	}
	parsed, err := ModelTypeFromString(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AllModelTypes returns every real type in ascending order.
func AllModelTypes() ModelTypeSet {
	var s ModelTypeSet
	for t := FirstRealModelType; t < modelTypeCount; t++ {
		s = s.Add(t)
	}
	return s
}

// ModelTypeSet is an immutable set of ModelTypes backed by a bitmask.
// All operations return a new value; the zero value is the empty set.
type ModelTypeSet struct {
	bits uint64
}

// NewModelTypeSet builds a set from the given types. Invalid types are ignored.
func NewModelTypeSet(types ...ModelType) ModelTypeSet {
	var s ModelTypeSet
	for _, t := range types {
		s = s.Add(t)
	}
	return s
}

// Add returns s ∪ {t}.
func (s ModelTypeSet) Add(t ModelType) ModelTypeSet {
	if !t.IsValid() {
		return s
	}
	return ModelTypeSet{bits: s.bits | 1<<uint(t)}
}

// Remove returns s \ {t}.
func (s ModelTypeSet) Remove(t ModelType) ModelTypeSet {
	return ModelTypeSet{bits: s.bits &^ (1 << uint(t))}
}

// Has reports whether t is in s.
func (s ModelTypeSet) Has(t ModelType) bool {
	return t.IsValid() && s.bits&(1<<uint(t)) != 0
}

// HasAll reports whether every type of other is in s.
func (s ModelTypeSet) HasAll(other ModelTypeSet) bool {
	return s.bits&other.bits == other.bits
}

// Union returns s ∪ other.
func (s ModelTypeSet) Union(other ModelTypeSet) ModelTypeSet {
	return ModelTypeSet{bits: s.bits | other.bits}
}

// Intersect returns s ∩ other.
func (s ModelTypeSet) Intersect(other ModelTypeSet) ModelTypeSet {
	return ModelTypeSet{bits: s.bits & other.bits}
}

// Difference returns s \ other.
func (s ModelTypeSet) Difference(other ModelTypeSet) ModelTypeSet {
	return ModelTypeSet{bits: s.bits &^ other.bits}
}

// Empty reports whether s has no types.
func (s ModelTypeSet) Empty() bool {
	return s.bits == 0
}

// Len returns the number of types in s.
func (s ModelTypeSet) Len() int {
	return bits.OnesCount64(s.bits)
}

// Equal reports whether both sets hold the same types.
func (s ModelTypeSet) Equal(other ModelTypeSet) bool {
	return s.bits == other.bits
}

// Types returns the members of s in ascending order.
func (s ModelTypeSet) Types() []ModelType {
	out := make([]ModelType, 0, s.Len())
	for t := FirstRealModelType; t < modelTypeCount; t++ {
		if s.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// Strings returns the names of the members of s in ascending order.
func (s ModelTypeSet) Strings() []string {
	types := s.Types()
	out := make([]string, 0, len(types))
	for _, t := range types {
		out = append(out, t.String())
	}
	return out
}

// String renders the set as "{a, b}".
func (s ModelTypeSet) String() string {
	return "{" + strings.Join(s.Strings(), ", ") + "}"
}

// MarshalJSON encodes the set as an array of type names.
func (s ModelTypeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

// UnmarshalJSON decodes an array of type names.
func (s *ModelTypeSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	var out ModelTypeSet
	for _, n := range names {
		t, err := ModelTypeFromString(n)
		if err != nil {
			return err
		}
		out = out.Add(t)
	}
	*s = out
	return nil
}

// ParseModelTypeSet parses a comma separated list of type names.
func ParseModelTypeSet(list string) (ModelTypeSet, error) {
	var out ModelTypeSet
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		t, err := ModelTypeFromString(part)
		if err != nil {
			return ModelTypeSet{}, err
		}
		out = out.Add(t)
	}
	return out, nil
}
