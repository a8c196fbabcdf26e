// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// ModelSafeGroup names the worker allowed to apply changes for a type.
type ModelSafeGroup int

const (
	// GroupPassive types have no special threading needs.
	GroupPassive ModelSafeGroup = iota
	GroupUI
	GroupDB
	GroupFile
	GroupPassword
)

func (g ModelSafeGroup) String() string {
	switch g {
	case GroupPassive:
		return "GROUP_PASSIVE"
	case GroupUI:
		return "GROUP_UI"
	case GroupDB:
		return "GROUP_DB"
	case GroupFile:
		return "GROUP_FILE"
	case GroupPassword:
		return "GROUP_PASSWORD"
	}
	return "GROUP_UNKNOWN"
}

// RoutingInfo maps every enabled type to its model-safe group. The key set is
// the set of enabled types.
type RoutingInfo map[ModelType]ModelSafeGroup

// Types returns the enabled types of r.
func (r RoutingInfo) Types() ModelTypeSet {
	var s ModelTypeSet
	for t := range r {
		s = s.Add(t)
	}
	return s
}

// Clone copies r.
func (r RoutingInfo) Clone() RoutingInfo {
	out := make(RoutingInfo, len(r))
	for t, g := range r {
		out[t] = g
	}
	return out
}

// GroupFor returns the group of t, GroupPassive when t is not routed.
func (r RoutingInfo) GroupFor(t ModelType) ModelSafeGroup {
	if g, ok := r[t]; ok {
		return g
	}
	return GroupPassive
}
