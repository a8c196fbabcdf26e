// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// ChangeAction is the kind of mutation a ChangeRecord describes.
type ChangeAction int

const (
	ActionAdd ChangeAction = iota
	ActionDelete
	ActionUpdate
)

func (a ChangeAction) String() string {
	switch a {
	case ActionAdd:
		return "Add"
	case ActionDelete:
		return "Delete"
	case ActionUpdate:
		return "Update"
	}
	return "Unknown"
}

// ExtraPasswordChangeRecordData carries the decrypted fields of a password
// entity so observers never have to reach into the cryptographer.
type ExtraPasswordChangeRecordData struct {
	Unencrypted PasswordSpecificsData `json:"unencrypted"`
}

// ChangeRecord is an immutable description of one mutation, produced when a
// write transaction commits. Records handed to observers are deep copies and
// are only valid for the duration of the delivering callback.
//
// For ActionDelete, Specifics holds the entity's state before deletion.
type ChangeRecord struct {
	ID        EntityID                       `json:"id"`
	Action    ChangeAction                   `json:"action"`
	Specifics EntitySpecifics                `json:"specifics"`
	Extra     *ExtraPasswordChangeRecordData `json:"extra,omitempty"`
}

// Clone returns a deep copy of r.
func (r ChangeRecord) Clone() ChangeRecord {
	out := ChangeRecord{ID: r.ID, Action: r.Action, Specifics: r.Specifics.Clone()}
	if r.Extra != nil {
		extra := *r.Extra
		out.Extra = &extra
	}
	return out
}

// ToValue renders the record as a map suitable for diagnostics output.
// Password values are never included.
func (r ChangeRecord) ToValue() map[string]any {
	v := map[string]any{
		"id":        int64(r.ID),
		"action":    r.Action.String(),
		"type":      r.Specifics.Type.String(),
		"encrypted": r.Specifics.IsEncrypted(),
	}
	if r.Extra != nil {
		v["origin"] = r.Extra.Unencrypted.Origin
		v["username_value"] = r.Extra.Unencrypted.UsernameValue
	}
	return v
}

// ChangeRecordList is the ordered set of records for one ModelType.
type ChangeRecordList []ChangeRecord

// Clone deep-copies every record of the list.
func (l ChangeRecordList) Clone() ChangeRecordList {
	out := make(ChangeRecordList, len(l))
	for i, r := range l {
		out[i] = r.Clone()
	}
	return out
}
