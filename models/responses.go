// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

// ErrorResponse is the JSON body the sync server returns with a non-2xx
// status.
type ErrorResponse struct {
	// Error is a human readable message.
	Error string `json:"error"`

	// Code is a machine readable classification, e.g. "not_my_birthday".
	Code string `json:"code,omitempty"`
}

// Well-known ErrorResponse codes.
const (
	ErrorCodeNotMyBirthday = "not_my_birthday"
	ErrorCodeThrottled     = "throttled"
	ErrorCodeStopSyncing   = "stop_syncing"
	ErrorCodeHashMismatch  = "hash_mismatch"
)
