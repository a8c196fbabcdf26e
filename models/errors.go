// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package models

import "errors"

// ErrUnknownModelType is returned when a type name cannot be parsed.
var ErrUnknownModelType = errors.New("unknown model type")
