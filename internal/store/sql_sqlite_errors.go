// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// ErrorClassification is the result type returned by [ErrorClassificator.Classify]
// and [SQLiteErrorClassifier.Classify]. It indicates whether a failed database
// operation should be retried or abandoned.
type ErrorClassification int

const (
	// NonRetryable indicates that the failed operation should not be retried.
	// This is the default classification for unrecognised errors, constraint
	// violations and schema errors.
	NonRetryable ErrorClassification = iota

	// Retryable indicates that the failed operation may succeed if attempted
	// again (the database was busy or locked by another connection).
	Retryable

	// StorageFull indicates that the disk or the database file is full.
	// Nothing will succeed until space is freed.
	StorageFull
)

// SQLiteErrorClassifier implements [ErrorClassificator] for SQLite.
// It inspects the sqlite3.Error code returned by the go-sqlite3 driver and
// maps it to a [ErrorClassification] value.
type SQLiteErrorClassifier struct{}

// NewSQLiteErrorClassifier constructs a [SQLiteErrorClassifier] ready for use.
func NewSQLiteErrorClassifier() *SQLiteErrorClassifier {
	return &SQLiteErrorClassifier{}
}

// Classify implements [ErrorClassificator]. It attempts to unwrap err as a
// sqlite3.Error and delegates to [ClassifySQLiteError]. If err is nil or is
// not a SQLite driver error, [NonRetryable] is returned.
func (c *SQLiteErrorClassifier) Classify(err error) ErrorClassification {
	if err == nil {
		return NonRetryable
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return ClassifySQLiteError(sqliteErr)
	}

	return NonRetryable
}

// ClassifySQLiteError maps a sqlite3.Error to an [ErrorClassification] based
// on its primary result code.
//
// Retryable codes: SQLITE_BUSY, SQLITE_LOCKED.
// StorageFull codes: SQLITE_FULL, SQLITE_IOERR (short writes surface as
// I/O errors on a full disk).
//
// Any other code is classified as [NonRetryable].
func ClassifySQLiteError(sqliteErr sqlite3.Error) ErrorClassification {
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return Retryable
	case sqlite3.ErrFull, sqlite3.ErrIoErr:
		return StorageFull
	}
	return NonRetryable
}
