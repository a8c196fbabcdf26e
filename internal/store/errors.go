package store

import "errors"

// Sentinel errors returned by the entity store. Callers should use
// [errors.Is] to match against these values.
var (
	// ErrDiskFull is returned when a save fails because the disk or the
	// database file is full.
	ErrDiskFull = errors.New("entity store is full")

	// ErrCorruptRow is returned when a stored row cannot be decoded.
	ErrCorruptRow = errors.New("corrupt entity store row")

	// ErrInvalidPrefsPath is returned when the preferences file has no path.
	ErrInvalidPrefsPath = errors.New("empty prefs file path")
)

// Low-level database operation errors. These are returned (or wrapped) by
// store methods when a SQL-level operation fails.
var (
	// ErrBuildingSQLQuery is returned when constructing a parameterised SQL
	// query fails (e.g. invalid argument count or unsupported type).
	ErrBuildingSQLQuery = errors.New("error building sql query")

	// ErrExecutingQuery is returned when executing a SELECT or similar
	// read-only query against the database fails.
	ErrExecutingQuery = errors.New("error executing sql query")

	// ErrBeginningTransaction is returned when the database driver cannot
	// start a new transaction.
	ErrBeginningTransaction = errors.New("failed to begin transaction")

	// ErrCommitingTransaction is returned when committing an open transaction
	// fails. The transaction is considered rolled back at this point.
	ErrCommitingTransaction = errors.New("failed to commit transaction")

	// ErrExecutingStatement is returned when executing a DML statement
	// (INSERT, REPLACE, DELETE) fails.
	ErrExecutingStatement = errors.New("failed to executing statement")

	// ErrScanningRows is returned when scanning column values during
	// multi-row iteration fails, typically mid-result-set.
	ErrScanningRows = errors.New("failed to scan entity rows")
)
