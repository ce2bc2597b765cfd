// Package staging maintains the local overlay of uncommitted file edits for
// one repository/branch. The in-memory view is authoritative; the persistence
// layer is kept in sync best-effort and a storage fault never discards staged
// edits.
package staging

import (
	"errors"
	"fmt"
	"time"
)

// SessionKey identifies one staging ground session.
type SessionKey struct {
	Owner  string
	Repo   string
	Branch string
}

// String returns the canonical owner/repo/branch form used as the storage key.
func (k SessionKey) String() string {
	return k.Owner + "/" + k.Repo + "/" + k.Branch
}

// IsZero reports whether the key is unset.
func (k SessionKey) IsZero() bool {
	return k.Owner == "" && k.Repo == "" && k.Branch == ""
}

// StagedFile is one pending file edit. The latest update for a path fully
// replaces content and metadata; there is no partial merge or history.
type StagedFile struct {
	Path      string
	Content   string
	Metadata  map[string]string
	UpdatedAt time.Time
}

// Session is a point-in-time snapshot of a staging ground. Files are sorted
// by path. Snapshots are value copies; mutating one does not affect the
// manager.
type Session struct {
	Key      SessionKey
	Message  string
	Revision int64
	Files    []StagedFile
}

// File returns the staged file at path, if present.
func (s Session) File(path string) (StagedFile, bool) {
	for _, f := range s.Files {
		if f.Path == path {
			return f, true
		}
	}
	return StagedFile{}, false
}

// Errors reported through Result.
var (
	// ErrPersistence means the write-through to storage failed. The
	// in-memory mutation was still applied.
	ErrPersistence = errors.New("staging: persistence failed")

	// ErrNotInitialized means the manager has no bound session key.
	ErrNotInitialized = errors.New("staging: not initialized")
)

// Result is the outcome of a staging mutation. It replaces a bare boolean so
// callers can tell a persistence fault apart from a usage error without
// string matching.
type Result struct {
	err error
}

// Ok reports whether the mutation fully succeeded (memory and storage).
func (r Result) Ok() bool { return r.err == nil }

// Err returns the failure reason, or nil.
func (r Result) Err() error { return r.err }

func ok() Result { return Result{} }

func fail(err error) Result { return Result{err: err} }

func wrapPersistence(err error) Result {
	return Result{err: fmt.Errorf("%w: %v", ErrPersistence, err)}
}
