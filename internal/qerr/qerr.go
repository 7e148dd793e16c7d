// Package qerr defines the error taxonomy shared by the sync engine and
// its collaborators. Callers classify failures with errors.Is.
package qerr

import "errors"

var (
	// ErrNotFound marks an expected local file or mapping that is missing.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks divergent local and server versions of a note.
	// Routed to the conflict resolver, never a hard failure.
	ErrConflict = errors.New("conflicting versions")

	// ErrTransport marks a failed remote call. Logged and surfaced as a
	// sync-error event; the pass continues for unaffected files.
	ErrTransport = errors.New("remote request failed")

	// ErrIntegrity marks a mapping write that would silently merge
	// unrelated notes onto one path. The offending record is skipped.
	ErrIntegrity = errors.New("mapping integrity violation")
)
