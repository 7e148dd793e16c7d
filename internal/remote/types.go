// Package remote is the client side of the note store protocol. The
// store keeps encrypted titles and content; this package encrypts on
// the way out and decrypts on the way in, so everything above it works
// in plaintext. Content hashes always cover plaintext and are computed
// by the caller.
package remote

import "context"

// ManifestEntry is one note's metadata as reported by the store. Title
// is already decrypted. Version increments on every accepted write,
// including title-only updates and deletions.
type ManifestEntry struct {
	NoteID      string
	Title       string
	ContentHash string
	Version     int64
	Deleted     bool
}

// Store is the note store surface the sync engine drives. Deletions are
// soft: deleted notes stay in the manifest with Deleted set so other
// devices can observe them.
type Store interface {
	// Manifest returns metadata for every note in the workspace,
	// including soft-deleted ones.
	Manifest(ctx context.Context) ([]ManifestEntry, error)

	// CreateNote uploads a new note and returns its assigned entry.
	CreateNote(ctx context.Context, title string, content []byte, contentHash string) (ManifestEntry, error)

	// UpdateContent replaces a note's content, bumping its version.
	UpdateContent(ctx context.Context, noteID string, content []byte, contentHash string) (ManifestEntry, error)

	// UpdateTitle changes a note's title without touching content.
	UpdateTitle(ctx context.Context, noteID, title string) (ManifestEntry, error)

	// DeleteNote soft-deletes a note. Deleting an already-deleted note
	// is a no-op.
	DeleteNote(ctx context.Context, noteID string) error

	// Content downloads and decrypts a note's content.
	Content(ctx context.Context, noteID string) ([]byte, error)
}
