package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quillworks/quillsync/internal/qerr"
)

type memoryNote struct {
	title       string
	content     []byte
	contentHash string
	version     int64
	deleted     bool
}

// Memory is an in-memory Store used by tests and by the dry-run mode of
// the CLI. It mirrors the server's semantics: uuid note IDs, a version
// counter bumped on every accepted write, and soft deletes that keep
// the manifest entry around.
type Memory struct {
	mu    sync.Mutex
	notes map[string]*memoryNote
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{notes: make(map[string]*memoryNote)}
}

// Manifest implements Store.
func (m *Memory) Manifest(_ context.Context) ([]ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]ManifestEntry, 0, len(m.notes))
	for id, n := range m.notes {
		entries = append(entries, ManifestEntry{
			NoteID:      id,
			Title:       n.title,
			ContentHash: n.contentHash,
			Version:     n.version,
			Deleted:     n.deleted,
		})
	}

	return entries, nil
}

// CreateNote implements Store.
func (m *Memory) CreateNote(_ context.Context, title string, content []byte, contentHash string) (ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.notes[id] = &memoryNote{
		title:       title,
		content:     append([]byte(nil), content...),
		contentHash: contentHash,
		version:     1,
	}

	return ManifestEntry{NoteID: id, Title: title, ContentHash: contentHash, Version: 1}, nil
}

// UpdateContent implements Store.
func (m *Memory) UpdateContent(_ context.Context, noteID string, content []byte, contentHash string) (ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[noteID]
	if !ok {
		return ManifestEntry{}, fmt.Errorf("note %s: %w", noteID, qerr.ErrNotFound)
	}

	n.content = append([]byte(nil), content...)
	n.contentHash = contentHash
	n.version++
	n.deleted = false

	return ManifestEntry{NoteID: noteID, Title: n.title, ContentHash: contentHash, Version: n.version}, nil
}

// UpdateTitle implements Store.
func (m *Memory) UpdateTitle(_ context.Context, noteID, title string) (ManifestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[noteID]
	if !ok {
		return ManifestEntry{}, fmt.Errorf("note %s: %w", noteID, qerr.ErrNotFound)
	}

	n.title = title
	n.version++

	return ManifestEntry{NoteID: noteID, Title: title, ContentHash: n.contentHash, Version: n.version}, nil
}

// DeleteNote implements Store.
func (m *Memory) DeleteNote(_ context.Context, noteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[noteID]
	if !ok {
		return fmt.Errorf("note %s: %w", noteID, qerr.ErrNotFound)
	}

	if !n.deleted {
		n.deleted = true
		n.version++
	}

	return nil
}

// Content implements Store.
func (m *Memory) Content(_ context.Context, noteID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[noteID]
	if !ok {
		return nil, fmt.Errorf("note %s: %w", noteID, qerr.ErrNotFound)
	}

	return append([]byte(nil), n.content...), nil
}

// Entry returns the manifest entry for a single note. Test helper.
func (m *Memory) Entry(noteID string) (ManifestEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notes[noteID]
	if !ok {
		return ManifestEntry{}, false
	}

	return ManifestEntry{
		NoteID:      noteID,
		Title:       n.title,
		ContentHash: n.contentHash,
		Version:     n.version,
		Deleted:     n.deleted,
	}, true
}

// Seed inserts a note with a fixed ID and version. Test helper.
func (m *Memory) Seed(noteID, title string, content []byte, contentHash string, version int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.notes[noteID] = &memoryNote{
		title:       title,
		content:     append([]byte(nil), content...),
		contentHash: contentHash,
		version:     version,
	}
}
