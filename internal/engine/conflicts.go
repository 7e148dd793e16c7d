package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/quillworks/quillsync/internal/qerr"
)

// ConflictStatus is open until an explicit resolution; there is no
// automatic resolution path.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// Resolution picks which side of a conflict wins. The choice is
// exclusive; content is never merged.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionServer Resolution = "server"
)

// Conflict snapshots a note whose local and remote copies both changed
// since the last reconciled state. While open, the path is suspended
// from autosync.
type Conflict struct {
	ID            string
	Path          string
	NoteID        string
	LocalVersion  int64
	ServerVersion int64
	LocalContent  []byte
	ServerContent []byte
	Status        ConflictStatus
	DetectedAt    time.Time
}

// Resolver tracks open conflicts for one workspace. The engine adds
// conflicts during passes; the presentation layer lists them and
// commands resolutions through Engine.ResolveConflict.
type Resolver struct {
	mu        sync.Mutex
	conflicts map[string]*Conflict
	byPath    map[string]string
}

// NewResolver creates an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{
		conflicts: make(map[string]*Conflict),
		byPath:    make(map[string]string),
	}
}

// Add registers an open conflict for path unless one already exists.
// Returns the conflict and whether it was newly created.
func (r *Resolver) Add(path, noteID string, localVersion, serverVersion int64, localContent, serverContent []byte) (Conflict, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byPath[path]; ok {
		return *r.conflicts[id], false
	}

	c := &Conflict{
		ID:            uuid.NewString(),
		Path:          path,
		NoteID:        noteID,
		LocalVersion:  localVersion,
		ServerVersion: serverVersion,
		LocalContent:  append([]byte(nil), localContent...),
		ServerContent: append([]byte(nil), serverContent...),
		Status:        ConflictOpen,
		DetectedAt:    time.Now(),
	}

	r.conflicts[c.ID] = c
	r.byPath[path] = c.ID

	return *c, true
}

// Get returns a conflict by ID.
func (r *Resolver) Get(id string) (Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conflicts[id]
	if !ok {
		return Conflict{}, fmt.Errorf("conflict %s: %w", id, qerr.ErrNotFound)
	}

	return *c, nil
}

// Open returns all open conflicts, ordered by path.
func (r *Resolver) Open() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()

	var open []Conflict
	for _, c := range r.conflicts {
		if c.Status == ConflictOpen {
			open = append(open, *c)
		}
	}

	sort.Slice(open, func(i, j int) bool { return open[i].Path < open[j].Path })

	return open
}

// OpenForPath reports whether path has an open conflict. Paths with an
// open conflict are suspended from autosync.
func (r *Resolver) OpenForPath(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.byPath[path]

	return ok
}

// markResolved transitions a conflict to resolved and lifts the path
// suspension. Returns the conflict as it was before resolution.
func (r *Resolver) markResolved(id string) (Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conflicts[id]
	if !ok {
		return Conflict{}, fmt.Errorf("conflict %s: %w", id, qerr.ErrNotFound)
	}

	if c.Status == ConflictResolved {
		return *c, fmt.Errorf("conflict %s already resolved: %w", id, qerr.ErrConflict)
	}

	c.Status = ConflictResolved
	delete(r.byPath, c.Path)

	return *c, nil
}

// Preview renders a human-readable diff of local versus server content
// for the resolver view. Purely informational; no merge is ever applied
// from it.
func (r *Resolver) Preview(id string) (string, error) {
	c, err := r.Get(id)
	if err != nil {
		return "", err
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(string(c.ServerContent), string(c.LocalContent), false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	return dmp.DiffPrettyText(diffs), nil
}
