// Package engine implements the sync engine: the scan, diff, reconcile
// and apply cycle that keeps one local workspace consistent with its
// remote note store. Each note has a stable noteID for life; local
// paths mutate freely around it. The engine never merges content: when
// both replicas advance independently it records a conflict and waits
// for an explicit resolution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quillworks/quillsync/internal/notehash"
	"github.com/quillworks/quillsync/internal/pathdb"
	"github.com/quillworks/quillsync/internal/qerr"
	"github.com/quillworks/quillsync/internal/remote"
	"github.com/quillworks/quillsync/internal/vaultfs"
)

// State is the engine's position in the sync pass state machine.
type State string

const (
	StateIdle        State = "idle"
	StateScanning    State = "scanning"
	StateReconciling State = "reconciling"
	StateApplying    State = "applying"
	StateError       State = "error"
)

// Filesystem is the workspace file surface the engine drives. All
// paths are workspace-relative and normalized. vaultfs.Workspace
// satisfies it.
type Filesystem interface {
	Read(path string) ([]byte, error)
	Write(path string, data []byte) error
	Delete(path string) error
	Rename(oldPath, newPath string) error
	List() ([]string, error)
	Exists(path string) bool
}

// Pauser is the watcher control surface. The engine pauses the watcher
// before every engine-initiated filesystem write and resumes it
// unconditionally afterward, so its own writes are not re-observed as
// external changes.
type Pauser interface {
	Pause()
	Resume()
}

type noopPauser struct{}

func (noopPauser) Pause()  {}
func (noopPauser) Resume() {}

// Config wires an Engine's collaborators.
type Config struct {
	WorkspaceID string
	Logger      *slog.Logger
	DB          *pathdb.DB
	Store       remote.Store
	FS          Filesystem
	Filter      *IgnoreFilter
}

// Engine runs sync passes for one workspace. Passes are single-flight:
// a trigger arriving while a pass is active coalesces into one pending
// run instead of executing concurrently.
type Engine struct {
	workspaceID string
	logger      *slog.Logger
	db          *pathdb.DB
	store       remote.Store
	fs          Filesystem
	filter      *IgnoreFilter
	session     *Session
	resolver    *Resolver

	watchMu sync.Mutex
	watch   Pauser

	syncMu  sync.Mutex
	trigger chan struct{}

	stateMu sync.Mutex
	state   State
}

// New creates an engine. The watcher is attached later via SetWatcher
// because it needs the engine's trigger to exist first.
func New(cfg Config) *Engine {
	return &Engine{
		workspaceID: cfg.WorkspaceID,
		logger:      cfg.Logger,
		db:          cfg.DB,
		store:       cfg.Store,
		fs:          cfg.FS,
		filter:      cfg.Filter,
		session:     NewSession(),
		resolver:    NewResolver(),
		watch:       noopPauser{},
		trigger:     make(chan struct{}, 1),
		state:       StateIdle,
	}
}

// Session returns the engine's event bus.
func (e *Engine) Session() *Session {
	return e.session
}

// Resolver returns the engine's conflict tracker.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// SetWatcher attaches the pausable watcher.
func (e *Engine) SetWatcher(p Pauser) {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	e.watch = p
}

func (e *Engine) watcher() Pauser {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	return e.watch
}

// State returns the engine's current pass state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	return e.state
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	e.state = s
}

// Trigger schedules a sync pass. Triggers issued while a pass is
// running coalesce into at most one pending run.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// NotifyRemoteUpdate records that another workspace changed the store
// and schedules a pass.
func (e *Engine) NotifyRemoteUpdate() {
	e.session.publish(Event{Type: EventRemoteUpdate})
	e.Trigger()
}

// Run executes sync passes until ctx is cancelled: one immediately, one
// per trigger, and one per verification interval. Pass errors are
// logged and surfaced as events; they never stop the loop.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.runPass(ctx)
		case <-e.trigger:
			e.runPass(ctx)
		}
	}
}

func (e *Engine) runPass(ctx context.Context) {
	if err := e.Sync(ctx); err != nil {
		e.logger.Error("sync pass failed", slog.String("error", err.Error()))
	}
}

// Sync runs one pass. If a pass is already in flight the call coalesces
// into a pending trigger and returns nil.
func (e *Engine) Sync(ctx context.Context) error {
	if !e.syncMu.TryLock() {
		e.Trigger()
		return nil
	}
	defer e.syncMu.Unlock()

	e.session.publish(Event{Type: EventSyncStart})

	err := e.pass(ctx)
	if err != nil {
		e.setState(StateError)
		e.session.publish(Event{Type: EventSyncError, Err: err})

		return err
	}

	e.setState(StateIdle)
	e.session.publish(Event{Type: EventSyncComplete})

	return nil
}

// pass holds the working set of one sync pass. The manifest is a
// snapshot taken at the start; ids and titles the pass itself changed
// are tracked so the pull side does not act on stale entries.
type passState struct {
	local    map[string]string // path -> plaintext hash
	byID     map[string]remote.ManifestEntry
	manifest []remote.ManifestEntry
	mappings map[string]string // path -> noteID
	records  map[string]pathdb.NoteVersion

	// claimed marks noteIDs mapped to a still-existing local path;
	// dedup never adopts a claimed identity.
	claimed map[string]bool

	// batch collapses same-content new files within one pass onto the
	// noteID produced earlier in the batch. Never holds the empty hash.
	batch map[string]batchNote

	// tombstoned marks noteIDs whose remote delete this pass issued.
	tombstoned map[string]bool

	// retitled maps noteIDs to titles this pass pushed, overriding the
	// stale manifest snapshot during pull.
	retitled map[string]string
}

type batchNote struct {
	noteID  string
	version int64
}

func (e *Engine) pass(ctx context.Context) error {
	e.setState(StateScanning)

	local, err := e.scan()
	if err != nil {
		return fmt.Errorf("scanning workspace: %w", err)
	}

	manifest, err := e.store.Manifest(ctx)
	if err != nil {
		return fmt.Errorf("fetching manifest: %w", err)
	}

	e.setState(StateReconciling)

	mappings, err := e.db.AllPathMappings(e.workspaceID)
	if err != nil {
		return fmt.Errorf("loading mappings: %w", err)
	}

	records, err := e.db.AllNoteVersions(e.workspaceID)
	if err != nil {
		return fmt.Errorf("loading version records: %w", err)
	}

	ps := &passState{
		local:      local,
		byID:       make(map[string]remote.ManifestEntry, len(manifest)),
		manifest:   manifest,
		mappings:   mappings,
		records:    records,
		claimed:    make(map[string]bool),
		batch:      make(map[string]batchNote),
		tombstoned: make(map[string]bool),
		retitled:   make(map[string]string),
	}

	for _, entry := range manifest {
		ps.byID[entry.NoteID] = entry
	}

	for path, noteID := range mappings {
		if _, ok := local[path]; ok {
			ps.claimed[noteID] = true
		}
	}

	e.session.publish(Event{Type: EventCountChange, Pending: e.pendingCount(ps)})

	e.setState(StateApplying)
	e.pushLocal(ctx, ps)
	e.pushDeletes(ctx, ps)
	e.pull(ctx, ps)

	return nil
}

// scan enumerates the workspace and hashes every syncable file.
// Per-file read failures are logged and skipped.
func (e *Engine) scan() (map[string]string, error) {
	paths, err := e.fs.List()
	if err != nil {
		return nil, err
	}

	local := make(map[string]string, len(paths))

	for _, path := range paths {
		if !e.filter.Allow(path) {
			continue
		}

		content, err := e.fs.Read(path)
		if err != nil {
			e.logger.Warn("skipping unreadable file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		local[path] = notehash.Sum(content)
	}

	return local, nil
}

// pendingCount estimates how many paths this pass will touch.
func (e *Engine) pendingCount(ps *passState) int {
	count := 0

	for path, hash := range ps.local {
		rec, ok := ps.records[path]
		if !ok || rec.ContentHash != hash {
			count++
		}
	}

	for path := range ps.mappings {
		if _, ok := ps.local[path]; !ok {
			count++
		}
	}

	return count
}

// pushLocal uploads locally-new and locally-dirty files. Paths are
// processed in sorted order so batch dedup is deterministic.
func (e *Engine) pushLocal(ctx context.Context, ps *passState) {
	paths := make([]string, 0, len(ps.local))
	for path := range ps.local {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	for _, path := range paths {
		if e.resolver.OpenForPath(path) {
			continue
		}

		if noteID, ok := ps.mappings[path]; ok {
			e.pushExisting(ctx, ps, path, noteID)
		} else {
			e.pushNew(ctx, ps, path)
		}
	}
}

// pushExisting handles a mapped path: clean paths are skipped, dirty
// paths are uploaded unless the server also advanced, which is a
// conflict.
func (e *Engine) pushExisting(ctx context.Context, ps *passState, path, noteID string) {
	hash := ps.local[path]

	rec, hasRec := ps.records[path]
	if hasRec && rec.ContentHash == hash {
		return
	}

	entry, onServer := ps.byID[noteID]

	// A dirty local edit wins over a remote soft delete: the upload
	// below revives the note, so the deleted snapshot never competes
	// for a conflict.
	if hasRec && onServer && !entry.Deleted && entry.Version > rec.Version {
		if entry.ContentHash == hash {
			// Both sides arrived at the same content independently.
			// Nothing to upload; just catch the record up.
			e.saveRecord(path, entry.Version, noteID, hash)
			return
		}

		e.addConflict(ctx, path, noteID, rec.Version, entry.Version)

		return
	}

	content, err := e.fs.Read(path)
	if err != nil {
		e.logger.Warn("skipping dirty file, read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	updated, err := e.store.UpdateContent(ctx, noteID, content, hash)
	if err != nil {
		e.fileError(path, "uploading content", err)
		return
	}

	e.saveRecord(path, updated.Version, noteID, hash)
	ps.records[path] = pathdb.NoteVersion{Path: path, Version: updated.Version, NoteID: noteID, ContentHash: hash}

	e.logger.Debug("uploaded content", slog.String("path", path), slog.String("note_id", noteID))
}

// pushNew handles an unmapped local file: empty content always becomes
// a new note, non-empty content first tries to adopt an identity from
// the batch or from an unclaimed active manifest entry with matching
// hash, and uploads a new note otherwise.
func (e *Engine) pushNew(ctx context.Context, ps *passState, path string) {
	hash := ps.local[path]

	if !notehash.IsEmpty(hash) {
		if b, ok := ps.batch[hash]; ok {
			e.adopt(ps, path, b.noteID, b.version, hash)
			return
		}

		if entry, ok := e.findAdoptable(ps, hash); ok {
			e.adopt(ps, path, entry.NoteID, entry.Version, hash)
			ps.batch[hash] = batchNote{noteID: entry.NoteID, version: entry.Version}

			// When the entry's titled path is gone locally this is a
			// rename observed as delete+create: push the new title so
			// other workspaces follow the move.
			titledPath := pathForTitle(entry.Title)
			if _, exists := ps.local[titledPath]; !exists && titledPath != path {
				e.pushTitle(ctx, ps, path, entry.NoteID)
			}

			return
		}
	}

	content, err := e.fs.Read(path)
	if err != nil {
		e.logger.Warn("skipping new file, read failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	entry, err := e.store.CreateNote(ctx, titleFromPath(path), content, hash)
	if err != nil {
		e.fileError(path, "creating note", err)
		return
	}

	if err := e.db.SavePathMapping(e.workspaceID, path, entry.NoteID); err != nil {
		e.logger.Warn("saving mapping failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	ps.mappings[path] = entry.NoteID
	ps.claimed[entry.NoteID] = true

	e.saveRecord(path, entry.Version, entry.NoteID, hash)
	ps.records[path] = pathdb.NoteVersion{Path: path, Version: entry.Version, NoteID: entry.NoteID, ContentHash: hash}

	if !notehash.IsEmpty(hash) {
		ps.batch[hash] = batchNote{noteID: entry.NoteID, version: entry.Version}
	}

	e.logger.Info("created note", slog.String("path", path), slog.String("note_id", entry.NoteID))
}

// findAdoptable searches active manifest entries for an unclaimed
// identity with matching content. Iteration is sorted by noteID so
// repeated passes pick the same entry.
func (e *Engine) findAdoptable(ps *passState, hash string) (remote.ManifestEntry, bool) {
	ids := make([]string, 0, len(ps.byID))
	for id := range ps.byID {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	for _, id := range ids {
		entry := ps.byID[id]
		if entry.Deleted || ps.claimed[id] || entry.ContentHash != hash {
			continue
		}

		return entry, true
	}

	return remote.ManifestEntry{}, false
}

// adopt maps path onto an existing noteID without re-uploading bytes.
func (e *Engine) adopt(ps *passState, path, noteID string, version int64, hash string) {
	if err := e.db.SavePathMapping(e.workspaceID, path, noteID); err != nil {
		e.logger.Warn("saving adopted mapping failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	ps.mappings[path] = noteID
	ps.claimed[noteID] = true

	e.saveRecord(path, version, noteID, hash)
	ps.records[path] = pathdb.NoteVersion{Path: path, Version: version, NoteID: noteID, ContentHash: hash}

	e.logger.Info("adopted existing note", slog.String("path", path), slog.String("note_id", noteID))
}

// pushTitle pushes a title derived from path and records the override
// for the pull side of this pass.
func (e *Engine) pushTitle(ctx context.Context, ps *passState, path, noteID string) {
	title := titleFromPath(path)

	updated, err := e.store.UpdateTitle(ctx, noteID, title)
	if err != nil {
		e.fileError(path, "updating title", err)
		return
	}

	ps.retitled[noteID] = title

	e.saveRecord(path, updated.Version, noteID, ps.local[path])
	ps.records[path] = pathdb.NoteVersion{Path: path, Version: updated.Version, NoteID: noteID, ContentHash: ps.local[path]}
}

// pushDeletes handles mapped paths that no longer exist on disk. The
// remote note is soft-deleted only when no other path still maps to its
// noteID; the mapping is removed only after the remote delete is
// confirmed.
func (e *Engine) pushDeletes(ctx context.Context, ps *passState) {
	paths := make([]string, 0, len(ps.mappings))
	for path := range ps.mappings {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	for _, path := range paths {
		if _, ok := ps.local[path]; ok {
			continue
		}

		// A file excluded by the filter is not a deletion.
		if e.fs.Exists(path) {
			continue
		}

		noteID := ps.mappings[path]

		others, err := e.db.PathsByNoteID(e.workspaceID, noteID)
		if err != nil {
			e.logger.Warn("listing paths for note failed", slog.String("note_id", noteID), slog.String("error", err.Error()))
			continue
		}

		lastRef := true
		for _, other := range others {
			if other != path {
				lastRef = false
				break
			}
		}

		if lastRef {
			err := e.store.DeleteNote(ctx, noteID)
			if err != nil && !errors.Is(err, qerr.ErrNotFound) {
				e.fileError(path, "deleting note", err)
				continue
			}

			ps.tombstoned[noteID] = true
		}

		e.dropMapping(path)
		delete(ps.mappings, path)

		e.logger.Info("removed mapping for deleted file", slog.String("path", path), slog.String("note_id", noteID))
	}
}

// addConflict snapshots both sides and registers an open conflict.
func (e *Engine) addConflict(ctx context.Context, path, noteID string, localVersion, serverVersion int64) {
	localContent, err := e.fs.Read(path)
	if err != nil {
		e.logger.Warn("reading local side of conflict failed", slog.String("path", path), slog.String("error", err.Error()))
	}

	serverContent, err := e.store.Content(ctx, noteID)
	if err != nil {
		// Without the server snapshot the conflict cannot be presented;
		// the next pass will detect it again.
		e.fileError(path, "fetching server side of conflict", err)
		return
	}

	c, added := e.resolver.Add(path, noteID, localVersion, serverVersion, localContent, serverContent)
	if !added {
		return
	}

	e.session.publish(Event{Type: EventConflictAdded, Path: path, NoteID: noteID, Conflict: &c})
	e.logger.Info("conflict detected",
		slog.String("path", path),
		slog.String("note_id", noteID),
		slog.Int64("local_version", localVersion),
		slog.Int64("server_version", serverVersion),
	)
}

// ResolveConflict applies an exclusive resolution: local force-uploads
// the current local content, server force-downloads the snapshotted
// server content. Either way the conflict closes and the path rejoins
// autosync.
func (e *Engine) ResolveConflict(ctx context.Context, id string, resolution Resolution) error {
	c, err := e.resolver.Get(id)
	if err != nil {
		return err
	}

	if c.Status != ConflictOpen {
		return fmt.Errorf("conflict %s already resolved: %w", id, qerr.ErrConflict)
	}

	switch resolution {
	case ResolutionLocal:
		content, err := e.fs.Read(c.Path)
		if err != nil {
			// The file disappeared since detection; fall back to the
			// snapshot taken at detection time.
			content = c.LocalContent
		}

		hash := notehash.Sum(content)

		updated, err := e.store.UpdateContent(ctx, c.NoteID, content, hash)
		if err != nil {
			return fmt.Errorf("force-uploading %s: %w", c.Path, err)
		}

		e.saveRecord(c.Path, updated.Version, c.NoteID, hash)

	case ResolutionServer:
		watch := e.watcher()
		watch.Pause()
		err := e.fs.Write(c.Path, c.ServerContent)
		watch.Resume()

		if err != nil {
			return fmt.Errorf("force-downloading %s: %w", c.Path, err)
		}

		e.saveRecord(c.Path, c.ServerVersion, c.NoteID, notehash.Sum(c.ServerContent))

	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	if _, err := e.resolver.markResolved(id); err != nil {
		return err
	}

	e.session.publish(Event{Type: EventConflictResolved, Path: c.Path, NoteID: c.NoteID, Resolution: resolution})
	e.Trigger()

	return nil
}

// saveRecord persists a version record, logging failures. Called only
// after the corresponding filesystem or remote operation is confirmed.
func (e *Engine) saveRecord(path string, version int64, noteID, hash string) {
	err := e.db.SaveNoteVersion(e.workspaceID, pathdb.NoteVersion{
		Path:        path,
		Version:     version,
		NoteID:      noteID,
		ContentHash: hash,
	})
	if err != nil {
		e.logger.Warn("saving version record failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// dropMapping removes a path's mapping and version record.
func (e *Engine) dropMapping(path string) {
	if err := e.db.DeletePathMapping(e.workspaceID, path); err != nil {
		e.logger.Warn("deleting mapping failed", slog.String("path", path), slog.String("error", err.Error()))
	}

	if err := e.db.DeleteNoteVersion(e.workspaceID, path); err != nil {
		e.logger.Warn("deleting version record failed", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// fileError logs a per-file failure and surfaces it on the session log
// without aborting the rest of the batch.
func (e *Engine) fileError(path, op string, err error) {
	e.logger.Warn(op+" failed", slog.String("path", path), slog.String("error", err.Error()))
	e.session.publish(Event{Type: EventLog, Path: path, Message: op + " failed", Err: err})
}

// titleFromPath derives a note title from a workspace path: the path
// with the markdown extension stripped.
func titleFromPath(path string) string {
	return strings.TrimSuffix(path, ".md")
}

// pathForTitle reverses titleFromPath. Titles carrying their own
// extension map through unchanged. Titles arrive from the manifest and
// may have been written by another platform, so the result is
// normalized like every other path entering the engine.
func pathForTitle(title string) string {
	path := vaultfs.NormalizePath(title)
	if filepath.Ext(path) != "" {
		return path
	}

	return path + ".md"
}
