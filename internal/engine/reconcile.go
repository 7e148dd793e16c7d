package engine

import (
	"context"
	"log/slog"
	"sort"

	"github.com/quillworks/quillsync/internal/notehash"
	"github.com/quillworks/quillsync/internal/pathdb"
	"github.com/quillworks/quillsync/internal/remote"
)

// pull reconciles the manifest snapshot into the local workspace:
// deleted notes remove their local files, title changes rename local
// files, unmapped active notes are downloaded, and server-advanced
// notes are refreshed when the local copy is clean. Identity changes
// (renames) always apply before content comparison.
func (e *Engine) pull(ctx context.Context, ps *passState) {
	entries := make([]remote.ManifestEntry, len(ps.manifest))
	copy(entries, ps.manifest)
	sort.Slice(entries, func(i, j int) bool { return entries[i].NoteID < entries[j].NoteID })

	for _, entry := range entries {
		if ps.tombstoned[entry.NoteID] {
			continue
		}

		paths := pathsFor(ps.mappings, entry.NoteID)

		if entry.Deleted {
			e.pullDelete(ps, entry, paths)
			continue
		}

		title := entry.Title
		if t, ok := ps.retitled[entry.NoteID]; ok {
			title = t
		}

		target := pathForTitle(title)
		if !e.filter.Allow(target) {
			continue
		}

		if len(paths) == 0 {
			e.pullCreate(ctx, ps, entry, target)
			continue
		}

		current := paths[0]

		matched := false
		for _, p := range paths {
			if p == target {
				matched = true
				current = target

				break
			}
		}

		if !matched {
			renamed, ok := e.pullRename(ps, entry, current, target)
			if !ok {
				continue
			}

			current = renamed
		}

		e.pullContent(ctx, ps, entry, current)
	}
}

// pullDelete removes the local files of a soft-deleted note.
func (e *Engine) pullDelete(ps *passState, entry remote.ManifestEntry, paths []string) {
	for _, path := range paths {
		if e.resolver.OpenForPath(path) {
			continue
		}

		rec, hasRec := ps.records[path]
		if hasRec && rec.Version > entry.Version {
			// The push side of this pass already advanced the note
			// past the deleted snapshot.
			continue
		}

		if hash, ok := ps.local[path]; ok && (!hasRec || hash != rec.ContentHash) {
			// Local edits win over a remote delete; the next pass
			// revives the note.
			continue
		}

		watch := e.watcher()
		watch.Pause()
		err := e.fs.Delete(path)
		watch.Resume()

		if err != nil {
			e.fileError(path, "deleting local file", err)
			continue
		}

		e.dropMapping(path)
		delete(ps.mappings, path)
		delete(ps.records, path)
		delete(ps.local, path)

		e.logger.Info("deleted local file for remote deletion",
			slog.String("path", path), slog.String("note_id", entry.NoteID))
	}
}

// pullCreate downloads an unmapped note to its titled path.
func (e *Engine) pullCreate(ctx context.Context, ps *passState, entry remote.ManifestEntry, target string) {
	if otherID, ok := ps.mappings[target]; ok && otherID != entry.NoteID {
		e.logger.Warn("titled path already maps to a different note, skipping download",
			slog.String("path", target),
			slog.String("note_id", entry.NoteID),
			slog.String("mapped_note_id", otherID),
		)

		return
	}

	content, err := e.store.Content(ctx, entry.NoteID)
	if err != nil {
		e.fileError(target, "downloading content", err)
		return
	}

	watch := e.watcher()
	watch.Pause()
	err = e.fs.Write(target, content)
	watch.Resume()

	if err != nil {
		e.fileError(target, "writing downloaded file", err)
		return
	}

	if err := e.db.SavePathMapping(e.workspaceID, target, entry.NoteID); err != nil {
		e.logger.Warn("saving mapping failed", slog.String("path", target), slog.String("error", err.Error()))
		return
	}

	hash := notehash.Sum(content)
	e.saveRecord(target, entry.Version, entry.NoteID, hash)

	ps.mappings[target] = entry.NoteID
	ps.local[target] = hash

	e.logger.Info("downloaded note", slog.String("path", target), slog.String("note_id", entry.NoteID))
}

// pullRename moves a local file to match the note's title. The watcher
// is paused for the rename and resumed unconditionally; the mapping is
// updated only if the filesystem rename succeeded.
func (e *Engine) pullRename(ps *passState, entry remote.ManifestEntry, current, target string) (string, bool) {
	if e.resolver.OpenForPath(current) {
		return "", false
	}

	if otherID, ok := ps.mappings[target]; ok && otherID != entry.NoteID {
		e.logger.Warn("rename target already maps to a different note, skipping",
			slog.String("from", current),
			slog.String("to", target),
			slog.String("note_id", entry.NoteID),
		)

		return "", false
	}

	watch := e.watcher()
	watch.Pause()

	err := e.fs.Rename(current, target)
	if err == nil {
		if uerr := e.db.UpdatePathMapping(e.workspaceID, current, target, entry.NoteID); uerr != nil {
			e.logger.Warn("updating mapping after rename failed",
				slog.String("from", current), slog.String("to", target), slog.String("error", uerr.Error()))
		}
	}

	watch.Resume()

	if err != nil {
		e.fileError(current, "renaming local file", err)
		return "", false
	}

	delete(ps.mappings, current)
	ps.mappings[target] = entry.NoteID

	if rec, ok := ps.records[current]; ok {
		delete(ps.records, current)

		rec.Path = target
		ps.records[target] = rec
	}

	if hash, ok := ps.local[current]; ok {
		delete(ps.local, current)
		ps.local[target] = hash
	}

	e.logger.Info("renamed local file to match title",
		slog.String("from", current), slog.String("to", target), slog.String("note_id", entry.NoteID))

	return target, true
}

// pullContent refreshes a mapped path when the server advanced and the
// local copy is clean since the last reconciled state.
func (e *Engine) pullContent(ctx context.Context, ps *passState, entry remote.ManifestEntry, path string) {
	if e.resolver.OpenForPath(path) {
		return
	}

	rec, hasRec := ps.records[path]
	if hasRec && entry.Version <= rec.Version {
		return
	}

	if hasRec && entry.ContentHash == rec.ContentHash {
		// Title-only remote change: catch the record up.
		e.saveRecord(path, entry.Version, entry.NoteID, rec.ContentHash)

		rec.Version = entry.Version
		ps.records[path] = rec

		return
	}

	localHash, ok := ps.local[path]
	if !ok {
		content, err := e.fs.Read(path)
		if err == nil {
			localHash = notehash.Sum(content)
		}
	}

	if hasRec && localHash != rec.ContentHash {
		e.addConflict(ctx, path, entry.NoteID, rec.Version, entry.Version)
		return
	}

	content, err := e.store.Content(ctx, entry.NoteID)
	if err != nil {
		e.fileError(path, "downloading content", err)
		return
	}

	watch := e.watcher()
	watch.Pause()
	err = e.fs.Write(path, content)
	watch.Resume()

	if err != nil {
		e.fileError(path, "writing downloaded file", err)
		return
	}

	hash := notehash.Sum(content)
	e.saveRecord(path, entry.Version, entry.NoteID, hash)

	ps.local[path] = hash
	ps.records[path] = recordFor(path, entry, hash)

	e.logger.Info("refreshed local file from server",
		slog.String("path", path), slog.String("note_id", entry.NoteID))
}

func recordFor(path string, entry remote.ManifestEntry, hash string) pathdb.NoteVersion {
	return pathdb.NoteVersion{
		Path:        path,
		Version:     entry.Version,
		NoteID:      entry.NoteID,
		ContentHash: hash,
	}
}

func pathsFor(mappings map[string]string, noteID string) []string {
	var paths []string

	for path, id := range mappings {
		if id == noteID {
			paths = append(paths, path)
		}
	}

	sort.Strings(paths)

	return paths
}
