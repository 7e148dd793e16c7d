package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/quillworks/quillsync/internal/qerr"
	"github.com/quillworks/quillsync/internal/vaultfs"
)

// RenameFile records a local file rename that already happened on disk:
// the mapping moves to the new path in place (identity and content hash
// preserved, no re-upload) and a title-only metadata update is pushed
// so other workspaces follow the move.
func (e *Engine) RenameFile(ctx context.Context, oldPath, newPath string) error {
	oldPath = vaultfs.NormalizePath(oldPath)
	newPath = vaultfs.NormalizePath(newPath)

	noteID, err := e.db.NoteIDByPath(e.workspaceID, oldPath)
	if err != nil {
		return fmt.Errorf("renaming %s: %w", oldPath, err)
	}

	if err := e.db.UpdatePathMapping(e.workspaceID, oldPath, newPath, noteID); err != nil {
		return fmt.Errorf("renaming mapping %s -> %s: %w", oldPath, newPath, err)
	}

	if err := e.retitle(ctx, newPath, noteID); err != nil {
		return err
	}

	e.logger.Info("renamed file", slog.String("from", oldPath), slog.String("to", newPath), slog.String("note_id", noteID))

	return nil
}

// RenameDirectory cascades a local directory rename across every
// descendant mapping: prefixes are substituted, mappings move in place,
// and each note gets a title-only update. noteIDs never change and no
// new notes are created. Per-file failures are logged and skipped.
func (e *Engine) RenameDirectory(ctx context.Context, oldDir, newDir string) error {
	oldDir = vaultfs.NormalizePath(oldDir)
	newDir = vaultfs.NormalizePath(newDir)

	mappings, err := e.db.AllPathMappings(e.workspaceID)
	if err != nil {
		return fmt.Errorf("loading mappings: %w", err)
	}

	prefix := oldDir + "/"

	for _, path := range sortedPrefixed(mappings, prefix) {
		noteID := mappings[path]
		newPath := newDir + "/" + strings.TrimPrefix(path, prefix)

		if err := e.db.UpdatePathMapping(e.workspaceID, path, newPath, noteID); err != nil {
			if errors.Is(err, qerr.ErrIntegrity) {
				e.logger.Warn("skipping mapping rename, destination in use",
					slog.String("from", path), slog.String("to", newPath), slog.String("error", err.Error()))
				continue
			}

			e.logger.Warn("mapping rename failed",
				slog.String("from", path), slog.String("to", newPath), slog.String("error", err.Error()))

			continue
		}

		if err := e.retitle(ctx, newPath, noteID); err != nil {
			e.fileError(newPath, "pushing title", err)
		}
	}

	e.logger.Info("renamed directory", slog.String("from", oldDir), slog.String("to", newDir))

	return nil
}

// DeleteDirectory cascades a local directory deletion: every mapping
// under dir is removed and its note soft-deleted remotely, unless
// another path outside dir still maps to the same noteID. Mappings
// outside dir are untouched.
func (e *Engine) DeleteDirectory(ctx context.Context, dir string) error {
	dir = vaultfs.NormalizePath(dir)

	mappings, err := e.db.AllPathMappings(e.workspaceID)
	if err != nil {
		return fmt.Errorf("loading mappings: %w", err)
	}

	prefix := dir + "/"

	for _, path := range sortedPrefixed(mappings, prefix) {
		noteID := mappings[path]

		others, err := e.db.PathsByNoteID(e.workspaceID, noteID)
		if err != nil {
			e.logger.Warn("listing paths for note failed", slog.String("note_id", noteID), slog.String("error", err.Error()))
			continue
		}

		lastRef := true

		for _, other := range others {
			if other != path && !strings.HasPrefix(other, prefix) {
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
		}

		e.dropMapping(path)
		e.logger.Info("deleted note for removed file", slog.String("path", path), slog.String("note_id", noteID))
	}

	return nil
}

// retitle pushes the title derived from path and catches the version
// record up to the bumped version.
func (e *Engine) retitle(ctx context.Context, path, noteID string) error {
	updated, err := e.store.UpdateTitle(ctx, noteID, titleFromPath(path))
	if err != nil {
		return fmt.Errorf("updating title for %s: %w", path, err)
	}

	rec, err := e.db.NoteVersionByPath(e.workspaceID, path)
	if err != nil || rec == nil {
		return nil
	}

	e.saveRecord(path, updated.Version, noteID, rec.ContentHash)

	return nil
}

func sortedPrefixed(mappings map[string]string, prefix string) []string {
	var paths []string

	for path := range mappings {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}

	sort.Strings(paths)

	return paths
}
