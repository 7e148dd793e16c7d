// Package vaultfs provides thread-safe filesystem operations on the
// workspace directory. All paths entering the package are workspace
// relative; they are normalized and resolved with traversal rejection
// before touching the disk.
package vaultfs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

const (
	// workspaceDirPerm is the permission mode for directories created
	// inside the workspace.
	workspaceDirPerm = fs.FileMode(0o755)

	// workspaceFilePerm is the permission mode for files written inside
	// the workspace.
	workspaceFilePerm = fs.FileMode(0o644)
)

// Workspace is the filesystem collaborator consumed by the sync engine.
// All writes are serialized by an exclusive lock; reads take a shared
// lock to prevent reading partial writes.
type Workspace struct {
	dir string
	mu  sync.RWMutex
}

// New creates a Workspace rooted at the given directory, creating it if
// it does not exist. The directory must be an absolute path (resolved at
// config load time).
func New(dir string) (*Workspace, error) {
	if dir == "" {
		return nil, fmt.Errorf("workspace directory must not be empty")
	}

	if err := os.MkdirAll(dir, workspaceDirPerm); err != nil {
		return nil, fmt.Errorf("creating workspace directory %s: %w", dir, err)
	}

	return &Workspace{dir: dir}, nil
}

// Dir returns the root directory of the workspace.
func (w *Workspace) Dir() string {
	return w.dir
}

// Read reads a file by relative path.
func (w *Workspace) Read(relPath string) ([]byte, error) {
	absPath, err := w.resolve(relPath)
	if err != nil {
		return nil, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	return os.ReadFile(absPath) //nolint:gosec // G304: absPath validated by resolve
}

// Write writes content to a file by relative path, creating parent
// directories as needed.
func (w *Workspace) Write(relPath string, data []byte) error {
	absPath, err := w.resolve(relPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, workspaceDirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", relPath, err)
	}

	return os.WriteFile(absPath, data, workspaceFilePerm)
}

// Delete removes a file by relative path. Missing files are a no-op.
func (w *Workspace) Delete(relPath string) error {
	absPath, err := w.resolve(relPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err = os.Remove(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", relPath, err)
	}

	return nil
}

// DeleteDir removes a directory and all its contents by relative path.
// Missing directories are a no-op.
func (w *Workspace) DeleteDir(relPath string) error {
	absPath, err := w.resolve(relPath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	err = os.RemoveAll(absPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing directory %s: %w", relPath, err)
	}

	return nil
}

// Rename moves a file or directory from one relative path to another
// within the workspace. Works for both empty and non-empty directories.
func (w *Workspace) Rename(oldRel, newRel string) error {
	oldAbs, err := w.resolve(oldRel)
	if err != nil {
		return err
	}

	newAbs, err := w.resolve(newRel)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	// Ensure parent directory of destination exists.
	if err := os.MkdirAll(filepath.Dir(newAbs), workspaceDirPerm); err != nil {
		return fmt.Errorf("creating directory for %s: %w", newRel, err)
	}

	return os.Rename(oldAbs, newAbs)
}

// Exists reports whether a relative path exists in the workspace.
func (w *Workspace) Exists(relPath string) bool {
	absPath, err := w.resolve(relPath)
	if err != nil {
		return false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	_, err = os.Stat(absPath)

	return err == nil
}

// List walks the workspace and returns every file as a normalized
// relative path. Hidden files and directories (dot-prefixed) are skipped.
func (w *Workspace) List() ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var paths []string

	err := filepath.WalkDir(w.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") && path != w.dir {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		// Skip symlinks so the walk cannot escape the workspace.
		if d.Type()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(w.dir, path)
		if err != nil {
			return err
		}

		paths = append(paths, NormalizePath(rel))

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking workspace: %w", err)
	}

	return paths, nil
}

// resolve converts a relative path to an absolute path within the
// workspace, rejecting path traversal attempts: null bytes, ".." segments,
// and symlinks that escape the workspace root.
func (w *Workspace) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty path")
	}

	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("path contains null byte: %q", relPath)
	}

	// Normalize backslashes to forward slashes so the ".." segment check
	// below catches Windows-style traversal.
	relPath = strings.ReplaceAll(relPath, "\\", "/")

	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path contains ..: %q", relPath)
		}
	}

	absPath := filepath.Join(w.dir, relPath)
	if !strings.HasPrefix(absPath, w.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside workspace", relPath)
	}

	// Resolve symlinks and verify the real path stays within the workspace.
	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			// New file: the prefix check above already passed, and any
			// missing parents will be created by Write.
			return absPath, nil
		}

		return "", fmt.Errorf("resolving symlinks for %q: %w", relPath, err)
	}

	if !strings.HasPrefix(realPath, w.dir+string(os.PathSeparator)) && realPath != w.dir {
		return "", fmt.Errorf("symlink traversal blocked: %q resolves to %q outside workspace", relPath, realPath)
	}

	return absPath, nil
}

// NormalizePath normalizes a workspace-relative path. It converts
// OS-native separators to forward slashes, replaces non-breaking spaces
// with regular spaces, collapses repeated slashes, trims leading and
// trailing slashes, and applies Unicode NFC normalization. Call this on
// every path entering the system: scan output, watcher events, and
// title-derived paths from the manifest.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, "\u00a0", " ")
	path = strings.ReplaceAll(path, "\u202f", " ")

	// Collapse multiple slashes and trim leading/trailing.
	var b strings.Builder

	prevSlash := false

	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}

			prevSlash = true
		} else {
			prevSlash = false
		}

		b.WriteRune(r)
	}

	path = strings.Trim(b.String(), "/")

	return norm.NFC.String(path)
}
