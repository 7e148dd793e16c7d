// Package pathdb is the durable local path database: the path to noteID
// mapping and the per-path version cache that the sync engine diffs
// against. One note has a stable noteID for life; local paths mutate
// freely around it. Mapping writes are commit-last: the engine updates a
// record only after the corresponding filesystem or remote operation is
// confirmed, so a crash mid-pass cannot leave a mapping pointing at an
// operation that never completed.
package pathdb

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/quillworks/quillsync/internal/qerr"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.quillsync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

func mappingBucket(workspaceID string) []byte {
	return []byte("ws:" + workspaceID + ":mappings")
}

func versionBucket(workspaceID string) []byte {
	return []byte("ws:" + workspaceID + ":versions")
}

// NoteVersion is the per-path change-detection record. Version is the
// last remote version this engine confirmed for the path; ContentHash is
// the plaintext digest at that moment. A path whose current digest
// differs from ContentHash is locally dirty.
type NoteVersion struct {
	Path        string `json:"path"`
	Version     int64  `json:"version"`
	NoteID      string `json:"note_id"`
	ContentHash string `json:"content_hash"`
}

// DB wraps a bbolt database holding path mappings and version records
// for one or more workspaces.
type DB struct {
	db *bolt.DB
}

// LoadAt opens the path database at the given location, creating it and
// its parent directory if they do not exist.
func LoadAt(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening path db: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// InitWorkspace ensures the mapping and version buckets exist for the
// given workspace. Call this once after selecting the workspace.
func (d *DB) InitWorkspace(workspaceID string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(mappingBucket(workspaceID)); err != nil {
			return err
		}

		_, err := tx.CreateBucketIfNotExists(versionBucket(workspaceID))

		return err
	})
}

// SavePathMapping creates or overwrites the mapping for path. Multiple
// paths may share a noteID only through upload deduplication; renames
// never create a second row (see UpdatePathMapping).
func (d *DB) SavePathMapping(workspaceID, path, noteID string) error {
	if path == "" || noteID == "" {
		return fmt.Errorf("path and noteID must not be empty")
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mappingBucket(workspaceID))
		if b == nil {
			return fmt.Errorf("mappings not initialized for workspace %s", workspaceID)
		}

		return b.Put([]byte(path), []byte(noteID))
	})
}

// NoteIDByPath returns the noteID mapped to path, or qerr.ErrNotFound.
func (d *DB) NoteIDByPath(workspaceID, path string) (string, error) {
	var noteID string

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(mappingBucket(workspaceID))
		if b == nil {
			return nil
		}

		if v := b.Get([]byte(path)); v != nil {
			noteID = string(v)
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	if noteID == "" {
		return "", fmt.Errorf("no mapping for %s: %w", path, qerr.ErrNotFound)
	}

	return noteID, nil
}

// UpdatePathMapping atomically renames the mapping for noteID from
// oldPath to newPath. Only the oldPath row moves: duplicate-content
// files legitimately share a noteID across several paths, and those
// other rows must survive a rename of one of them. The version record
// moves with the mapping so identity and content hash survive the
// rename.
//
// Returns qerr.ErrIntegrity if newPath is already mapped to a different
// noteID (completing the rename would silently merge unrelated notes),
// or if oldPath maps to a different noteID than the caller expects.
// Returns qerr.ErrNotFound if oldPath has no mapping.
func (d *DB) UpdatePathMapping(workspaceID, oldPath, newPath, noteID string) error {
	if newPath == "" || noteID == "" {
		return fmt.Errorf("newPath and noteID must not be empty")
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		mb := tx.Bucket(mappingBucket(workspaceID))
		if mb == nil {
			return fmt.Errorf("mappings not initialized for workspace %s", workspaceID)
		}

		if existing := mb.Get([]byte(newPath)); existing != nil && string(existing) != noteID {
			return fmt.Errorf("path %s already maps to note %s: %w", newPath, existing, qerr.ErrIntegrity)
		}

		current := mb.Get([]byte(oldPath))
		if current == nil {
			return fmt.Errorf("no mapping for %s: %w", oldPath, qerr.ErrNotFound)
		}

		if string(current) != noteID {
			return fmt.Errorf("path %s maps to note %s, not %s: %w", oldPath, current, noteID, qerr.ErrIntegrity)
		}

		if err := mb.Delete([]byte(oldPath)); err != nil {
			return err
		}

		if err := mb.Put([]byte(newPath), []byte(noteID)); err != nil {
			return err
		}

		// Move the version record along with the mapping.
		vb := tx.Bucket(versionBucket(workspaceID))
		if vb == nil {
			return nil
		}

		raw := vb.Get([]byte(oldPath))
		if raw == nil {
			return nil
		}

		var rec NoteVersion
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}

		rec.Path = newPath

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		if err := vb.Delete([]byte(oldPath)); err != nil {
			return err
		}

		return vb.Put([]byte(newPath), data)
	})
}

// DeletePathMapping removes the mapping for path. Missing paths are a no-op.
func (d *DB) DeletePathMapping(workspaceID, path string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mappingBucket(workspaceID))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(path))
	})
}

// AllPathMappings returns a full path to noteID snapshot for batch scans
// (directory cascades, reconciliation).
func (d *DB) AllPathMappings(workspaceID string) (map[string]string, error) {
	result := make(map[string]string)

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(mappingBucket(workspaceID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			result[string(k)] = string(v)
			return nil
		})
	})

	return result, err
}

// PathsByNoteID returns every path currently mapped to noteID. Usually
// zero or one; more than one only after upload deduplication collapsed
// identical files onto one note.
func (d *DB) PathsByNoteID(workspaceID, noteID string) ([]string, error) {
	var paths []string

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(mappingBucket(workspaceID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			if string(v) == noteID {
				paths = append(paths, string(k))
			}

			return nil
		})
	})

	return paths, err
}

// SaveNoteVersion persists the version record for rec.Path.
func (d *DB) SaveNoteVersion(workspaceID string, rec NoteVersion) error {
	if rec.Path == "" {
		return fmt.Errorf("version record path must not be empty")
	}

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(versionBucket(workspaceID))
		if b == nil {
			return fmt.Errorf("versions not initialized for workspace %s", workspaceID)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		return b.Put([]byte(rec.Path), data)
	})
}

// NoteVersionByPath returns the version record for a path, or nil if not found.
func (d *DB) NoteVersionByPath(workspaceID, path string) (*NoteVersion, error) {
	var rec *NoteVersion

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(versionBucket(workspaceID))
		if b == nil {
			return nil
		}

		v := b.Get([]byte(path))
		if v == nil {
			return nil
		}

		rec = &NoteVersion{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// DeleteNoteVersion removes the version record for a path.
func (d *DB) DeleteNoteVersion(workspaceID, path string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(versionBucket(workspaceID))
		if b == nil {
			return nil
		}

		return b.Delete([]byte(path))
	})
}

// AllNoteVersions returns all version records for a workspace, keyed by path.
func (d *DB) AllNoteVersions(workspaceID string) (map[string]NoteVersion, error) {
	result := make(map[string]NoteVersion)

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(versionBucket(workspaceID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, v []byte) error {
			var rec NoteVersion
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			result[string(k)] = rec

			return nil
		})
	})

	return result, err
}
