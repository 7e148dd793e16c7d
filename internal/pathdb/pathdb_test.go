package pathdb

import (
	"path/filepath"
	"testing"

	"github.com/quillworks/quillsync/internal/qerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWS = "ws-test-001"

func testDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	d, err := LoadAt(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.InitWorkspace(testWS))
	return d
}

// --- LoadAt / Close ---

func TestLoadAt_CreatesDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "paths.db")
	d, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, d.Close())
}

func TestLoadAt_ReopensExistingDB(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "paths.db")

	d1, err := LoadAt(dbPath)
	require.NoError(t, err)
	require.NoError(t, d1.InitWorkspace(testWS))
	require.NoError(t, d1.SavePathMapping(testWS, "a.md", "note-1"))
	require.NoError(t, d1.Close())

	d2, err := LoadAt(dbPath)
	require.NoError(t, err)
	defer d2.Close()

	id, err := d2.NoteIDByPath(testWS, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "note-1", id)
}

// --- Path mappings ---

func TestNoteIDByPath_AbsentIsNotFound(t *testing.T) {
	d := testDB(t)
	_, err := d.NoteIDByPath(testWS, "missing.md")
	assert.ErrorIs(t, err, qerr.ErrNotFound)
}

func TestSavePathMapping_RoundTrip(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "notes/hello.md", "note-42"))

	id, err := d.NoteIDByPath(testWS, "notes/hello.md")
	require.NoError(t, err)
	assert.Equal(t, "note-42", id)
}

func TestSavePathMapping_Overwrite(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "a.md", "old-note"))
	require.NoError(t, d.SavePathMapping(testWS, "a.md", "new-note"))

	id, err := d.NoteIDByPath(testWS, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "new-note", id)
}

func TestSavePathMapping_RejectsEmpty(t *testing.T) {
	d := testDB(t)
	require.Error(t, d.SavePathMapping(testWS, "", "note-1"))
	require.Error(t, d.SavePathMapping(testWS, "a.md", ""))
}

func TestUpdatePathMapping_Atomic(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "old.md", "note-1"))

	require.NoError(t, d.UpdatePathMapping(testWS, "old.md", "new.md", "note-1"))

	_, err := d.NoteIDByPath(testWS, "old.md")
	assert.ErrorIs(t, err, qerr.ErrNotFound)

	id, err := d.NoteIDByPath(testWS, "new.md")
	require.NoError(t, err)
	assert.Equal(t, "note-1", id)

	paths, err := d.PathsByNoteID(testWS, "note-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new.md"}, paths)
}

func TestUpdatePathMapping_ChainedRenamesLeaveOneRow(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "v1/note.md", "note-1"))

	require.NoError(t, d.UpdatePathMapping(testWS, "v1/note.md", "v2/note.md", "note-1"))
	require.NoError(t, d.UpdatePathMapping(testWS, "v2/note.md", "v3/note.md", "note-1"))

	paths, err := d.PathsByNoteID(testWS, "note-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v3/note.md"}, paths)

	id, err := d.NoteIDByPath(testWS, "v3/note.md")
	require.NoError(t, err)
	assert.Equal(t, "note-1", id)
}

func TestUpdatePathMapping_StaleOldPathIsNotFound(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "somewhere.md", "note-1"))

	err := d.UpdatePathMapping(testWS, "bogus.md", "target.md", "note-1")
	assert.ErrorIs(t, err, qerr.ErrNotFound)

	// The existing mapping is untouched.
	paths, err := d.PathsByNoteID(testWS, "note-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"somewhere.md"}, paths)
}

func TestUpdatePathMapping_DuplicatePathsSurviveRename(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "dup1.md", "note-1"))
	require.NoError(t, d.SavePathMapping(testWS, "dup2.md", "note-1"))

	require.NoError(t, d.UpdatePathMapping(testWS, "dup1.md", "renamed.md", "note-1"))

	paths, err := d.PathsByNoteID(testWS, "note-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dup2.md", "renamed.md"}, paths)
}

func TestUpdatePathMapping_IntegrityViolation(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "a.md", "note-a"))
	require.NoError(t, d.SavePathMapping(testWS, "b.md", "note-b"))

	err := d.UpdatePathMapping(testWS, "a.md", "b.md", "note-a")
	assert.ErrorIs(t, err, qerr.ErrIntegrity)

	// Nothing changed.
	idA, err := d.NoteIDByPath(testWS, "a.md")
	require.NoError(t, err)
	assert.Equal(t, "note-a", idA)

	idB, err := d.NoteIDByPath(testWS, "b.md")
	require.NoError(t, err)
	assert.Equal(t, "note-b", idB)
}

func TestUpdatePathMapping_MovesVersionRecord(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "old.md", "note-1"))
	require.NoError(t, d.SaveNoteVersion(testWS, NoteVersion{
		Path: "old.md", Version: 3, NoteID: "note-1", ContentHash: "abc",
	}))

	require.NoError(t, d.UpdatePathMapping(testWS, "old.md", "new.md", "note-1"))

	old, err := d.NoteVersionByPath(testWS, "old.md")
	require.NoError(t, err)
	assert.Nil(t, old)

	rec, err := d.NoteVersionByPath(testWS, "new.md")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "new.md", rec.Path)
	assert.Equal(t, int64(3), rec.Version)
	assert.Equal(t, "abc", rec.ContentHash)
}

func TestDeletePathMapping(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "gone.md", "note-1"))
	require.NoError(t, d.DeletePathMapping(testWS, "gone.md"))

	_, err := d.NoteIDByPath(testWS, "gone.md")
	assert.ErrorIs(t, err, qerr.ErrNotFound)
}

func TestDeletePathMapping_NonexistentIsNoOp(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.DeletePathMapping(testWS, "never-existed.md"))
}

func TestAllPathMappings(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "a.md", "n1"))
	require.NoError(t, d.SavePathMapping(testWS, "java/spring.md", "n2"))
	require.NoError(t, d.SavePathMapping(testWS, "java/jpa/entity.md", "n3"))

	all, err := d.AllPathMappings(testWS)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "n2", all["java/spring.md"])
}

func TestPathsByNoteID_SharedAfterDedup(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SavePathMapping(testWS, "dup1.md", "note-1"))
	require.NoError(t, d.SavePathMapping(testWS, "dup2.md", "note-1"))

	paths, err := d.PathsByNoteID(testWS, "note-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dup1.md", "dup2.md"}, paths)
}

// --- Version records ---

func TestNoteVersionByPath_NilWhenAbsent(t *testing.T) {
	d := testDB(t)
	rec, err := d.NoteVersionByPath(testWS, "missing.md")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSaveNoteVersion_RoundTrip(t *testing.T) {
	d := testDB(t)
	input := NoteVersion{Path: "a.md", Version: 7, NoteID: "note-1", ContentHash: "deadbeef"}
	require.NoError(t, d.SaveNoteVersion(testWS, input))

	rec, err := d.NoteVersionByPath(testWS, "a.md")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, input, *rec)
}

func TestSaveNoteVersion_Overwrite(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SaveNoteVersion(testWS, NoteVersion{Path: "a.md", Version: 1, NoteID: "n", ContentHash: "x"}))
	require.NoError(t, d.SaveNoteVersion(testWS, NoteVersion{Path: "a.md", Version: 2, NoteID: "n", ContentHash: "y"}))

	rec, err := d.NoteVersionByPath(testWS, "a.md")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, "y", rec.ContentHash)
}

func TestDeleteNoteVersion(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SaveNoteVersion(testWS, NoteVersion{Path: "a.md", Version: 1, NoteID: "n", ContentHash: "x"}))
	require.NoError(t, d.DeleteNoteVersion(testWS, "a.md"))

	rec, err := d.NoteVersionByPath(testWS, "a.md")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAllNoteVersions(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.SaveNoteVersion(testWS, NoteVersion{Path: "a.md", Version: 1, NoteID: "n1", ContentHash: "x"}))
	require.NoError(t, d.SaveNoteVersion(testWS, NoteVersion{Path: "b.md", Version: 2, NoteID: "n2", ContentHash: "y"}))

	all, err := d.AllNoteVersions(testWS)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, int64(2), all["b.md"].Version)
}

// --- Workspace isolation ---

func TestMappings_IsolatedBetweenWorkspaces(t *testing.T) {
	d := testDB(t)
	require.NoError(t, d.InitWorkspace("ws-2"))

	require.NoError(t, d.SavePathMapping(testWS, "shared.md", "note-1"))
	require.NoError(t, d.SavePathMapping("ws-2", "shared.md", "note-2"))

	id1, err := d.NoteIDByPath(testWS, "shared.md")
	require.NoError(t, err)
	id2, err := d.NoteIDByPath("ws-2", "shared.md")
	require.NoError(t, err)
	assert.Equal(t, "note-1", id1)
	assert.Equal(t, "note-2", id2)
}
