package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillworks/quillsync/internal/qerr"
)

func TestMemory_CreateAssignsUniqueIDs(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e1, err := m.CreateNote(ctx, "a.md", []byte("a"), "hash-a")
	require.NoError(t, err)
	e2, err := m.CreateNote(ctx, "b.md", []byte("b"), "hash-b")
	require.NoError(t, err)

	assert.NotEmpty(t, e1.NoteID)
	assert.NotEqual(t, e1.NoteID, e2.NoteID)
	assert.Equal(t, int64(1), e1.Version)
}

func TestMemory_UpdateContentBumpsVersion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e, err := m.CreateNote(ctx, "a.md", []byte("v1"), "h1")
	require.NoError(t, err)

	updated, err := m.UpdateContent(ctx, e.NoteID, []byte("v2"), "h2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	content, err := m.Content(ctx, e.NoteID)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), content)
}

func TestMemory_UpdateTitleBumpsVersion(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e, err := m.CreateNote(ctx, "old.md", []byte("x"), "h")
	require.NoError(t, err)

	updated, err := m.UpdateTitle(ctx, e.NoteID, "new.md")
	require.NoError(t, err)
	assert.Equal(t, "new.md", updated.Title)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, "h", updated.ContentHash)
}

func TestMemory_DeleteIsSoft(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e, err := m.CreateNote(ctx, "a.md", []byte("x"), "h")
	require.NoError(t, err)
	require.NoError(t, m.DeleteNote(ctx, e.NoteID))

	entries, err := m.Manifest(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Deleted)
	assert.Equal(t, int64(2), entries[0].Version)
}

func TestMemory_DeleteTwiceIsNoOp(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e, err := m.CreateNote(ctx, "a.md", []byte("x"), "h")
	require.NoError(t, err)
	require.NoError(t, m.DeleteNote(ctx, e.NoteID))
	require.NoError(t, m.DeleteNote(ctx, e.NoteID))

	entry, ok := m.Entry(e.NoteID)
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.Version)
}

func TestMemory_UpdateAfterDeleteRevives(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e, err := m.CreateNote(ctx, "a.md", []byte("x"), "h")
	require.NoError(t, err)
	require.NoError(t, m.DeleteNote(ctx, e.NoteID))

	_, err = m.UpdateContent(ctx, e.NoteID, []byte("y"), "h2")
	require.NoError(t, err)

	entry, ok := m.Entry(e.NoteID)
	require.True(t, ok)
	assert.False(t, entry.Deleted)
}

func TestMemory_MissingNoteIsNotFound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Content(ctx, "nope")
	assert.ErrorIs(t, err, qerr.ErrNotFound)

	_, err = m.UpdateContent(ctx, "nope", nil, "")
	assert.ErrorIs(t, err, qerr.ErrNotFound)

	assert.ErrorIs(t, m.DeleteNote(ctx, "nope"), qerr.ErrNotFound)
}
