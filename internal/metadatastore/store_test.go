package metadatastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duo/telegram-fuse/internal/cache"
	cerrors "github.com/duo/telegram-fuse/internal/errors"
	"github.com/duo/telegram-fuse/internal/remote"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RootSeeded(t *testing.T) {
	s := createTestStore(t)
	root, err := s.GetInode(context.Background(), rootIno)
	require.NoError(t, err)
	assert.Equal(t, cache.InodeDir, root.Kind)
}

func TestStore_AddLookupInode(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	ino, err := s.AddInode(ctx, rootIno, "hello.txt", cache.InodeFile, 1000, 1000, remote.RID(42))
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", ino.Name)

	found, err := s.LookupInode(ctx, rootIno, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, ino.Ino, found.Ino)
	assert.EqualValues(t, 42, found.RemoteID)
}

func TestStore_AddInodeDuplicateNameFails(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	_, err := s.AddInode(ctx, rootIno, "dup.txt", cache.InodeFile, 0, 0, 1)
	require.NoError(t, err)
	_, err = s.AddInode(ctx, rootIno, "dup.txt", cache.InodeFile, 0, 0, 2)
	assert.ErrorIs(t, err, cerrors.ErrFileExists)
}

func TestStore_LookupMissingIsNotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.LookupInode(context.Background(), rootIno, "nope")
	assert.ErrorIs(t, err, cerrors.ErrNotFound)
}

func TestStore_UpdateInodeAttr(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	ino, err := s.AddInode(ctx, rootIno, "grow.bin", cache.InodeFile, 0, 0, 7)
	require.NoError(t, err)

	require.NoError(t, s.UpdateInodeAttr(ctx, ino.Ino, 1024, ino.Mtime))
	updated, err := s.GetInode(ctx, ino.Ino)
	require.NoError(t, err)
	assert.EqualValues(t, 1024, updated.Size)
}

func TestStore_DeleteInode(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	ino, err := s.AddInode(ctx, rootIno, "gone.bin", cache.InodeFile, 0, 0, 1)
	require.NoError(t, err)

	require.NoError(t, s.DeleteInode(ctx, ino.Ino, rootIno, "gone.bin"))
	_, err = s.GetInode(ctx, ino.Ino)
	assert.ErrorIs(t, err, cerrors.ErrNotFound)
}

func TestStore_RenameInode(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	dir, err := s.AddInode(ctx, rootIno, "sub", cache.InodeDir, 0, 0, 0)
	require.NoError(t, err)
	file, err := s.AddInode(ctx, rootIno, "move.bin", cache.InodeFile, 0, 0, 1)
	require.NoError(t, err)

	require.NoError(t, s.RenameInode(ctx, file.Ino, dir.Ino, "moved.bin"))
	found, err := s.LookupInode(ctx, dir.Ino, "moved.bin")
	require.NoError(t, err)
	assert.Equal(t, file.Ino, found.Ino)
}

func TestStore_ListChildren(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	_, err := s.AddInode(ctx, rootIno, "a", cache.InodeFile, 0, 0, 1)
	require.NoError(t, err)
	_, err = s.AddInode(ctx, rootIno, "b", cache.InodeFile, 0, 0, 2)
	require.NoError(t, err)

	children, err := s.ListChildren(ctx, rootIno)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}
