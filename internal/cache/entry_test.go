package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/duo/telegram-fuse/internal/errors"
	"github.com/duo/telegram-fuse/internal/remote"
	"github.com/duo/telegram-fuse/internal/remote/remotetest"
)

func newTestBacking(t *testing.T) *backingFile {
	t.Helper()
	b, err := newBackingFile(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestEntry_ReadPastEOFReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	backing := newTestBacking(t)
	e := newReadyEntry(1, backing, 5)
	_, _, err := e.write(ctx, 0, []byte("hello"))
	require.NoError(t, err)

	data, err := e.read(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestEntry_WriteGrowsAndZeroFillsHole(t *testing.T) {
	ctx := context.Background()
	backing := newTestBacking(t)
	e := newReadyEntry(1, backing, 0)

	size, _, err := e.write(ctx, 5, []byte("x"))
	require.NoError(t, err)
	assert.EqualValues(t, 6, size)

	data, err := e.read(ctx, 0, 6)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 'x'}, data)
}

func TestEntry_WriteFromReadyTransitionsDirty(t *testing.T) {
	ctx := context.Background()
	backing := newTestBacking(t)
	e := newReadyEntry(1, backing, 0)

	_, _, err := e.write(ctx, 0, []byte("a"))
	require.NoError(t, err)

	st, ok := e.st.(*statusDirty)
	require.True(t, ok)
	assert.EqualValues(t, 1, st.epoch)

	_, _, err = e.write(ctx, 1, []byte("b"))
	require.NoError(t, err)
	st2, ok := e.st.(*statusDirty)
	require.True(t, ok)
	assert.Equal(t, st.epoch, st2.epoch, "a second write while already Dirty preserves the epoch")
}

func TestEntry_InvalidatedFailsReadAndWriteDistinctly(t *testing.T) {
	ctx := context.Background()
	backing := newTestBacking(t)
	e := newReadyEntry(1, backing, 4)

	e.invalidate()

	_, err := e.read(ctx, 0, 1)
	assert.ErrorIs(t, err, cerrors.ErrInvalidated)

	_, _, err = e.write(ctx, 0, []byte("x"))
	assert.ErrorIs(t, err, cerrors.ErrInvalidated)
}

func TestEntry_DownloadFailurePropagatesToReaders(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	const rid remote.RID = 9
	fake.PutDocument(rid, "broken.bin", []byte("xx"), 0)
	fake.ScriptDownload(rid, func() remote.ChunkIter {
		return remotetest.NewChunkIter([]remotetest.ChunkStep{
			{Err: assertError{"simulated transport failure"}},
		})
	})

	backing := newTestBacking(t)
	e := newDownloadingEntry(rid, backing, 2, nil)
	// The fake streams a scripted download only for the Media value its
	// own GetMessagesByID handed out.
	msgs, err := fake.GetMessagesByID(ctx, []remote.RID{rid})
	require.NoError(t, err)
	e.runDownload(fake, msgs[0].Media)

	_, err = e.read(ctx, 0, 1)
	assert.ErrorIs(t, err, cerrors.ErrDownloadFailed)
}

func TestEntry_TwoChunkDownloadSettlesReadyWithFullContent(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	const rid remote.RID = 10
	content := []byte("abcdefghij")
	fake.PutDocument(rid, "mono.bin", content, 0)
	fake.ScriptDownload(rid, func() remote.ChunkIter {
		return remotetest.NewChunkIter([]remotetest.ChunkStep{
			{Data: content[0:4]},
			{Data: content[4:10]},
		})
	})

	backing := newTestBacking(t)
	e := newDownloadingEntry(rid, backing, 10, nil)
	msgs, err := fake.GetMessagesByID(ctx, []remote.RID{rid})
	require.NoError(t, err)
	e.runDownload(fake, msgs[0].Media)

	_, ok := e.st.(*statusReady)
	assert.True(t, ok)

	data, err := e.read(ctx, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

// assertError is a trivial error value for scripting injected failures.
type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
