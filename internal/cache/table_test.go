package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/duo/telegram-fuse/internal/errors"
	"github.com/duo/telegram-fuse/internal/remote"
	"github.com/duo/telegram-fuse/internal/remote/remotetest"
)

func newTestTable(t *testing.T, fake *remotetest.Fake, capacity int) *Table {
	t.Helper()
	return NewTable(t.TempDir(), capacity, fake, nil)
}

// Scenario 1: empty create + write + fsync.
func TestTable_EmptyCreateWriteFsync(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	tbl := newTestTable(t, fake, 1024)

	rid, err := tbl.OpenCreateEmpty(ctx, "a.txt")
	require.NoError(t, err)

	size, _, err := tbl.Write(ctx, rid, 0, []byte("hello"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, size)

	require.NoError(t, tbl.Flush(ctx, rid, "a.txt", true))
	assert.Equal(t, []byte("hello"), fake.Content(rid))
	assert.Len(t, fake.Edits, 1)

	data, err := tbl.Read(ctx, rid, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

// Scenario 2: a read blocked on a partial download wakes once enough bytes
// are available, and sees only the bytes it asked for.
func TestTable_ReadDuringDownload(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	const rid remote.RID = 2
	content := []byte("0123456789")
	fake.PutDocument(rid, "doc.bin", content, 0)

	gated := remotetest.NewGatedChunkIter([]remotetest.ChunkStep{
		{Data: content[0:3]},
		{Data: content[3:10]},
	})
	fake.ScriptDownload(rid, func() remote.ChunkIter { return gated })

	tbl := newTestTable(t, fake, 1024)
	require.NoError(t, tbl.Open(ctx, rid))

	type result struct {
		data []byte
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		data, err := tbl.Read(ctx, rid, 0, 5)
		resCh <- result{data, err}
	}()

	select {
	case r := <-resCh:
		t.Fatalf("read returned before any chunk arrived: %+v", r)
	case <-time.After(30 * time.Millisecond):
	}

	gated.Advance() // deliver first 3 bytes
	select {
	case r := <-resCh:
		t.Fatalf("read returned before enough bytes were available: %+v", r)
	case <-time.After(30 * time.Millisecond):
	}

	gated.Advance() // deliver remaining 7 bytes
	select {
	case r := <-resCh:
		require.NoError(t, r.err)
		assert.Equal(t, content[0:5], r.data)
	case <-time.After(time.Second):
		t.Fatal("read never returned")
	}
}

// Scenario 3: truncate-to-smaller during an in-flight download still
// completes the download up to the truncate point and commits it.
func TestTable_TruncateSmallerDuringDownload(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	const rid remote.RID = 3
	content := make([]byte, 1000)
	for i := range content {
		content[i] = byte(i)
	}
	fake.PutDocument(rid, "big.bin", content, 0)

	gated := remotetest.NewGatedChunkIter([]remotetest.ChunkStep{
		{Data: content[0:400]},
		{Data: content[400:1000]},
	})
	fake.ScriptDownload(rid, func() remote.ChunkIter { return gated })

	tbl := newTestTable(t, fake, 1024)
	require.NoError(t, tbl.Open(ctx, rid))

	gated.Advance() // chunks arrive up to pos=400
	time.Sleep(30 * time.Millisecond)

	require.NoError(t, tbl.Truncate(ctx, rid, 100, "big.bin"))
	gated.Advance() // downloader observes effective_end=100 on next chunk

	require.NoError(t, tbl.Flush(ctx, rid, "big.bin", true))

	data, err := tbl.Read(ctx, rid, 0, 1000)
	require.NoError(t, err)
	assert.Equal(t, content[0:100], data)
	assert.Equal(t, content[0:100], fake.Content(rid))
}

// Scenario 4: a second write supersedes an in-flight upload's epoch; only
// the later epoch's upload ultimately commits.
func TestTable_SupersedeInFlightUpload(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	tbl := newTestTable(t, fake, 1024)

	rid, err := tbl.OpenCreateEmpty(ctx, "s.txt")
	require.NoError(t, err)

	_, _, err = tbl.Write(ctx, rid, 0, []byte("first"))
	require.NoError(t, err)
	require.NoError(t, tbl.Flush(ctx, rid, "s.txt", false)) // non-blocking: spawns U1

	_, _, err = tbl.Write(ctx, rid, 0, []byte("second-longer"))
	require.NoError(t, err)

	require.NoError(t, tbl.Flush(ctx, rid, "s.txt", true)) // waits for the committing epoch
	assert.Equal(t, []byte("second-longer"), fake.Content(rid))
}

// Scenario 5: an entry evicted from the table with no external waiter
// aborts its download without ever issuing an edit_message.
func TestTable_EvictDuringDownloadNoWaiter(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	const rid remote.RID = 4
	content := []byte("some content bytes")
	fake.PutDocument(rid, "evict.bin", content, 0)

	gated := remotetest.NewGatedChunkIter([]remotetest.ChunkStep{
		{Data: content},
	})
	fake.ScriptDownload(rid, func() remote.ChunkIter { return gated })

	tbl := newTestTable(t, fake, 1) // capacity 1: next insert evicts R4
	require.NoError(t, tbl.Open(ctx, rid))

	_, err := tbl.OpenCreateEmpty(ctx, "other.txt") // overflows capacity, evicts rid
	require.NoError(t, err)

	gated.Advance()
	time.Sleep(30 * time.Millisecond)

	assert.Empty(t, fake.Edits)
}

// Scenario 6: duplicate admission invalidates the old entry; an operation
// still holding it fails distinctly rather than silently diverging.
func TestTable_DuplicateAdmissionInvalidatesOld(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	const rid remote.RID = 5
	tbl := newTestTable(t, fake, 1024)

	oldEntry, ok := tbl.acquireEntry(rid)
	require.False(t, ok) // not yet admitted

	fake.PutTextMessage(rid, "a")
	require.NoError(t, tbl.Open(ctx, rid))
	oldEntry, ok = tbl.acquireEntry(rid)
	require.True(t, ok)
	tbl.releaseEntry(oldEntry)

	tbl.insert(rid, newReadyEntry(rid, nil, 0)) // re-admit: old must be invalidated

	_, err := oldEntry.read(ctx, 0, 1)
	assert.ErrorIs(t, err, cerrors.ErrInvalidated)
}

func TestTable_FlushOnMissingEntryIsNotFound(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	tbl := newTestTable(t, fake, 1024)
	assert.ErrorIs(t, tbl.Flush(ctx, 999, "x", true), cerrors.ErrNotFound)
}

func TestTable_RoundTripAfterEvictAndReopen(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	tbl := newTestTable(t, fake, 1024)

	rid, err := tbl.OpenCreateEmpty(ctx, "rt.txt")
	require.NoError(t, err)
	_, _, err = tbl.Write(ctx, rid, 0, []byte("round-trip"))
	require.NoError(t, err)
	require.NoError(t, tbl.Flush(ctx, rid, "rt.txt", true))

	tbl2 := newTestTable(t, fake, 1024) // fresh table: forces a real reopen
	require.NoError(t, tbl2.Open(ctx, rid))
	data, err := tbl2.Read(ctx, rid, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, []byte("round-trip"), data)
}

func TestTable_ConcurrentOpenCoalescesIntoOneFetch(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	const rid remote.RID = 4
	fake.PutTextMessage(rid, "shared")

	tbl := newTestTable(t, fake, 1024)

	const callers = 8
	errs := make(chan error, callers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		go func() {
			start.Wait()
			errs <- tbl.Open(ctx, rid)
		}()
	}
	start.Done()

	for i := 0; i < callers; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, 1, fake.GetCallCount, "concurrent opens of the same rid should fetch once")

	e, ok := tbl.acquireEntry(rid)
	require.True(t, ok)
	tbl.releaseEntry(e)
}

// A DownloadFailed entry truncated to 0 must still reopen against the
// remote (rule 5, via openWithTruncate) rather than taking rule 4's
// shrink-to-empty shortcut, which skips the existence check entirely and
// is only valid when the entry was truly absent.
func TestTable_TruncateDownloadFailedEntryToZeroReopens(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	const rid remote.RID = 5
	fake.PutDocument(rid, "broken.bin", []byte("xx"), 0)
	fake.ScriptDownload(rid, func() remote.ChunkIter {
		return remotetest.NewChunkIter([]remotetest.ChunkStep{
			{Err: assertError{"simulated transport failure"}},
		})
	})

	tbl := newTestTable(t, fake, 1024)
	require.NoError(t, tbl.Open(ctx, rid))

	_, err := tbl.Read(ctx, rid, 0, 1)
	require.ErrorIs(t, err, cerrors.ErrDownloadFailed, "download must have settled to Failed before truncating")

	callsBefore := fake.GetCallCount
	err = tbl.Truncate(ctx, rid, 0, "broken.bin")
	require.NoError(t, err)

	assert.Greater(t, fake.GetCallCount, callsBefore, "truncating a terminal entry to 0 must re-fetch via openWithTruncate, not bypass it")
	assert.Empty(t, fake.Edits, "rule 4's EditMessage-based shortcut must never fire for a present entry")
}

func TestTable_OpenUnsupportedMediaIsMediaInvalid(t *testing.T) {
	ctx := context.Background()
	fake := remotetest.New()
	const rid remote.RID = 3
	fake.PutUnsupported(rid, "voice message")

	tbl := newTestTable(t, fake, 1024)
	err := tbl.Open(ctx, rid)
	assert.ErrorIs(t, err, cerrors.ErrMediaInvalid)

	_, ok := tbl.acquireEntry(rid)
	assert.False(t, ok, "a rejected open must not admit an entry")
}
