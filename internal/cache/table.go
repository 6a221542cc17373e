// Package cache implements the cached file data plane: per-message cache
// entries backed by private temp files, reconciling byte-range read/write/
// truncate against a remote that only offers full-object upload and
// streaming download.
package cache

import (
	"bytes"
	"container/list"
	"context"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	cerrors "github.com/duo/telegram-fuse/internal/errors"
	"github.com/duo/telegram-fuse/internal/remote"
)

// Table is the cache table (DiskCache): an LRU map from remote.RID to a
// cache entry, capacity-bounded, backed by one private directory for
// entries' temp files.
type Table struct {
	dir      string
	capacity int
	remote   remote.Client
	meta     MetadataStore

	mu    sync.Mutex
	lru   *list.List
	items map[remote.RID]*list.Element

	openGroup singleflight.Group
}

// NewTable constructs an empty Table. dir is the directory backing files
// are created in (enforced non-empty by internal/config). capacity is the
// LRU's entry limit, chosen by the caller.
func NewTable(dir string, capacity int, remoteClient remote.Client, meta MetadataStore) *Table {
	return &Table{
		dir:      dir,
		capacity: capacity,
		remote:   remoteClient,
		meta:     meta,
		lru:      list.New(),
		items:    make(map[remote.RID]*list.Element),
	}
}

// Open ensures an entry exists for rid. A no-op if present. Concurrent
// Opens racing on the same uncached rid are coalesced through openGroup so
// only one of them fetches the message and launches a download: without
// it, a thundering herd of readers opening the same file at once would
// each fetch and admit their own entry, with insert's duplicate-admission
// handling invalidating all but the last.
func (t *Table) Open(ctx context.Context, rid remote.RID) error {
	t.mu.Lock()
	if _, ok := t.items[rid]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	_, err, _ := t.openGroup.Do(strconv.FormatInt(int64(rid), 10), func() (any, error) {
		return nil, t.openUncached(ctx, rid)
	})
	return err
}

func (t *Table) openUncached(ctx context.Context, rid remote.RID) error {
	t.mu.Lock()
	if _, ok := t.items[rid]; ok {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	msgs, err := t.remote.GetMessagesByID(ctx, []remote.RID{rid})
	if err != nil {
		return cerrors.Wrap(err, "get_messages_by_id")
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return cerrors.ErrNotFound
	}
	msg := msgs[0]

	switch {
	case msg.Media == nil:
		backing, berr := newBackingFile(t.dir)
		if berr != nil {
			return berr
		}
		t.insert(rid, newReadyEntry(rid, backing, 0))
		return nil

	case msg.Media.Kind == remote.MediaUnsupported:
		return cerrors.ErrMediaInvalid

	case msg.Media.Kind == remote.MediaDocument:
		backing, berr := newBackingFile(t.dir)
		if berr != nil {
			return berr
		}
		if terr := backing.Truncate(msg.Media.Size); terr != nil {
			backing.Close()
			return terr
		}
		e := newDownloadingEntry(rid, backing, msg.Media.Size, nil)
		t.insert(rid, e)
		media := msg.Media
		go e.runDownload(t.remote, media)
		return nil

	default:
		return cerrors.ErrMediaInvalid
	}
}

// OpenCreateEmpty uploads a one-byte placeholder under name, sends it as a
// new message, and admits a Ready zero-length entry under the assigned rid.
func (t *Table) OpenCreateEmpty(ctx context.Context, name string) (remote.RID, error) {
	uploaded, err := t.remote.UploadStream(ctx, bytes.NewReader([]byte{0}), 1, name)
	if err != nil {
		return 0, err
	}
	msg, err := t.remote.SendMessage(ctx, remote.InputMessage{Text: name, File: uploaded})
	if err != nil {
		return 0, err
	}
	backing, err := newBackingFile(t.dir)
	if err != nil {
		return 0, err
	}
	t.insert(msg.ID, newReadyEntry(msg.ID, backing, 0))
	return msg.ID, nil
}

// Read serves a suspend-and-serve read: if the requested range isn't
// resident yet, it blocks until the in-flight download covers it.
func (t *Table) Read(ctx context.Context, rid remote.RID, offset int64, size int) ([]byte, error) {
	e, ok := t.acquireEntry(rid)
	if !ok {
		return nil, cerrors.ErrNotFound
	}
	defer t.releaseEntry(e)
	return e.read(ctx, offset, int64(size))
}

// Write serves a suspend-and-serve write, waiting out any in-flight
// download to completion (whatever the written range) before applying it.
func (t *Table) Write(ctx context.Context, rid remote.RID, offset int64, data []byte) (newSize int64, mtime int64, err error) {
	e, ok := t.acquireEntry(rid)
	if !ok {
		return 0, 0, cerrors.ErrNotFound
	}
	defer t.releaseEntry(e)
	return e.write(ctx, offset, data)
}

// Truncate applies five ordered rules depending on the entry's current
// state: direct mutation while Downloading/Ready/Dirty, treat-as-absent on
// a terminal DownloadFailed/Invalidated entry, shrink-to-empty-on-absent,
// and re-open-with-pending-truncate otherwise.
func (t *Table) Truncate(ctx context.Context, rid remote.RID, newSize int64, name string) error {
	e, ok := t.acquireEntry(rid)
	if ok {
		needsReopen, err := t.truncateExisting(e, newSize)
		t.releaseEntry(e)
		if !needsReopen {
			return err
		}
		// rule 3: DownloadFailed/Invalidated entry present, treat as absent
		// and always reopen-with-pending-truncate — the newSize==0 shortcut
		// (rule 4) is for a truly absent entry only, never a terminal one.
		t.evict(rid, e)
		return t.openWithTruncate(ctx, rid, newSize)
	}

	if newSize == 0 {
		return t.truncateCreateEmpty(ctx, rid, name)
	}
	return t.openWithTruncate(ctx, rid, newSize)
}

// truncateExisting applies rules 1-2 directly against e's current status.
// Returns needsReopen=true for rule 3 (DownloadFailed/Invalidated), in
// which case err is always nil and the caller falls through to rules 4-5.
func (t *Table) truncateExisting(e *entry, newSize int64) (needsReopen bool, err error) {
	e.guard.Lock()
	defer e.guard.Unlock()

	switch st := e.st.(type) {
	case *statusDownloading:
		target := e.size
		if st.truncateTo != nil {
			target = *st.truncateTo
		}
		if newSize < target {
			target = newSize
		}
		st.truncateTo = &target
		if terr := e.backing.Truncate(newSize); terr != nil {
			return false, terr
		}
		e.size = newSize
		return false, nil

	case *statusReady, *statusDirty:
		if terr := e.backing.Truncate(newSize); terr != nil {
			return false, terr
		}
		e.size = newSize
		if _, isDirty := e.st.(*statusDirty); !isDirty {
			e.transitionToDirtyLocked()
		}
		return false, nil

	case *statusDownloadFailed, *statusInvalidated:
		return true, nil

	default:
		panic("cache: truncate observed impossible status")
	}
}

// truncateCreateEmpty is rule 4: shrink-to-empty on an absent entry commits
// a one-byte placeholder directly, without a download round-trip.
func (t *Table) truncateCreateEmpty(ctx context.Context, rid remote.RID, name string) error {
	uploaded, err := t.remote.UploadStream(ctx, bytes.NewReader([]byte{0}), 1, name)
	if err != nil {
		return err
	}
	if err := t.remote.EditMessage(ctx, rid, remote.InputMessage{Text: name, File: uploaded}); err != nil {
		return err
	}
	backing, err := newBackingFile(t.dir)
	if err != nil {
		return err
	}
	t.insert(rid, newReadyEntry(rid, backing, 0))
	return nil
}

// openWithTruncate is rule 5: re-open the remote message with the new size
// recorded as the download's pending truncate from the start. The download
// target is the smaller of the new size and the remote size, since the
// stream ends at the latter; a larger new size reads back zero-filled.
func (t *Table) openWithTruncate(ctx context.Context, rid remote.RID, newSize int64) error {
	msgs, err := t.remote.GetMessagesByID(ctx, []remote.RID{rid})
	if err != nil {
		return cerrors.Wrap(err, "get_messages_by_id")
	}
	if len(msgs) == 0 || msgs[0] == nil {
		return cerrors.ErrNotFound
	}
	msg := msgs[0]
	if msg.Media == nil || msg.Media.Kind != remote.MediaDocument {
		return cerrors.ErrMediaInvalid
	}

	backing, err := newBackingFile(t.dir)
	if err != nil {
		return err
	}
	if terr := backing.Truncate(newSize); terr != nil {
		backing.Close()
		return terr
	}

	target := newSize
	if msg.Media.Size < target {
		target = msg.Media.Size
	}
	e := newDownloadingEntry(rid, backing, newSize, &target)
	t.insert(rid, e)
	media := msg.Media
	go e.runDownload(t.remote, media)
	return nil
}

// Flush is the upload launcher's entry point.
func (t *Table) Flush(ctx context.Context, rid remote.RID, name string, block bool) error {
	e, ok := t.acquireEntry(rid)
	if !ok {
		return cerrors.ErrNotFound
	}
	defer t.releaseEntry(e)

	for {
		e.guard.Lock()
		switch st := e.st.(type) {
		case *statusReady, *statusInvalidated:
			e.guard.Unlock()
			return nil

		case *statusDownloadFailed:
			e.guard.Unlock()
			return cerrors.ErrDownloadFailed

		case *statusDownloading:
			e.guard.Unlock()
			if err := e.avail.waitClosed(ctx); err != nil {
				return err
			}
			continue

		case *statusDirty:
			e.launchUpload(t.remote, name, st)
			if !block {
				e.guard.Unlock()
				return nil
			}
			done := st.done
			e.guard.Unlock()
			success, err := done.wait(ctx)
			if err != nil {
				return err
			}
			if success {
				return nil
			}
			continue // superseded; loop and reassess current status

		default:
			e.guard.Unlock()
			panic("cache: flush observed impossible status")
		}
	}
}

// Delete removes rid's entry (dropping the table's strong reference; a
// concurrent download observes the orphan and aborts) and asks the remote
// to delete the message, ignoring remote errors.
func (t *Table) Delete(ctx context.Context, rid remote.RID) error {
	t.mu.Lock()
	el, ok := t.items[rid]
	var e *entry
	if ok {
		e = el.Value.(*entry)
		t.lru.Remove(el)
		delete(t.items, rid)
	}
	t.mu.Unlock()

	if e != nil {
		e.markEvicted()
	}

	_ = t.remote.DeleteMessages(ctx, []remote.RID{rid})
	return nil
}

// acquireEntry looks rid up, touching its LRU position, and increments its
// external-holder refcount. The caller must call releaseEntry exactly once.
func (t *Table) acquireEntry(rid remote.RID) (*entry, bool) {
	t.mu.Lock()
	el, ok := t.items[rid]
	if !ok {
		t.mu.Unlock()
		return nil, false
	}
	t.lru.MoveToFront(el)
	e := el.Value.(*entry)
	t.mu.Unlock()

	e.acquire()
	return e, true
}

func (t *Table) releaseEntry(e *entry) {
	e.release()
}

// evict drops rid's entry if it still matches e (used after truncateExisting
// decides a terminal entry must be treated as absent).
func (t *Table) evict(rid remote.RID, e *entry) {
	t.mu.Lock()
	if el, ok := t.items[rid]; ok && el.Value.(*entry) == e {
		t.lru.Remove(el)
		delete(t.items, rid)
	}
	t.mu.Unlock()
	e.markEvicted()
}

// insert admits e under rid, handling duplicate-admission (an existing
// entry for the same rid is invalidated before replacement) and LRU
// eviction on overflow.
func (t *Table) insert(rid remote.RID, e *entry) {
	t.mu.Lock()
	var old *entry
	if oldEl, ok := t.items[rid]; ok {
		old = oldEl.Value.(*entry)
		t.lru.Remove(oldEl)
		delete(t.items, rid)
	}

	el := t.lru.PushFront(e)
	t.items[rid] = el

	var evicted *entry
	if t.lru.Len() > t.capacity {
		if back := t.lru.Back(); back != nil {
			evicted = back.Value.(*entry)
			t.lru.Remove(back)
			delete(t.items, evicted.rid)
		}
	}
	t.mu.Unlock()

	if old != nil {
		old.invalidate()
		old.markEvicted()
	}
	if evicted != nil {
		evicted.markEvicted()
	}
}
