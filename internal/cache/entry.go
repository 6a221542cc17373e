package cache

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	cerrors "github.com/duo/telegram-fuse/internal/errors"
	"github.com/duo/telegram-fuse/internal/logging"
	"github.com/duo/telegram-fuse/internal/remote"
)

// entry is a single cache entry: remote id, backing file, logical size,
// available prefix, status, and the guard protecting all of it. The
// available prefix lives inside avail.
//
// inTable and refs together form a reference-counting liveness signal:
// inTable is true while the owning Table's map still points at this
// entry; refs counts in-flight Table operations currently holding it (via
// acquire/release). The downloader goroutine holds a bare pointer and is
// not itself a ref — it asks the same "is anyone still holding me"
// question at each chunk boundary without counting as an answer.
type entry struct {
	rid     remote.RID
	backing *backingFile

	guard sync.Mutex

	size int64
	st   status

	avail *broadcaster

	inTable  bool
	refs     int
	epochSeq int64
}

// newDownloadingEntry constructs an entry whose backing file is
// pre-allocated to fileSize and whose download has not yet started.
func newDownloadingEntry(rid remote.RID, backing *backingFile, fileSize int64, truncateTo *int64) *entry {
	return &entry{
		rid:     rid,
		backing: backing,
		size:    fileSize,
		st:      &statusDownloading{truncateTo: truncateTo},
		avail:   newBroadcaster(),
		inTable: true,
	}
}

// newReadyEntry constructs an already-complete entry (the empty-file and
// round-tripped-from-disk cases).
func newReadyEntry(rid remote.RID, backing *backingFile, size int64) *entry {
	return &entry{
		rid:     rid,
		backing: backing,
		size:    size,
		st:      &statusReady{},
		avail:   newBroadcaster(),
		inTable: true,
	}
}

// acquire/release implement the external-holder count. Every Table method
// that looks an entry up calls acquire and defers release.
func (e *entry) acquire() {
	e.guard.Lock()
	e.refs++
	e.guard.Unlock()
}

func (e *entry) release() {
	e.guard.Lock()
	e.refs--
	e.guard.Unlock()
}

// markEvicted clears inTable, leaving any in-flight downloader/uploader to
// observe it at their next guarded checkpoint. Eviction does not cancel an
// in-flight upload; it only drops the table's own reference.
func (e *entry) markEvicted() {
	e.guard.Lock()
	e.inTable = false
	e.guard.Unlock()
}

// invalidate is used by duplicate admission: the old entry is marked
// Invalidated under its own lock before being replaced in the table, so
// any operation still holding it fails distinctly.
func (e *entry) invalidate() {
	e.guard.Lock()
	e.st = &statusInvalidated{}
	e.guard.Unlock()
	e.avail.close()
}

// read serves a byte range, blocking on the download's available prefix
// when the entry is still Downloading and the range isn't resident yet.
func (e *entry) read(ctx context.Context, offset, size int64) ([]byte, error) {
	e.guard.Lock()
	switch e.st.(type) {
	case *statusInvalidated:
		e.guard.Unlock()
		return nil, cerrors.ErrInvalidated
	case *statusDownloadFailed:
		e.guard.Unlock()
		return nil, cerrors.ErrDownloadFailed
	}
	if e.size <= offset || size <= 0 {
		e.guard.Unlock()
		return []byte{}, nil
	}
	end := offset + size

	switch st := e.st.(type) {
	case *statusDownloading:
		avail, _ := e.avail.snapshot()
		if end > avail {
			e.guard.Unlock()
			_, _, err := e.avail.waitAtLeast(ctx, end)
			if err != nil {
				return nil, err
			}
			e.guard.Lock()
			switch e.st.(type) {
			case *statusInvalidated:
				e.guard.Unlock()
				return nil, cerrors.ErrInvalidated
			case *statusDownloadFailed:
				e.guard.Unlock()
				return nil, cerrors.ErrDownloadFailed
			}
		}
		_ = st
	case *statusReady, *statusDirty:
		// fall through to serve below
	}

	if end > e.size {
		end = e.size
	}
	data, err := e.backing.ReadRange(offset, end-offset)
	e.guard.Unlock()
	return data, err
}

// write applies a byte-range write, covering both "writes during
// Downloading" (block until settle) and "writes from Ready/Dirty".
func (e *entry) write(ctx context.Context, offset int64, data []byte) (newSize int64, mtime int64, err error) {
	e.guard.Lock()

	if _, ok := e.st.(*statusDownloading); ok {
		e.guard.Unlock()
		if werr := e.avail.waitClosed(ctx); werr != nil {
			return 0, 0, werr
		}
		e.guard.Lock()
	}

	switch st := e.st.(type) {
	case *statusInvalidated:
		e.guard.Unlock()
		return 0, 0, cerrors.ErrInvalidated
	case *statusDownloadFailed:
		e.guard.Unlock()
		return 0, 0, cerrors.ErrDownloadFailed
	case *statusDownloading:
		e.guard.Unlock()
		panic("cache: write observed Downloading status after settle wait")
	case *statusReady:
		e.transitionToDirtyLocked()
	case *statusDirty:
		// preserve existing epoch, unless an upload for it is already
		// launched: that upload may have read the backing file before this
		// write, so a fresh epoch keeps it from committing, and its waiters
		// are told it was superseded.
		if st.launched {
			e.transitionToDirtyLocked()
			st.done.fire(false)
		}
	}

	now := time.Now()
	if _, werr := e.backing.WriteAt(data, offset); werr != nil {
		e.guard.Unlock()
		return 0, 0, werr
	}
	if grown := offset + int64(len(data)); grown > e.size {
		e.size = grown
	}
	newSize = e.size
	e.guard.Unlock()
	return newSize, now.Unix(), nil
}

// transitionToDirtyLocked must be called with guard held; it starts a new
// Dirty epoch (from Ready, from a download settling with a pending
// truncate, or from a Dirty epoch whose upload is already launched) and
// records a fresh monotonically increasing epoch so a superseded upload
// attempt can recognize it no longer matches current.
func (e *entry) transitionToDirtyLocked() {
	e.epochSeq++
	e.st = &statusDirty{epoch: e.epochSeq, done: newDoneSignal()}
}

// launchUpload spawns the upload goroutine for st if one hasn't already
// been launched for this epoch. Must be called with guard held, and st
// must be e.st's current value.
func (e *entry) launchUpload(client remote.Client, name string, st *statusDirty) {
	if st.launched {
		return
	}
	st.launched = true
	go e.runUpload(client, name, st)
}

// runUpload is the upload launcher's body, run in its own goroutine.
func (e *entry) runUpload(client remote.Client, name string, st *statusDirty) {
	ctx := context.Background()

	e.guard.Lock()
	cur, ok := e.st.(*statusDirty)
	if !ok || cur != st {
		e.guard.Unlock()
		return
	}
	size := e.size
	e.guard.Unlock()

	var buf []byte
	if size > 0 {
		e.guard.Lock()
		cur, ok = e.st.(*statusDirty)
		if !ok || cur != st {
			e.guard.Unlock()
			return
		}
		var rerr error
		buf, rerr = e.backing.ReadRange(0, size)
		e.guard.Unlock()
		if rerr != nil {
			logging.Error().Err(rerr).Int64("rid", int64(e.rid)).Msg("failed reading backing file for upload")
			return
		}
	} else {
		buf = []byte{0} // the remote refuses empty payloads
	}
	uploadSize := int64(len(buf))

	// relaunchable lets the next flush launch a fresh attempt for this
	// still-current epoch after a failed one.
	relaunchable := func() {
		e.guard.Lock()
		if cur, ok := e.st.(*statusDirty); ok && cur == st {
			st.launched = false
		}
		e.guard.Unlock()
	}

	uploaded, err := client.UploadStream(ctx, bytes.NewReader(buf), uploadSize, name)
	if err != nil {
		logging.Error().Err(err).Int64("rid", int64(e.rid)).Msg("upload failed; entry stays dirty, retried on next flush")
		relaunchable()
		return
	}

	if err := client.EditMessage(ctx, e.rid, remote.InputMessage{Text: name, File: uploaded}); err != nil {
		logging.Error().Err(err).Int64("rid", int64(e.rid)).Msg("edit_message failed; entry stays dirty, retried on next flush")
		relaunchable()
		return
	}

	success := false
	e.guard.Lock()
	switch cur := e.st.(type) {
	case *statusDirty:
		if cur == st {
			e.st = &statusReady{}
			success = true
		}
		// else: a newer write re-dirtied the entry; that epoch's own
		// upload task will commit it. Suppress this one.
	case *statusInvalidated:
		logging.Warn().Int64("rid", int64(e.rid)).Msg("entry invalidated during upload; suppressing commit")
	case *statusDownloading:
		e.guard.Unlock()
		panic("cache: upload completion observed Downloading status")
	}
	e.guard.Unlock()

	st.done.fire(success)
}

// runDownload drives the background downloader for a Downloading entry.
func (e *entry) runDownload(client remote.Client, media *remote.Media) {
	ctx := context.Background()
	iter, err := client.IterDownload(ctx, media)
	if err != nil {
		e.failDownload(err)
		return
	}

	var pos int64
	for {
		chunk, cerr := iter.Next(ctx)
		if cerr != nil && cerr != io.EOF {
			e.failDownload(cerr)
			return
		}
		if cerr == io.EOF {
			break
		}

		done, aborted := e.applyChunk(client, media, chunk, &pos)
		if aborted {
			return
		}
		if done {
			return
		}
	}

	e.finishShortStream(client, media, pos)
}

// applyChunk performs one guarded step of the downloader loop. Returns
// done=true if the download finished (and the entry has already been
// finalized and avail closed), aborted=true if the downloader should stop
// without further writes (evicted or invalidated).
func (e *entry) applyChunk(client remote.Client, media *remote.Media, chunk []byte, pos *int64) (done, aborted bool) {
	e.guard.Lock()

	var effectiveEnd int64
	switch st := e.st.(type) {
	case *statusDownloading:
		switch {
		case st.truncateTo != nil:
			effectiveEnd = *st.truncateTo
		case !e.inTable && e.refs == 0:
			e.guard.Unlock()
			return false, true
		default:
			effectiveEnd = e.size
		}
	case *statusInvalidated:
		e.guard.Unlock()
		return false, true
	default:
		e.guard.Unlock()
		panic("cache: downloader observed impossible status")
	}

	rest := effectiveEnd - *pos
	if rest < 0 {
		rest = 0
	}
	if int64(len(chunk)) > rest {
		chunk = chunk[:rest]
	}
	if len(chunk) > 0 {
		if _, werr := e.backing.WriteAt(chunk, *pos); werr != nil {
			e.st = &statusDownloadFailed{}
			e.guard.Unlock()
			e.avail.close()
			logging.Error().Err(werr).Msg("backing file write failed during download")
			return true, false
		}
		*pos += int64(len(chunk))
	}

	if *pos >= effectiveEnd {
		e.avail.publish(e.size)
		e.finishDownloadLocked(effectiveEnd, client, media)
		e.guard.Unlock()
		e.avail.close()
		return true, false
	}

	e.avail.publish(*pos)
	e.guard.Unlock()
	return false, false
}

// finishShortStream handles the remote stream ending before effectiveEnd
// was reached: either DownloadFailed, or — if the file was set to a
// larger length than remote via truncate-to-grow — a clean completion
// against whatever target was pending.
func (e *entry) finishShortStream(client remote.Client, media *remote.Media, pos int64) {
	e.guard.Lock()

	var target int64
	switch st := e.st.(type) {
	case *statusDownloading:
		if st.truncateTo != nil {
			target = *st.truncateTo
		} else {
			target = e.size
		}
	case *statusInvalidated:
		e.guard.Unlock()
		return
	default:
		e.guard.Unlock()
		panic("cache: downloader observed impossible status")
	}

	if pos < target {
		e.st = &statusDownloadFailed{}
		e.guard.Unlock()
		e.avail.close()
		logging.Error().Int64("got", pos).Int64("want", target).Int64("rid", int64(e.rid)).Msg("remote stream ended before expected size")
		return
	}

	e.avail.publish(e.size)
	e.finishDownloadLocked(target, client, media)
	e.guard.Unlock()
	e.avail.close()
}

// finishDownloadLocked must be called with guard held and e.st a
// *statusDownloading. It transitions to Ready, or — if a truncate was
// pending — to Dirty with an upload launched immediately.
func (e *entry) finishDownloadLocked(downloadSize int64, client remote.Client, media *remote.Media) {
	st, ok := e.st.(*statusDownloading)
	if !ok {
		panic("cache: finishDownloadLocked with non-Downloading status")
	}
	if st.truncateTo != nil {
		e.transitionToDirtyLocked()
		dst := e.st.(*statusDirty)
		name := media.Name
		e.launchUpload(client, name, dst)
		return
	}
	e.st = &statusReady{}
}

func (e *entry) failDownload(err error) {
	e.guard.Lock()
	if _, ok := e.st.(*statusInvalidated); !ok {
		e.st = &statusDownloadFailed{}
	}
	e.guard.Unlock()
	e.avail.close()
	logging.Error().Err(err).Int64("rid", int64(e.rid)).Msg("download stream failed")
}
