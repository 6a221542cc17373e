package cache

import (
	"context"
	"io"

	"github.com/duo/telegram-fuse/internal/remote"
	"github.com/duo/telegram-fuse/internal/retry"
)

// retryingClient is the chunk I/O adapter: it wraps a remote.Client so that
// establishing a download stream, and an entire upload attempt, get the
// configured retry.Config's exponential backoff applied before their result
// ever reaches a cache entry. Retry stops at the adapter boundary — once a
// download stream is open, the downloader itself never retries a chunk; a
// mid-stream failure is a terminal DownloadFailed, recovered only by
// eviction and reopen.
type retryingClient struct {
	next remote.Client
	cfg  retry.Config
}

// NewRetryingClient wraps next so its IterDownload/UploadStream/
// GetMessagesByID/EditMessage/SendMessage/DeleteMessages calls retry
// transient failures per cfg before the cache ever observes them.
func NewRetryingClient(next remote.Client, cfg retry.Config) remote.Client {
	return &retryingClient{next: next, cfg: cfg}
}

func (c *retryingClient) GetMessagesByID(ctx context.Context, rids []remote.RID) ([]*remote.Message, error) {
	var out []*remote.Message
	err := retry.Do(ctx, func() error {
		var err error
		out, err = c.next.GetMessagesByID(ctx, rids)
		return err
	}, c.cfg)
	return out, err
}

// IterDownload retries only the handshake that opens the stream; the
// returned iterator is handed to the caller as-is and is not itself
// retried chunk-by-chunk.
func (c *retryingClient) IterDownload(ctx context.Context, media *remote.Media) (remote.ChunkIter, error) {
	var iter remote.ChunkIter
	err := retry.Do(ctx, func() error {
		var err error
		iter, err = c.next.IterDownload(ctx, media)
		return err
	}, c.cfg)
	return iter, err
}

// UploadStream retries the whole upload attempt on failure. A retried
// attempt needs the reader rewound to its start; if r is an io.Seeker
// (the upload launcher always passes a bytes.Reader over the backing
// file's contents) it is rewound before each retry, otherwise a failed
// attempt is not retried a second time.
func (c *retryingClient) UploadStream(ctx context.Context, r io.Reader, size int64, name string) (*remote.Uploaded, error) {
	seeker, seekable := r.(io.Seeker)
	cfg := c.cfg
	if !seekable {
		cfg.MaxRetries = 0
	}

	var uploaded *remote.Uploaded
	err := retry.Do(ctx, func() error {
		if seekable {
			if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
				return serr
			}
		}
		var err error
		uploaded, err = c.next.UploadStream(ctx, r, size, name)
		return err
	}, cfg)
	return uploaded, err
}

func (c *retryingClient) EditMessage(ctx context.Context, rid remote.RID, in remote.InputMessage) error {
	return retry.Do(ctx, func() error {
		return c.next.EditMessage(ctx, rid, in)
	}, c.cfg)
}

func (c *retryingClient) SendMessage(ctx context.Context, in remote.InputMessage) (*remote.Message, error) {
	var msg *remote.Message
	err := retry.Do(ctx, func() error {
		var err error
		msg, err = c.next.SendMessage(ctx, in)
		return err
	}, c.cfg)
	return msg, err
}

func (c *retryingClient) DeleteMessages(ctx context.Context, rids []remote.RID) error {
	return retry.Do(ctx, func() error {
		return c.next.DeleteMessages(ctx, rids)
	}, c.cfg)
}
