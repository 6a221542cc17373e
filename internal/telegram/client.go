// Package telegram is the concrete remote.Client adapter: it translates
// the cache's capability interface onto github.com/gotd/td's MTProto API,
// always against the authenticated user's own "Saved Messages" chat —
// every cached file is a message this adapter's own account sent itself.
package telegram

import (
	"context"
	"fmt"
	"io"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	cerrors "github.com/duo/telegram-fuse/internal/errors"
	"github.com/duo/telegram-fuse/internal/logging"
	"github.com/duo/telegram-fuse/internal/remote"
)

// Config is the subset of internal/config.Config this adapter needs.
type Config struct {
	AppID       int
	AppHash     string
	SessionPath string
}

// Client wraps an authenticated telegram.Client. It must be started by
// Run before any remote.Client method is used.
type Client struct {
	cfg    Config
	client *telegram.Client
	api    *tg.Client
	sender *message.Sender
}

// New constructs a Client using a file-backed session store, scoped to
// persisting credentials rather than cache content.
func New(cfg Config) *Client {
	tc := telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: cfg.SessionPath},
	})
	return &Client{
		cfg:    cfg,
		client: tc,
		api:    tc.API(),
		sender: message.NewSender(tc.API()),
	}
}

// Run blocks running the MTProto connection, invoking ready once the
// connection is established and authorized (cmd/savedfs wires this to the
// FUSE mount goroutine).
func (c *Client) Run(ctx context.Context, ready func(context.Context) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("telegram: auth status: %w", err)
		}
		if !status.Authorized {
			return cerrors.New("telegram: session not authorized; run the login flow first")
		}
		return ready(ctx)
	})
}

func (c *Client) peer() tg.InputPeerClass { return &tg.InputPeerSelf{} }

func (c *Client) GetMessagesByID(ctx context.Context, rids []remote.RID) ([]*remote.Message, error) {
	ids := make([]tg.InputMessageClass, len(rids))
	for i, rid := range rids {
		ids[i] = &tg.InputMessageID{ID: int(rid)}
	}

	res, err := c.api.MessagesGetMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("telegram: get_messages: %w", err)
	}

	var raw []tg.MessageClass
	switch m := res.(type) {
	case *tg.MessagesMessages:
		raw = m.Messages
	case *tg.MessagesMessagesSlice:
		raw = m.Messages
	case *tg.MessagesChannelMessages:
		raw = m.Messages
	default:
		return nil, cerrors.New("telegram: unexpected messages response type")
	}

	byID := make(map[int]*remote.Message, len(raw))
	for _, rm := range raw {
		msg, ok := rm.(*tg.Message)
		if !ok {
			continue
		}
		byID[msg.ID] = toRemoteMessage(msg)
	}

	out := make([]*remote.Message, len(rids))
	for i, rid := range rids {
		out[i] = byID[int(rid)]
	}
	return out, nil
}

func toRemoteMessage(m *tg.Message) *remote.Message {
	out := &remote.Message{ID: remote.RID(m.ID), Text: m.Message}
	doc, ok := documentFromMedia(m.Media)
	if !ok {
		return out
	}
	if doc == nil {
		out.Media = &remote.Media{Kind: remote.MediaUnsupported}
		return out
	}
	out.Media = &remote.Media{
		Kind:   remote.MediaDocument,
		Name:   documentName(doc),
		Size:   doc.Size,
		Handle: doc,
	}
	return out
}

// documentFromMedia reports ok=false when the message carries no media at
// all (the empty/text-placeholder case); ok=true with a nil *tg.Document
// means media is present but unsupported.
func documentFromMedia(media tg.MessageMediaClass) (*tg.Document, bool) {
	if media == nil {
		return nil, false
	}
	md, ok := media.(*tg.MessageMediaDocument)
	if !ok {
		return nil, true
	}
	doc, ok := md.Document.AsNotEmpty()
	if !ok {
		return nil, true
	}
	return doc, true
}

func documentName(doc *tg.Document) string {
	for _, attr := range doc.Attributes {
		if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
			return fn.FileName
		}
	}
	return fmt.Sprintf("file-%d", doc.ID)
}

// docChunkIter adapts gotd's downloader.Downloader onto remote.ChunkIter by
// pulling through an io.Pipe: the downloader writes via io.Writer, the
// cache's chunk adapter reads via sized Next calls.
type docChunkIter struct {
	pr   *io.PipeReader
	done chan error
	buf  []byte
}

func (c *Client) IterDownload(ctx context.Context, media *remote.Media) (remote.ChunkIter, error) {
	doc, ok := media.Handle.(*tg.Document)
	if !ok {
		return nil, cerrors.New("telegram: iter_download requires a document handle")
	}
	loc := &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := downloader.NewDownloader().Download(c.api, loc).Stream(ctx, pw)
		pw.CloseWithError(err)
		done <- err
	}()

	return &docChunkIter{pr: pr, done: done, buf: make([]byte, 512*1024)}, nil
}

func (it *docChunkIter) Next(ctx context.Context) ([]byte, error) {
	n, err := it.pr.Read(it.buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, it.buf[:n])
		if err == io.EOF {
			return chunk, nil
		}
		return chunk, err
	}
	return nil, err
}

func (c *Client) UploadStream(ctx context.Context, r io.Reader, size int64, name string) (*remote.Uploaded, error) {
	u := uploader.NewUploader(c.api)
	upload, err := u.Upload(ctx, uploader.NewUpload(name, r, size))
	if err != nil {
		return nil, fmt.Errorf("telegram: upload_stream: %w", err)
	}
	return &remote.Uploaded{FileRef: upload, Name: name, Size: size}, nil
}

func (c *Client) EditMessage(ctx context.Context, rid remote.RID, in remote.InputMessage) error {
	doc, ok := in.File.FileRef.(tg.InputFileClass)
	if !ok {
		return cerrors.New("telegram: edit_message requires an uploaded file reference")
	}
	_, err := c.sender.To(c.peer()).Media(ctx, int(rid), message.UploadedDocument(doc).Filename(in.Text))
	if err != nil {
		logging.Error().Err(err).Int64("rid", int64(rid)).Msg("edit_message failed")
		return fmt.Errorf("telegram: edit_message: %w", err)
	}
	return nil
}

func (c *Client) SendMessage(ctx context.Context, in remote.InputMessage) (*remote.Message, error) {
	doc, ok := in.File.FileRef.(tg.InputFileClass)
	if !ok {
		return nil, cerrors.New("telegram: send_message requires an uploaded file reference")
	}
	_, err := c.sender.To(c.peer()).Media(ctx, message.UploadedDocument(doc).Filename(in.Text))
	if err != nil {
		return nil, fmt.Errorf("telegram: send_message: %w", err)
	}
	// gotd's Sender does not return the new message id directly; resolve it
	// via the most recent self-chat history entry.
	return c.resolveLastSent(ctx)
}

func (c *Client) resolveLastSent(ctx context.Context) (*remote.Message, error) {
	hist, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  c.peer(),
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: resolve sent message: %w", err)
	}
	var raw []tg.MessageClass
	switch h := hist.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	}
	if len(raw) == 0 {
		return nil, cerrors.New("telegram: send_message: no history entry found")
	}
	msg, ok := raw[0].(*tg.Message)
	if !ok {
		return nil, cerrors.New("telegram: send_message: unexpected history entry type")
	}
	return toRemoteMessage(msg), nil
}

func (c *Client) DeleteMessages(ctx context.Context, rids []remote.RID) error {
	ids := make([]int, len(rids))
	for i, rid := range rids {
		ids[i] = int(rid)
	}
	_, err := c.api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{ID: ids, Revoke: true})
	if err != nil {
		logging.Warn().Err(err).Msg("delete_messages failed; ignored, the entry is already evicted locally")
	}
	return nil
}
