// Package remote declares the capability interface the cache depends on.
// Concrete remote types never appear in internal/cache; internal/telegram
// implements Client against a real MTProto session, and
// internal/remote/remotetest provides the in-memory fake the cache's
// tests use instead.
package remote

import (
	"context"
	"io"
)

// RID is the remote message identifier: a channel message id, stable
// across restarts, reassigned only when the message is recreated.
type RID int64

// MediaKind distinguishes the media payload of a message.
type MediaKind int

const (
	// MediaNone: a text-only message, the "empty" file placeholder.
	MediaNone MediaKind = iota
	// MediaDocument: a file attachment the cache can download/upload.
	MediaDocument
	// MediaUnsupported: any other media kind (photo, voice, etc.) the
	// data plane does not expose as a file; opening one fails with
	// MediaInvalid.
	MediaUnsupported
)

// Media describes one message's attachment. Handle is an opaque value a
// concrete Client implementation may stash here at GetMessagesByID time
// (e.g. the MTProto document's id/access-hash/file-reference) and read
// back in its own IterDownload; internal/cache never looks at it.
type Media struct {
	Kind   MediaKind
	Name   string
	Size   int64
	Handle any
}

// Message is the subset of a remote channel message the cache needs.
type Message struct {
	ID    RID
	Text  string
	Media *Media // nil for a pure-text message
}

// InputMessage is the payload for SendMessage/EditMessage.
type InputMessage struct {
	Text string
	File *Uploaded // nil to send/edit text only
}

// Uploaded is the handle returned by UploadStream, referencing content
// already staged on the remote side and ready to attach to a message.
type Uploaded struct {
	FileRef any // opaque; interpreted only by the Client implementation
	Name    string
	Size    int64
}

// ChunkIter streams a document's bytes without seeking — the remote's only
// download primitive is a streaming full-object download. Next returns
// (nil, io.EOF) once exhausted.
type ChunkIter interface {
	Next(ctx context.Context) ([]byte, error)
}

// Client is the remote object protocol surface the cache consumes. Every
// method call is a single logical remote round trip (or stream) —
// batching, retry and rate limiting are the implementation's concern, not
// the cache's.
type Client interface {
	// GetMessagesByID returns one result per requested id, in order; a nil
	// entry means the message no longer exists.
	GetMessagesByID(ctx context.Context, rids []RID) ([]*Message, error)
	// IterDownload begins streaming media's content from the beginning.
	IterDownload(ctx context.Context, media *Media) (ChunkIter, error)
	// UploadStream uploads size bytes read from r under name, returning a
	// handle usable as an InputMessage.File.
	UploadStream(ctx context.Context, r io.Reader, size int64, name string) (*Uploaded, error)
	// EditMessage replaces rid's content with in.
	EditMessage(ctx context.Context, rid RID, in InputMessage) error
	// SendMessage posts a new message and returns it (with its assigned id).
	SendMessage(ctx context.Context, in InputMessage) (*Message, error)
	// DeleteMessages deletes the given messages; partial failure is
	// tolerated by the caller, which ignores remote errors on delete.
	DeleteMessages(ctx context.Context, rids []RID) error
}
