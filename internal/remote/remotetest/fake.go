// Package remotetest provides an in-memory remote.Client for exercising
// internal/cache without a network.
package remotetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/duo/telegram-fuse/internal/remote"
)

// ChunkStep is one yield (or error) from a scripted ChunkIter.
type ChunkStep struct {
	Data []byte
	Err  error
}

// ScriptedIter replays a fixed sequence of ChunkStep values. When gated is
// true, each Next call blocks until a matching Advance call, letting a test
// pace a download chunk-by-chunk to exercise available-prefix waiters
// deterministically.
type ScriptedIter struct {
	mu    sync.Mutex
	steps []ChunkStep
	idx   int
	gated bool
	gate  chan struct{}
}

// NewChunkIter returns an iterator that yields every step immediately.
func NewChunkIter(steps []ChunkStep) *ScriptedIter {
	return &ScriptedIter{steps: steps}
}

// NewGatedChunkIter returns an iterator that only yields a step once
// Advance has been called for it.
func NewGatedChunkIter(steps []ChunkStep) *ScriptedIter {
	return &ScriptedIter{steps: steps, gated: true, gate: make(chan struct{})}
}

// Advance releases the next gated step. No-op for non-gated iterators.
func (s *ScriptedIter) Advance() {
	if !s.gated {
		return
	}
	s.gate <- struct{}{}
}

func (s *ScriptedIter) Next(ctx context.Context) ([]byte, error) {
	if s.gated {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx >= len(s.steps) {
		return nil, io.EOF
	}
	step := s.steps[s.idx]
	s.idx++
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Data, nil
}

// chunkIterFromBytes splits content into chunkSize pieces, the default
// shape for a message whose download was not explicitly scripted.
func chunkIterFromBytes(content []byte, chunkSize int) *ScriptedIter {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	var steps []ChunkStep
	for off := 0; off < len(content); off += chunkSize {
		end := off + chunkSize
		if end > len(content) {
			end = len(content)
		}
		steps = append(steps, ChunkStep{Data: content[off:end]})
	}
	return &ScriptedIter{steps: steps}
}

// EditCall records one EditMessage invocation.
type EditCall struct {
	RID  remote.RID
	Text string
	Size int64
}

// SendCall records one SendMessage invocation.
type SendCall struct {
	Text string
	Size int64
}

// Fake is a scriptable, goroutine-safe remote.Client.
type Fake struct {
	mu          sync.Mutex
	messages    map[remote.RID]*remote.Message
	iterFactory map[remote.RID]func() remote.ChunkIter
	content     map[remote.RID][]byte
	nextID      remote.RID

	Edits        []EditCall
	Sends        []SendCall
	Deletes      [][]remote.RID
	GetCallCount int

	UploadErr error
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		messages:    make(map[remote.RID]*remote.Message),
		iterFactory: make(map[remote.RID]func() remote.ChunkIter),
		content:     make(map[remote.RID][]byte),
		nextID:      1,
	}
}

// PutTextMessage registers an id with empty/text-only media: the "empty,
// text placeholder, no media" case.
func (f *Fake) PutTextMessage(rid remote.RID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[rid] = &remote.Message{ID: rid, Text: text}
}

// PutDocument registers an id with document media whose full content is
// content, downloaded in chunkSize-sized pieces unless ScriptDownload
// overrides it.
func (f *Fake) PutDocument(rid remote.RID, name string, content []byte, chunkSize int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[rid] = &remote.Message{
		ID:   rid,
		Text: name,
		Media: &remote.Media{
			Kind: remote.MediaDocument,
			Name: name,
			Size: int64(len(content)),
		},
	}
	f.content[rid] = content
	cs := chunkSize
	f.iterFactory[rid] = func() remote.ChunkIter { return chunkIterFromBytes(f.content[rid], cs) }
}

// PutUnsupported registers an id whose media is a kind the data plane
// cannot expose as a file; opening it fails with MediaInvalid.
func (f *Fake) PutUnsupported(rid remote.RID, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[rid] = &remote.Message{
		ID:   rid,
		Text: text,
		Media: &remote.Media{
			Kind: remote.MediaUnsupported,
		},
	}
}

// ScriptDownload overrides the chunk iterator for downloads of rid. The
// factory stays registered: every later IterDownload of rid calls it again,
// until an EditMessage/SendMessage or DeleteMessages of rid replaces or
// removes it. IterDownload finds rid by the identity of the *remote.Media
// that GetMessagesByID returned for it.
func (f *Fake) ScriptDownload(rid remote.RID, factory func() remote.ChunkIter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.iterFactory[rid] = factory
}

// Content returns rid's current bytes: those of its last successful
// EditMessage/SendMessage, else those registered by PutDocument, else nil.
func (f *Fake) Content(rid remote.RID) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content[rid]
}

func (f *Fake) GetMessagesByID(ctx context.Context, rids []remote.RID) ([]*remote.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetCallCount++
	out := make([]*remote.Message, len(rids))
	for i, rid := range rids {
		if m, ok := f.messages[rid]; ok {
			cp := *m
			out[i] = &cp
		}
	}
	return out, nil
}

func (f *Fake) IterDownload(ctx context.Context, media *remote.Media) (remote.ChunkIter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for rid, m := range f.messages {
		if m.Media == media {
			if factory, ok := f.iterFactory[rid]; ok {
				return factory(), nil
			}
		}
	}
	return chunkIterFromBytes(nil, 0), nil
}

func (f *Fake) UploadStream(ctx context.Context, r io.Reader, size int64, name string) (*remote.Uploaded, error) {
	if f.UploadErr != nil {
		return nil, f.UploadErr
	}
	buf, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) != size {
		return nil, fmt.Errorf("remotetest: short upload, want %d got %d", size, len(buf))
	}
	return &remote.Uploaded{FileRef: bytes.Clone(buf), Name: name, Size: size}, nil
}

func (f *Fake) EditMessage(ctx context.Context, rid remote.RID, in remote.InputMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.messages[rid]
	if !ok {
		return fmt.Errorf("remotetest: edit of unknown message %d", rid)
	}
	content := uploadedBytes(in.File)
	f.content[rid] = content
	m.Text = in.Text
	m.Media = &remote.Media{Kind: remote.MediaDocument, Name: in.Text, Size: int64(len(content))}
	f.iterFactory[rid] = func() remote.ChunkIter { return chunkIterFromBytes(f.content[rid], 0) }

	f.Edits = append(f.Edits, EditCall{RID: rid, Text: in.Text, Size: int64(len(content))})
	return nil
}

func (f *Fake) SendMessage(ctx context.Context, in remote.InputMessage) (*remote.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	rid := f.nextID
	f.nextID++
	content := uploadedBytes(in.File)
	f.content[rid] = content
	msg := &remote.Message{
		ID:   rid,
		Text: in.Text,
		Media: &remote.Media{
			Kind: remote.MediaDocument,
			Name: in.Text,
			Size: int64(len(content)),
		},
	}
	f.messages[rid] = msg
	f.iterFactory[rid] = func() remote.ChunkIter { return chunkIterFromBytes(f.content[rid], 0) }

	f.Sends = append(f.Sends, SendCall{Text: in.Text, Size: int64(len(content))})
	cp := *msg
	return &cp, nil
}

func (f *Fake) DeleteMessages(ctx context.Context, rids []remote.RID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rid := range rids {
		delete(f.messages, rid)
		delete(f.content, rid)
		delete(f.iterFactory, rid)
	}
	f.Deletes = append(f.Deletes, append([]remote.RID(nil), rids...))
	return nil
}

func uploadedBytes(u *remote.Uploaded) []byte {
	if u == nil {
		return nil
	}
	b, _ := u.FileRef.([]byte)
	return b
}
