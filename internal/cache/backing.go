package cache

import (
	"io"
	"os"
)

// backingFile is one private temp file per cache entry, offering
// absolute-offset I/O and set-length. It is never exposed outside a held
// entry guard.
type backingFile struct {
	f *os.File
}

// newBackingFile creates a private temp file in dir and unlinks it
// immediately so it has no visible name; the open file descriptor keeps
// its content alive until Close. There is no durable local state at this
// layer — a crash loses unflushed content, same as any page cache.
func newBackingFile(dir string) (*backingFile, error) {
	f, err := os.CreateTemp(dir, "tgfs-cache-*")
	if err != nil {
		return nil, err
	}
	_ = os.Remove(f.Name())
	return &backingFile{f: f}, nil
}

// ReadRange reads exactly size bytes starting at offset. Bytes past what
// was ever written but before the file's current length read back as
// zero, so a grow-by-set-length or a downloaded-then-truncated tail both
// read back as logically zero-filled.
func (b *backingFile) ReadRange(offset, size int64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(b.f, offset, size), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteAt writes p at offset, extending the file if necessary.
func (b *backingFile) WriteAt(p []byte, offset int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return b.f.WriteAt(p, offset)
}

// Truncate grows or shrinks the file to size.
func (b *backingFile) Truncate(size int64) error {
	return b.f.Truncate(size)
}

func (b *backingFile) Close() error {
	return b.f.Close()
}
