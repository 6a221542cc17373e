package fuseadapter

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"

	cerrors "github.com/duo/telegram-fuse/internal/errors"
)

// Classify maps internal/cache and internal/metadatastore's error taxonomy
// onto a POSIX errno: NotFound -> ENOENT, NotADirectory -> ENOTDIR,
// IsADirectory -> EISDIR,
// DirectoryNotEmpty -> ENOTEMPTY, FileExists -> EEXIST, Invalidated ->
// EPERM, DownloadFailed/MediaInvalid/a bare remote or local I/O error ->
// EIO, Unsupported -> EPERM. Matched with errors.Is so wrapped errors still
// classify correctly.
func Classify(err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case cerrors.Is(err, cerrors.ErrNotFound):
		return fuse.ENOENT
	case cerrors.Is(err, cerrors.ErrNotADirectory):
		return fuse.ENOTDIR
	case cerrors.Is(err, cerrors.ErrIsADirectory):
		return fuse.EISDIR
	case cerrors.Is(err, cerrors.ErrDirectoryNotEmpty):
		return fuse.Status(syscall.ENOTEMPTY)
	case cerrors.Is(err, cerrors.ErrFileExists):
		return fuse.Status(syscall.EEXIST)
	case cerrors.Is(err, cerrors.ErrInvalidated):
		return fuse.EPERM
	case cerrors.Is(err, cerrors.ErrDownloadFailed):
		return fuse.EIO
	case cerrors.Is(err, cerrors.ErrMediaInvalid):
		return fuse.EIO
	case cerrors.Is(err, cerrors.ErrUnsupported):
		return fuse.EPERM
	default:
		return fuse.EIO
	}
}
