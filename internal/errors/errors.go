// Package errors provides the error taxonomy shared across the module:
// thin wrapping helpers plus the set of sentinel/typed errors the cache and
// FUSE bridge classify against.
package errors

import (
	"errors"
	"fmt"
)

// Wrap, Wrapf, Is, As and New are thin re-exports of the stdlib so call
// sites never import "errors" directly and get one place to change later.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

func Is(err, target error) bool       { return errors.Is(err, target) }
func As(err error, target any) bool   { return errors.As(err, target) }
func New(msg string) error            { return errors.New(msg) }
func Unwrap(err error) error          { return errors.Unwrap(err) }

// Sentinel errors for the user-facing taxonomy. These are matched with
// errors.Is, including through Wrap/Wrapf chains.
var (
	// ErrNotFound: the rid/name/inode does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotADirectory / ErrIsADirectory: operation applied to the wrong kind.
	ErrNotADirectory = errors.New("not a directory")
	ErrIsADirectory  = errors.New("is a directory")
	// ErrDirectoryNotEmpty: rmdir on a non-empty directory.
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	// ErrFileExists: create/mkdir collision.
	ErrFileExists = errors.New("file exists")
	// ErrInvalidated: the cache entry was superseded; distinct from NotFound
	// so callers holding a stale handle fail distinctly.
	ErrInvalidated = errors.New("cache entry invalidated")
	// ErrDownloadFailed: the entry's background download hit a terminal
	// error; the entry must be evicted and reopened to recover.
	ErrDownloadFailed = errors.New("download failed")
	// ErrMediaInvalid: the remote message has no document media, or an
	// unsupported media kind.
	ErrMediaInvalid = errors.New("unsupported or missing media")
	// ErrUnsupported: operation not implemented for this file kind
	// (symlinks, hard links, devices are out of scope).
	ErrUnsupported = errors.New("unsupported file type")
)
