package fuseadapter

import (
	"testing"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"

	cerrors "github.com/duo/telegram-fuse/internal/errors"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want fuse.Status
	}{
		{"nil", nil, fuse.OK},
		{"not found", cerrors.ErrNotFound, fuse.ENOENT},
		{"wrapped not found", cerrors.Wrap(cerrors.ErrNotFound, "lookup"), fuse.ENOENT},
		{"not a directory", cerrors.ErrNotADirectory, fuse.ENOTDIR},
		{"is a directory", cerrors.ErrIsADirectory, fuse.EISDIR},
		{"directory not empty", cerrors.ErrDirectoryNotEmpty, fuse.Status(39)}, // ENOTEMPTY
		{"file exists", cerrors.ErrFileExists, fuse.Status(17)},               // EEXIST
		{"invalidated", cerrors.ErrInvalidated, fuse.EPERM},
		{"download failed", cerrors.ErrDownloadFailed, fuse.EIO},
		{"media invalid", cerrors.ErrMediaInvalid, fuse.EIO},
		{"unsupported", cerrors.ErrUnsupported, fuse.EPERM},
		{"unknown error", cerrors.New("boom"), fuse.EIO},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
