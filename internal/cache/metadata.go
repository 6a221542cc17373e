package cache

import (
	"context"
	"time"

	"github.com/duo/telegram-fuse/internal/remote"
)

// InodeKind distinguishes the small set of node kinds this data plane
// exposes: symlinks, hard links, and device nodes are out of scope.
type InodeKind int

const (
	InodeFile InodeKind = iota
	InodeDir
)

// Inode is the metadata callbacks' attribute record: the shape the kernel
// filesystem bridge and internal/cache both need to translate between a
// path/ino world and a remote.RID world.
type Inode struct {
	Ino      int64
	ParentIno int64
	Name     string
	Kind     InodeKind
	UID, GID uint32
	Size     int64
	Mtime    time.Time
	RemoteID remote.RID
}

// MetadataStore is the metadata callbacks interface internal/cache depends
// on. internal/metadatastore provides the concrete, persistent
// implementation; internal/cache only ever depends on this interface.
type MetadataStore interface {
	LookupInode(ctx context.Context, parent int64, name string) (*Inode, error)
	GetInode(ctx context.Context, ino int64) (*Inode, error)
	UpdateInodeAttr(ctx context.Context, ino int64, size int64, mtime time.Time) error
	AddInode(ctx context.Context, parent int64, name string, kind InodeKind, uid, gid uint32, rid remote.RID) (*Inode, error)
	DeleteInode(ctx context.Context, ino int64, parent int64, name string) error
}
