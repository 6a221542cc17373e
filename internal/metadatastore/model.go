// Package metadatastore is the concrete, persistent implementation of
// cache.MetadataStore: a single "inodes" table over gorm.io/gorm backed by
// glebarez/sqlite, a pure-Go, cgo-free SQLite driver so the daemon binary
// does not need a cgo toolchain to build.
package metadatastore

import "time"

// inodeRow is the GORM model backing cache.Inode. Parent/name carry a
// unique index so sibling name collisions are caught at the database layer
// instead of requiring an application-side lock.
type inodeRow struct {
	Ino       int64  `gorm:"primaryKey;autoIncrement"`
	ParentIno int64  `gorm:"not null;uniqueIndex:idx_parent_name"`
	Name      string `gorm:"not null;size:255;uniqueIndex:idx_parent_name"`
	Kind      int    `gorm:"not null"`
	UID       uint32 `gorm:"not null"`
	GID       uint32 `gorm:"not null"`
	Size      int64  `gorm:"not null;default:0"`
	Mtime     time.Time
	RemoteID  int64 `gorm:"not null;default:0"`
}

func (inodeRow) TableName() string { return "inodes" }

// rootIno is the well-known inode number of the mount's root directory,
// pre-seeded by Open so LookupInode(rootIno, ...) always has a parent.
const rootIno int64 = 1
