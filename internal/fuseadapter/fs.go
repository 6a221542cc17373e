// Package fuseadapter bridges the kernel's FUSE protocol (via
// github.com/hanwen/go-fuse/v2's low-level fuse.RawFileSystem interface) onto
// internal/cache.Table and internal/metadatastore: translate a FUSE node id
// to an Inode via the metadata store, build fuse.Attr from it, and delegate
// content operations to the cache table. The data plane's invariants live
// in internal/cache; this package only ever does translation and errno
// mapping.
package fuseadapter

import (
	"context"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/duo/telegram-fuse/internal/cache"
	"github.com/duo/telegram-fuse/internal/logging"
)

const timeout = time.Second

// rootIno mirrors internal/metadatastore's seeded root; the kernel always
// addresses the mountpoint itself as FUSE node 1.
const rootIno = 1

// MetadataStore is the subset of internal/metadatastore.Store this bridge
// needs: cache.MetadataStore plus the directory-listing and rename
// operations that live outside internal/cache's scope (rename is
// metadata-only and never touches a cache entry).
type MetadataStore interface {
	cache.MetadataStore
	ListChildren(ctx context.Context, parent int64) ([]*cache.Inode, error)
	RenameInode(ctx context.Context, ino, newParentIno int64, newName string) error
}

// Filesystem implements fuse.RawFileSystem by embedding go-fuse's default
// (ENOSYS-stub) implementation and overriding the subset of operations this
// data plane supports.
type Filesystem struct {
	fuse.RawFileSystem

	cache *cache.Table
	meta  MetadataStore
	uid   uint32
	gid   uint32

	opendirsMu sync.RWMutex
	opendirs   map[uint64][]*cache.Inode
}

// New wires a FUSE bridge over an already-constructed cache table and
// metadata store (cmd/savedfs builds both and passes them here).
func New(cacheTable *cache.Table, meta MetadataStore) *Filesystem {
	return &Filesystem{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		cache:         cacheTable,
		meta:          meta,
		uid:           uint32(os.Getuid()),
		gid:           uint32(os.Getgid()),
		opendirs:      make(map[uint64][]*cache.Inode),
	}
}

func (f *Filesystem) attr(i *cache.Inode) fuse.Attr {
	mode := uint32(fuse.S_IFREG | 0644)
	if i.Kind == cache.InodeDir {
		mode = fuse.S_IFDIR | 0755
	}
	mtime := uint64(i.Mtime.Unix())
	return fuse.Attr{
		Ino:   uint64(i.Ino),
		Size:  uint64(i.Size),
		Mode:  mode,
		Nlink: 1,
		Mtime: mtime,
		Atime: mtime,
		Ctime: mtime,
		Owner: fuse.Owner{Uid: i.UID, Gid: i.GID},
	}
}

// Lookup resolves name inside the directory named by header.NodeId.
func (f *Filesystem) Lookup(_ <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	ctx := context.Background()
	child, err := f.meta.LookupInode(ctx, int64(header.NodeId), name)
	if err != nil {
		return Classify(err)
	}
	out.NodeId = uint64(child.Ino)
	out.Attr = f.attr(child)
	out.SetAttrTimeout(timeout)
	out.SetEntryTimeout(timeout)
	return fuse.OK
}

// GetAttr returns in.NodeId's stat.
func (f *Filesystem) GetAttr(_ <-chan struct{}, in *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	ctx := context.Background()
	inode, err := f.meta.GetInode(ctx, int64(in.NodeId))
	if err != nil {
		return Classify(err)
	}
	out.Attr = f.attr(inode)
	out.SetTimeout(timeout)
	return fuse.OK
}

// SetAttr handles utimens and truncate. chmod/chown are accepted but
// ignored: this mount is effectively single-user, so there is no
// permission model to enforce.
func (f *Filesystem) SetAttr(_ <-chan struct{}, in *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	ctx := context.Background()
	inode, err := f.meta.GetInode(ctx, int64(in.NodeId))
	if err != nil {
		return Classify(err)
	}

	size := inode.Size
	mtime := inode.Mtime
	if s, valid := in.GetSize(); valid {
		if inode.Kind != cache.InodeFile {
			return fuse.EISDIR
		}
		if err := f.cache.Truncate(ctx, inode.RemoteID, int64(s), inode.Name); err != nil {
			return Classify(err)
		}
		size = int64(s)
	}
	if mt, valid := in.GetMTime(); valid {
		mtime = mt
	}
	if err := f.meta.UpdateInodeAttr(ctx, inode.Ino, size, mtime); err != nil {
		return Classify(err)
	}

	inode.Size = size
	inode.Mtime = mtime
	out.Attr = f.attr(inode)
	out.SetTimeout(timeout)
	return fuse.OK
}

// Mkdir creates a directory inode. Directories are metadata-only and never
// touch internal/cache: the remote store has no folder concept, so there is
// nothing to upload or download for a directory.
func (f *Filesystem) Mkdir(_ <-chan struct{}, in *fuse.MkdirIn, name string, out *fuse.EntryOut) fuse.Status {
	ctx := context.Background()
	if _, err := f.meta.LookupInode(ctx, int64(in.NodeId), name); err == nil {
		return fuse.Status(syscall.EEXIST)
	}
	dir, err := f.meta.AddInode(ctx, int64(in.NodeId), name, cache.InodeDir, f.uid, f.gid, 0)
	if err != nil {
		return Classify(err)
	}
	out.NodeId = uint64(dir.Ino)
	out.Attr = f.attr(dir)
	out.SetAttrTimeout(timeout)
	out.SetEntryTimeout(timeout)
	return fuse.OK
}

// Rmdir removes an empty directory.
func (f *Filesystem) Rmdir(_ <-chan struct{}, in *fuse.InHeader, name string) fuse.Status {
	ctx := context.Background()
	child, err := f.meta.LookupInode(ctx, int64(in.NodeId), name)
	if err != nil {
		return Classify(err)
	}
	if child.Kind != cache.InodeDir {
		return fuse.ENOTDIR
	}
	children, err := f.meta.ListChildren(ctx, child.Ino)
	if err != nil {
		return Classify(err)
	}
	if len(children) > 0 {
		return fuse.Status(syscall.ENOTEMPTY)
	}
	if err := f.meta.DeleteInode(ctx, child.Ino, int64(in.NodeId), name); err != nil {
		return Classify(err)
	}
	return fuse.OK
}

// Unlink removes a file, both its metadata row and its remote message.
func (f *Filesystem) Unlink(_ <-chan struct{}, in *fuse.InHeader, name string) fuse.Status {
	ctx := context.Background()
	child, err := f.meta.LookupInode(ctx, int64(in.NodeId), name)
	if err != nil {
		return Classify(err)
	}
	if child.Kind != cache.InodeFile {
		return fuse.EISDIR
	}
	if err := f.meta.DeleteInode(ctx, child.Ino, int64(in.NodeId), name); err != nil {
		return Classify(err)
	}
	if err := f.cache.Delete(ctx, child.RemoteID); err != nil {
		logging.Warn().Err(err).Int64("ino", child.Ino).Msg("cache delete failed during unlink")
	}
	return fuse.OK
}

// Rename is metadata-only: it never touches an internal/cache entry, so an
// in-flight read/write keyed by remote.RID is unaffected by the rename.
func (f *Filesystem) Rename(_ <-chan struct{}, in *fuse.RenameIn, name string, newName string) fuse.Status {
	ctx := context.Background()
	child, err := f.meta.LookupInode(ctx, int64(in.NodeId), name)
	if err != nil {
		return Classify(err)
	}
	if err := f.meta.RenameInode(ctx, child.Ino, int64(in.Newdir), newName); err != nil {
		return Classify(err)
	}
	return fuse.OK
}

// Create creates (or, per "man creat", truncates) name inside the directory
// named by in.NodeId and opens it.
func (f *Filesystem) Create(_ <-chan struct{}, in *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	ctx := context.Background()

	if existing, err := f.meta.LookupInode(ctx, int64(in.NodeId), name); err == nil {
		if existing.Kind != cache.InodeFile {
			return fuse.EISDIR
		}
		if err := f.cache.Truncate(ctx, existing.RemoteID, 0, name); err != nil {
			return Classify(err)
		}
		now := time.Now()
		if err := f.meta.UpdateInodeAttr(ctx, existing.Ino, 0, now); err != nil {
			return Classify(err)
		}
		existing.Size = 0
		existing.Mtime = now
		out.NodeId = uint64(existing.Ino)
		out.Attr = f.attr(existing)
		out.SetAttrTimeout(timeout)
		out.SetEntryTimeout(timeout)
		return fuse.OK
	}

	rid, err := f.cache.OpenCreateEmpty(ctx, name)
	if err != nil {
		return Classify(err)
	}
	inode, err := f.meta.AddInode(ctx, int64(in.NodeId), name, cache.InodeFile, f.uid, f.gid, rid)
	if err != nil {
		return Classify(err)
	}
	out.NodeId = uint64(inode.Ino)
	out.Attr = f.attr(inode)
	out.SetAttrTimeout(timeout)
	out.SetEntryTimeout(timeout)
	return fuse.OK
}

// Open admits in.NodeId's cache entry (a no-op if it is already cached); it
// does not wait for the entry's download.
func (f *Filesystem) Open(_ <-chan struct{}, in *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	ctx := context.Background()
	inode, err := f.meta.GetInode(ctx, int64(in.NodeId))
	if err != nil {
		return Classify(err)
	}
	if inode.Kind != cache.InodeFile {
		return fuse.EISDIR
	}
	if err := f.cache.Open(ctx, inode.RemoteID); err != nil {
		return Classify(err)
	}
	return fuse.OK
}

// Read serves a suspend-and-serve read via the cache: if the byte range
// isn't resident yet, the call blocks until the in-flight download covers it.
func (f *Filesystem) Read(_ <-chan struct{}, in *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	ctx := context.Background()
	inode, err := f.meta.GetInode(ctx, int64(in.NodeId))
	if err != nil {
		return fuse.ReadResultData(nil), Classify(err)
	}
	data, err := f.cache.Read(ctx, inode.RemoteID, int64(in.Offset), int(in.Size))
	if err != nil {
		return fuse.ReadResultData(nil), Classify(err)
	}
	return fuse.ReadResultData(data), fuse.OK
}

// Write serves a suspend-and-serve write; the upload is deferred to Flush.
func (f *Filesystem) Write(_ <-chan struct{}, in *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	ctx := context.Background()
	inode, err := f.meta.GetInode(ctx, int64(in.NodeId))
	if err != nil {
		return 0, Classify(err)
	}
	newSize, mtime, err := f.cache.Write(ctx, inode.RemoteID, int64(in.Offset), data)
	if err != nil {
		return 0, Classify(err)
	}
	if err := f.meta.UpdateInodeAttr(ctx, inode.Ino, newSize, time.Unix(mtime, 0)); err != nil {
		logging.Warn().Err(err).Int64("ino", inode.Ino).Msg("metadata update failed after write")
	}
	return uint32(len(data)), fuse.OK
}

// Fsync waits for a pending upload to commit (or fail) remotely: the caller
// asked specifically for durability, not just for the write to be in flight.
func (f *Filesystem) Fsync(_ <-chan struct{}, in *fuse.FsyncIn) fuse.Status {
	ctx := context.Background()
	inode, err := f.meta.GetInode(ctx, int64(in.NodeId))
	if err != nil {
		return Classify(err)
	}
	if inode.Kind != cache.InodeFile {
		return fuse.OK
	}
	if err := f.cache.Flush(ctx, inode.RemoteID, inode.Name, true); err != nil {
		return Classify(err)
	}
	return fuse.OK
}

// Release schedules a pending upload without waiting for it: the cache entry
// outlives any single file descriptor (it is keyed by remote.RID, not by
// FUSE file handle), so a closing descriptor only needs the write launched,
// not committed — a caller that needs durability calls fsync first.
func (f *Filesystem) Release(_ <-chan struct{}, in *fuse.ReleaseIn) {
	ctx := context.Background()
	inode, err := f.meta.GetInode(ctx, int64(in.NodeId))
	if err != nil {
		return
	}
	if inode.Kind != cache.InodeFile {
		return
	}
	if err := f.cache.Flush(ctx, inode.RemoteID, inode.Name, false); err != nil {
		logging.Warn().Err(err).Int64("ino", inode.Ino).Msg("flush failed during release")
	}
}

// OpenDir snapshots the directory's children for a subsequent
// ReadDir/ReadDirPlus pass.
func (f *Filesystem) OpenDir(_ <-chan struct{}, in *fuse.OpenIn, _ *fuse.OpenOut) fuse.Status {
	ctx := context.Background()
	dir, err := f.meta.GetInode(ctx, int64(in.NodeId))
	if err != nil {
		return Classify(err)
	}
	if dir.Kind != cache.InodeDir {
		return fuse.ENOTDIR
	}
	children, err := f.meta.ListChildren(ctx, dir.Ino)
	if err != nil {
		return Classify(err)
	}

	entries := make([]*cache.Inode, 0, len(children)+2)
	entries = append(entries, dir, &cache.Inode{Ino: dir.ParentIno})
	entries = append(entries, children...)

	f.opendirsMu.Lock()
	f.opendirs[in.NodeId] = entries
	f.opendirsMu.Unlock()
	return fuse.OK
}

// ReleaseDir drops a directory's snapshot.
func (f *Filesystem) ReleaseDir(in *fuse.ReleaseIn) {
	f.opendirsMu.Lock()
	delete(f.opendirs, in.NodeId)
	f.opendirsMu.Unlock()
}

func (f *Filesystem) readDirEntries(in *fuse.ReadIn) ([]*cache.Inode, fuse.Status) {
	f.opendirsMu.RLock()
	entries, ok := f.opendirs[in.NodeId]
	f.opendirsMu.RUnlock()
	if !ok {
		// readdir can arrive before the matching opendir; force one.
		if status := f.OpenDir(nil, &fuse.OpenIn{InHeader: in.InHeader}, nil); status != fuse.OK {
			return nil, status
		}
		f.opendirsMu.RLock()
		entries, ok = f.opendirs[in.NodeId]
		f.opendirsMu.RUnlock()
		if !ok {
			return nil, fuse.EBADF
		}
	}
	if in.Offset >= uint64(len(entries)) {
		return nil, fuse.OK
	}
	return entries, fuse.OK
}

func dirEntryName(offset uint64, inode *cache.Inode) string {
	switch offset {
	case 0:
		return "."
	case 1:
		return ".."
	default:
		return inode.Name
	}
}

// ReadDirPlus reads one directory entry and its looked-up attrs.
func (f *Filesystem) ReadDirPlus(_ <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries, status := f.readDirEntries(in)
	if status != fuse.OK || entries == nil || in.Offset >= uint64(len(entries)) {
		return status
	}
	inode := entries[in.Offset]
	mode := uint32(fuse.S_IFREG)
	if inode.Kind == cache.InodeDir || inode.Ino == entries[0].ParentIno {
		mode = fuse.S_IFDIR
	}
	entry := fuse.DirEntry{Ino: uint64(inode.Ino), Mode: mode, Name: dirEntryName(in.Offset, inode)}
	entryOut := out.AddDirLookupEntry(entry)
	if entryOut == nil {
		return fuse.OK // buffer full; kernel retries at a higher offset
	}
	entryOut.NodeId = entry.Ino
	entryOut.Attr = f.attr(inode)
	entryOut.SetAttrTimeout(timeout)
	entryOut.SetEntryTimeout(timeout)
	return fuse.OK
}

// ReadDir reads one directory entry without a lookup (rarely invoked; the
// kernel prefers ReadDirPlus).
func (f *Filesystem) ReadDir(_ <-chan struct{}, in *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries, status := f.readDirEntries(in)
	if status != fuse.OK || entries == nil || in.Offset >= uint64(len(entries)) {
		return status
	}
	inode := entries[in.Offset]
	mode := uint32(fuse.S_IFREG)
	if inode.Kind == cache.InodeDir || inode.Ino == entries[0].ParentIno {
		mode = fuse.S_IFDIR
	}
	out.AddDirEntry(fuse.DirEntry{Ino: uint64(inode.Ino), Mode: mode, Name: dirEntryName(in.Offset, inode)})
	return fuse.OK
}

// StatFs reports all-zero counters: the remote has no quota or block
// accounting concept to report honestly, so this returns zeros rather than
// inventing a capacity figure.
func (f *Filesystem) StatFs(_ <-chan struct{}, _ *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	out.Bsize = 512
	out.Blocks = 0
	out.Bfree = 0
	out.Bavail = 0
	out.Files = 0
	out.Ffree = 0
	out.NameLen = 256
	return fuse.OK
}
