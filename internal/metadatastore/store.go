package metadatastore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/duo/telegram-fuse/internal/cache"
	cerrors "github.com/duo/telegram-fuse/internal/errors"
	"github.com/duo/telegram-fuse/internal/logging"
	"github.com/duo/telegram-fuse/internal/remote"
)

// Store implements cache.MetadataStore over a single SQLite file.
type Store struct {
	db *gorm.DB
}

// Open connects to (creating if absent) the SQLite database at path and
// runs auto-migration, then ensures the root directory inode exists.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, cerrors.New("metadatastore: database path is required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("metadatastore: create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("metadatastore: open database: %w", err)
	}

	if err := db.AutoMigrate(&inodeRow{}); err != nil {
		return nil, fmt.Errorf("metadatastore: migrate: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureRoot() error {
	var row inodeRow
	err := s.db.Where("ino = ?", rootIno).First(&row).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("metadatastore: check root inode: %w", err)
	}
	root := inodeRow{
		Ino:       rootIno,
		ParentIno: rootIno,
		Name:      "",
		Kind:      int(cache.InodeDir),
		Mtime:     time.Now(),
	}
	if err := s.db.Create(&root).Error; err != nil {
		return fmt.Errorf("metadatastore: seed root inode: %w", err)
	}
	return nil
}

func (s *Store) LookupInode(ctx context.Context, parent int64, name string) (*cache.Inode, error) {
	var row inodeRow
	err := s.db.WithContext(ctx).Where("parent_ino = ? AND name = ?", parent, name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToInode(&row), nil
}

func (s *Store) GetInode(ctx context.Context, ino int64) (*cache.Inode, error) {
	var row inodeRow
	err := s.db.WithContext(ctx).Where("ino = ?", ino).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToInode(&row), nil
}

func (s *Store) UpdateInodeAttr(ctx context.Context, ino int64, size int64, mtime time.Time) error {
	res := s.db.WithContext(ctx).Model(&inodeRow{}).Where("ino = ?", ino).
		Updates(map[string]any{"size": size, "mtime": mtime})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return cerrors.ErrNotFound
	}
	return nil
}

func (s *Store) AddInode(ctx context.Context, parent int64, name string, kind cache.InodeKind, uid, gid uint32, rid remote.RID) (*cache.Inode, error) {
	row := inodeRow{
		ParentIno: parent,
		Name:      name,
		Kind:      int(kind),
		UID:       uid,
		GID:       gid,
		Mtime:     time.Now(),
		RemoteID:  int64(rid),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, cerrors.ErrFileExists
		}
		return nil, err
	}
	return rowToInode(&row), nil
}

func (s *Store) DeleteInode(ctx context.Context, ino int64, parent int64, name string) error {
	res := s.db.WithContext(ctx).
		Where("ino = ? AND parent_ino = ? AND name = ?", ino, parent, name).
		Delete(&inodeRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return cerrors.ErrNotFound
	}
	return nil
}

// RenameInode reassigns an inode's parent/name in place. Rename is
// metadata-only: it never touches an internal/cache entry, even across
// directories.
func (s *Store) RenameInode(ctx context.Context, ino int64, newParent int64, newName string) error {
	res := s.db.WithContext(ctx).Model(&inodeRow{}).Where("ino = ?", ino).
		Updates(map[string]any{"parent_ino": newParent, "name": newName})
	if res.Error != nil {
		if isUniqueConstraintError(res.Error) {
			return cerrors.ErrFileExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return cerrors.ErrNotFound
	}
	return nil
}

// ListChildren supports readdir. The root is its own parent and is never
// listed as its own child.
func (s *Store) ListChildren(ctx context.Context, parent int64) ([]*cache.Inode, error) {
	var rows []inodeRow
	if err := s.db.WithContext(ctx).Where("parent_ino = ? AND ino <> ?", parent, parent).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*cache.Inode, len(rows))
	for i := range rows {
		out[i] = rowToInode(&rows[i])
	}
	return out, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		logging.Warn().Err(err).Msg("error closing metadata database")
		return err
	}
	return nil
}

func rowToInode(r *inodeRow) *cache.Inode {
	return &cache.Inode{
		Ino:       r.Ino,
		ParentIno: r.ParentIno,
		Name:      r.Name,
		Kind:      cache.InodeKind(r.Kind),
		UID:       r.UID,
		GID:       r.GID,
		Size:      r.Size,
		Mtime:     r.Mtime,
		RemoteID:  remote.RID(r.RemoteID),
	}
}

// isUniqueConstraintError detects SQLite's unique-index violation message;
// gorm does not expose a driver-independent sentinel for it.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed")
}
