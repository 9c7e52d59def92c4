package storage

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jorgepascosoto/sql-db-backups/internal/errors"
)

// LocalStore is a backups directory holding one sub-directory of .bacpac
// files per database. Keys are <database>/<file> relative to the root.
type LocalStore struct {
	dir string
	ext string
}

func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir, ext: ".bacpac"}
}

func (s *LocalStore) Name() string {
	return "local"
}

func (s *LocalStore) Dir() string {
	return s.dir
}

// ListBackups uses the modification time as the age of a file; creation
// time is not available on every platform.
func (s *LocalStore) ListBackups(ctx context.Context) ([]BackupObject, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.NewStorageError("list", s.dir, "", err)
	}

	var backups []BackupObject
	for _, dbDir := range entries {
		if !dbDir.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		files, err := os.ReadDir(filepath.Join(s.dir, dbDir.Name()))
		if err != nil {
			return nil, errors.NewStorageError("list", s.dir, dbDir.Name(), err)
		}

		for _, f := range files {
			if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), s.ext) {
				continue
			}
			info, err := f.Info()
			if err != nil {
				// removed while listing
				continue
			}
			backups = append(backups, BackupObject{
				Key:          path.Join(dbDir.Name(), f.Name()),
				Group:        dbDir.Name(),
				Size:         info.Size(),
				LastModified: info.ModTime(),
			})
		}
	}

	sortNewestFirst(backups)
	return backups, nil
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(filepath.Join(s.dir, filepath.FromSlash(key))); err != nil {
		return errors.NewStorageError("delete", s.dir, key, err)
	}
	return nil
}
