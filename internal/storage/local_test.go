package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/jorgepascosoto/sql-db-backups/internal/errors"
)

func writeBackup(t *testing.T, dir, database, name string, modTime time.Time) {
	t.Helper()
	dbDir := filepath.Join(dir, database)
	require.NoError(t, os.MkdirAll(dbDir, 0o755))
	path := filepath.Join(dbDir, name)
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0o644))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
}

func TestLocalStore_ListBackups(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeBackup(t, dir, "Orders", "Orders-1.bacpac", base)
	writeBackup(t, dir, "Orders", "Orders-2.BACPAC", base.Add(time.Hour))
	writeBackup(t, dir, "Orders", "notes.txt", base.Add(2*time.Hour))
	writeBackup(t, dir, "Customers", "Customers-1.bacpac", base.Add(30*time.Minute))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stray.bacpac"), []byte("PK"), 0o644))

	backups, err := NewLocalStore(dir).ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 3)

	assert.Equal(t, "Orders/Orders-2.BACPAC", backups[0].Key)
	assert.Equal(t, "Orders", backups[0].Group)
	assert.Equal(t, "Customers/Customers-1.bacpac", backups[1].Key)
	assert.Equal(t, "Customers", backups[1].Group)
	assert.Equal(t, "Orders/Orders-1.bacpac", backups[2].Key)
	assert.Equal(t, int64(2), backups[2].Size)
	assert.True(t, backups[2].LastModified.Equal(base))
}

func TestLocalStore_ListMissingDir(t *testing.T) {
	t.Parallel()

	_, err := NewLocalStore(filepath.Join(t.TempDir(), "missing")).ListBackups(context.Background())
	require.Error(t, err)

	var storageErr *apperrors.StorageError
	assert.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "list", storageErr.Operation)
}

func TestLocalStore_Delete(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeBackup(t, dir, "Orders", "Orders-1.bacpac", time.Now())
	store := NewLocalStore(dir)

	require.NoError(t, store.Delete(context.Background(), "Orders/Orders-1.bacpac"))
	_, err := os.Stat(filepath.Join(dir, "Orders", "Orders-1.bacpac"))
	assert.True(t, os.IsNotExist(err))

	err = store.Delete(context.Background(), "Orders/Orders-1.bacpac")
	var storageErr *apperrors.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "Orders/Orders-1.bacpac", storageErr.Key)
}

func TestLocalStore_RetentionSweep(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"t1", "t2", "t3", "t4"} {
		writeBackup(t, dir, "Orders", "Orders-"+name+".bacpac", base.Add(time.Duration(i)*time.Minute))
	}
	writeBackup(t, dir, "Customers", "Customers-t1.bacpac", base)

	result, err := ApplyRetention(context.Background(), NewLocalStore(dir), RetentionPolicy{Count: 2})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Orders/Orders-t1.bacpac", "Orders/Orders-t2.bacpac"}, result.DeletedKeys)

	left, err := os.ReadDir(filepath.Join(dir, "Orders"))
	require.NoError(t, err)
	assert.Len(t, left, 2)

	_, err = os.Stat(filepath.Join(dir, "Customers", "Customers-t1.bacpac"))
	assert.NoError(t, err)
}
