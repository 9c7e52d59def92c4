package storage

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"
)

// BackupObject is one backup file in a store. Group is the database the
// backup belongs to; retention counts are applied per group.
type BackupObject struct {
	Key          string
	Group        string
	Size         int64
	LastModified time.Time
}

// Store is a location holding backups that the retention sweep can list and
// prune.
type Store interface {
	Name() string
	ListBackups(ctx context.Context) ([]BackupObject, error)
	Delete(ctx context.Context, key string) error
}

// Uploader copies a local backup to a store under key.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

func sortNewestFirst(backups []BackupObject) {
	sort.SliceStable(backups, func(i, j int) bool {
		return backups[i].LastModified.After(backups[j].LastModified)
	})
}

// groupOf returns the database of a <database>/<file> name. Names at the
// root or nested deeper do not belong to any group.
func groupOf(name string) (string, bool) {
	group, file, ok := strings.Cut(name, "/")
	if !ok || group == "" || file == "" || strings.Contains(file, "/") {
		return "", false
	}
	return group, true
}
