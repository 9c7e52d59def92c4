package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	appcfg "github.com/jorgepascosoto/sql-db-backups/internal/config"
	"github.com/jorgepascosoto/sql-db-backups/internal/errors"
)

// AzureStore is a blob container holding one virtual directory of backups
// per database. Keys are blob names, <database>/<file>.
type AzureStore struct {
	client    *azblob.Client
	container string
}

func NewAzureStore(cfg *appcfg.Config) (*AzureStore, error) {
	cred, err := azblob.NewSharedKeyCredential(cfg.StorageAccount, cfg.StorageAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared key credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(cfg.StorageServiceURL()+"/", cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &AzureStore{
		client:    client,
		container: cfg.BackupsContainer,
	}, nil
}

func (s *AzureStore) Name() string {
	return "azure"
}

func (s *AzureStore) Container() string {
	return s.container
}

// ListBackups returns the blobs sitting directly inside a first-level
// virtual directory. Blobs at the container root or nested deeper are not
// backups of any database and are left alone.
func (s *AzureStore) ListBackups(ctx context.Context) ([]BackupObject, error) {
	var backups []BackupObject

	pager := s.client.NewListBlobsFlatPager(s.container, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errors.NewStorageError("list", s.container, "", err)
		}

		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			group, ok := groupOf(*item.Name)
			if !ok {
				continue
			}

			obj := BackupObject{Key: *item.Name, Group: group}
			if props := item.Properties; props != nil {
				if props.LastModified != nil {
					obj.LastModified = *props.LastModified
				}
				if props.ContentLength != nil {
					obj.Size = *props.ContentLength
				}
			}
			backups = append(backups, obj)
		}
	}

	sortNewestFirst(backups)
	return backups, nil
}

func (s *AzureStore) Delete(ctx context.Context, key string) error {
	if _, err := s.client.DeleteBlob(ctx, s.container, key, nil); err != nil {
		return errors.NewStorageError("delete", s.container, key, err)
	}
	return nil
}

func (s *AzureStore) Upload(ctx context.Context, key string, body io.Reader) error {
	if _, err := s.client.UploadStream(ctx, s.container, strings.TrimPrefix(key, "/"), body, nil); err != nil {
		return errors.NewStorageError("upload", s.container, key, err)
	}
	return nil
}
