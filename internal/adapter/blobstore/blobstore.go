// Package blobstore implements the object store and the partial result sink
// on Azure Blob Storage.
package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	"github.com/fairyhunter13/cv-screening-pipeline/internal/domain"
)

// Store implements domain.ObjectStore against one storage account. The
// container is chosen per call so the intake and partial containers share a
// client.
type Store struct {
	client *azblob.Client
	logger *slog.Logger
}

// New creates a Store from a connection string. The client is lazy: no
// connection is made until the first call.
func New(connectionString string, logger *slog.Logger) (*Store, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("op=blobstore.New: %w", err)
	}
	return &Store{client: client, logger: logger.With(slog.String("system", "blobstore"))}, nil
}

// EnsureContainers creates the given containers if they do not exist yet.
func (s *Store) EnsureContainers(ctx context.Context, names ...string) error {
	for _, name := range names {
		_, err := s.client.CreateContainer(ctx, name, nil)
		if err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
			return fmt.Errorf("op=blobstore.EnsureContainers: %s: %w", name, err)
		}
	}
	return nil
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", domain.ErrMalformedInput)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: key contains a traversal segment", domain.ErrMalformedInput)
	}
	return nil
}

func (s *Store) Download(ctx context.Context, container, key string) (io.ReadCloser, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrNotFound, container, key)
		}
		return nil, fmt.Errorf("op=blobstore.Download: %s: %w", key, err)
	}
	return resp.Body, nil
}

func (s *Store) Upload(ctx context.Context, container, key string, r io.Reader, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	opts := &azblob.UploadStreamOptions{}
	if contentType != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if _, err := s.client.UploadStream(ctx, container, key, r, opts); err != nil {
		return fmt.Errorf("op=blobstore.Upload: %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, container, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if _, err := s.client.DeleteBlob(ctx, container, key, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return fmt.Errorf("%w: %s/%s", domain.ErrNotFound, container, key)
		}
		return fmt.Errorf("op=blobstore.Delete: %s: %w", key, err)
	}
	return nil
}

// Move relocates an object within a container by re-uploading it under the
// destination key and deleting the source. Not atomic: a crash between the
// two steps leaves both copies, which re-delivery handles as already-gone
// once the source is eventually removed.
func (s *Store) Move(ctx context.Context, container, srcKey, dstKey string) error {
	if err := validateKey(srcKey); err != nil {
		return err
	}
	if err := validateKey(dstKey); err != nil {
		return err
	}
	rc, err := s.Download(ctx, container, srcKey)
	if err != nil {
		return err
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("op=blobstore.Move: read %s: %w", srcKey, err)
	}
	if err := s.Upload(ctx, container, dstKey, bytes.NewReader(body), ""); err != nil {
		return err
	}
	if err := s.Delete(ctx, container, srcKey); err != nil {
		s.logger.Warn("move left source behind", slog.String("src", srcKey), slog.String("dst", dstKey), slog.Any("error", err))
		return err
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, container, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	blobClient := s.client.
		ServiceClient().
		NewContainerClient(container).
		NewBlobClient(key)
	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("op=blobstore.Exists: %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) List(ctx context.Context, container, prefix string) ([]domain.ObjectInfo, error) {
	var opts *azblob.ListBlobsFlatOptions
	if prefix != "" {
		opts = &azblob.ListBlobsFlatOptions{Prefix: &prefix}
	}
	pager := s.client.NewListBlobsFlatPager(container, opts)

	var infos []domain.ObjectInfo
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("op=blobstore.List: %s: %w", container, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			info := domain.ObjectInfo{Key: *item.Name}
			if item.Properties != nil && item.Properties.ContentLength != nil {
				info.Size = *item.Properties.ContentLength
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// detailMetadataLimit bounds the error detail stored as blob metadata so a
// pathological upstream message cannot blow past the metadata size cap.
const detailMetadataLimit = 8000

// PartialSink persists raw analysis snapshots for failed runs so the paid
// completion output survives the source item's disposal.
type PartialSink struct {
	store     *Store
	container string
}

// NewPartialSink creates a sink writing into the given container.
func NewPartialSink(store *Store, container string) *PartialSink {
	return &PartialSink{store: store, container: container}
}

// Save writes the record as JSON under {rank}_{candidate}_{stage}.json with
// the failed stage and (truncated) detail duplicated into blob metadata for
// operator triage without downloading the body.
func (p *PartialSink) Save(ctx context.Context, rec domain.PartialResultRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("op=blobstore.PartialSink.Save: marshal: %w", err)
	}

	key := fmt.Sprintf("%s_%s_%s.json", rec.RankID, rec.CandidateID, rec.FailedStage)
	contentType := "application/json"
	detail := domain.TruncateDetail(rec.FailureKind, detailMetadataLimit)
	opts := &azblob.UploadStreamOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
		Metadata: map[string]*string{
			"failed_step":   &rec.FailedStage,
			"error_details": &detail,
		},
	}
	if _, err := p.store.client.UploadStream(ctx, p.container, key, bytes.NewReader(body), opts); err != nil {
		return fmt.Errorf("op=blobstore.PartialSink.Save: %s: %w", key, err)
	}
	return nil
}
