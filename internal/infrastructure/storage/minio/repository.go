package minio

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/GradeSim/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/GradeSim/pkg/errors"
)

var (
	ErrObjectNotFound = errors.New(errors.ErrCodeNotFound, "object not found")
	ErrInvalidRequest = errors.New(errors.ErrCodeValidation, "invalid request")
)

// ObjectMetadata describes one archived object.
type ObjectMetadata struct {
	ObjectKey    string    `json:"object_key"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	ETag         string    `json:"etag,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// RunArchive stores run artifacts as <run id>/<file> objects.
type RunArchive struct {
	client *MinIOClient
	logger logging.Logger
}

// NewRunArchive wraps client.
func NewRunArchive(client *MinIOClient, log logging.Logger) *RunArchive {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &RunArchive{client: client, logger: log.Named("archive")}
}

// Archive uploads the file at filePath as objectName and returns its s3://
// location.
func (r *RunArchive) Archive(ctx context.Context, objectName, filePath, contentType string) (string, error) {
	if objectName == "" || filePath == "" {
		return "", ErrInvalidRequest.WithDetail("object name and file path are required")
	}
	api, err := r.client.api()
	if err != nil {
		return "", err
	}
	opts := minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"run-id": runIDOf(objectName)},
	}
	info, err := api.FPutObject(ctx, r.client.Bucket(), objectName, filePath, opts)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeStorageError, "upload failed").WithDetail(objectName)
	}
	location := fmt.Sprintf("s3://%s/%s", r.client.Bucket(), info.Key)
	r.logger.Info("artifact archived",
		logging.String("location", location),
		logging.Int64("bytes", info.Size))
	return location, nil
}

// Fetch downloads objectName to filePath.
func (r *RunArchive) Fetch(ctx context.Context, objectName, filePath string) error {
	api, err := r.client.api()
	if err != nil {
		return err
	}
	if err := api.FGetObject(ctx, r.client.Bucket(), objectName, filePath, minio.GetObjectOptions{}); err != nil {
		if isNoSuchKey(err) {
			return ErrObjectNotFound.WithDetail(objectName)
		}
		return errors.Wrap(err, errors.CodeStorageError, "download failed").WithDetail(objectName)
	}
	return nil
}

// Stat returns the metadata of objectName.
func (r *RunArchive) Stat(ctx context.Context, objectName string) (*ObjectMetadata, error) {
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	info, err := api.StatObject(ctx, r.client.Bucket(), objectName, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrObjectNotFound.WithDetail(objectName)
		}
		return nil, errors.Wrap(err, errors.CodeStorageError, "stat failed").WithDetail(objectName)
	}
	return toMetadata(info), nil
}

// List returns the artifacts of runID.  An empty runID lists the bucket.
func (r *RunArchive) List(ctx context.Context, runID string) ([]*ObjectMetadata, error) {
	api, err := r.client.api()
	if err != nil {
		return nil, err
	}
	prefix := ""
	if runID != "" {
		prefix = runID + "/"
	}
	var out []*ObjectMetadata
	for obj := range api.ListObjects(ctx, r.client.Bucket(), minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrap(obj.Err, errors.CodeStorageError, "list failed")
		}
		out = append(out, toMetadata(obj))
	}
	return out, nil
}

// DeleteRun removes every artifact of runID and returns how many were
// removed.
func (r *RunArchive) DeleteRun(ctx context.Context, runID string) (int, error) {
	if runID == "" {
		return 0, ErrInvalidRequest.WithDetail("run id is required")
	}
	objects, err := r.List(ctx, runID)
	if err != nil {
		return 0, err
	}
	api, err := r.client.api()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, obj := range objects {
		if err := api.RemoveObject(ctx, r.client.Bucket(), obj.ObjectKey, minio.RemoveObjectOptions{}); err != nil {
			return removed, errors.Wrap(err, errors.CodeStorageError, "delete failed").WithDetail(obj.ObjectKey)
		}
		removed++
	}
	return removed, nil
}

// PresignedURL returns a time-limited download link for objectName.
func (r *RunArchive) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	api, err := r.client.api()
	if err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = time.Hour
	}
	u, err := api.PresignedGetObject(ctx, r.client.Bucket(), objectName, expiry, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeStorageError, "presign failed").WithDetail(objectName)
	}
	return u.String(), nil
}

func toMetadata(info minio.ObjectInfo) *ObjectMetadata {
	return &ObjectMetadata{
		ObjectKey:    info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}
}

func runIDOf(objectName string) string {
	if dir := path.Dir(objectName); dir != "." {
		return strings.SplitN(dir, "/", 2)[0]
	}
	return ""
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
