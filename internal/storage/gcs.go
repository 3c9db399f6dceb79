/**
 * Google Cloud Storage client
 *
 * Uploads result documents with a does-not-exist precondition so a
 * redelivered message never overwrites an earlier upload, and reads the
 * PDFs that intake messages reference with gs:// URIs.
 */

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	apperrors "github.com/adverant/nexus/pdf-intake-worker/internal/errors"
	"github.com/adverant/nexus/pdf-intake-worker/internal/logging"
)

// GCSClient handles object storage operations
type GCSClient struct {
	client *storage.Client
	bucket string
	prefix string
	logger *logging.Logger
}

// NewGCSClient creates a client for bucket using application default
// credentials. bucket may be empty when the client is only used to read
// gs:// references.
func NewGCSClient(ctx context.Context, bucket, prefix string) (*GCSClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSClient{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logging.NewLogger("GCSClient"),
	}, nil
}

// ObjectName returns the object name for a result file under the prefix
func (g *GCSClient) ObjectName(name string) string {
	if g.prefix == "" {
		return name
	}
	return path.Join(g.prefix, name)
}

// Upload writes data to <prefix>/<name> unless the object already exists.
// It returns the gs:// URI of the object in both cases.
func (g *GCSClient) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if g.bucket == "" {
		return "", fmt.Errorf("no bucket configured")
	}
	objectName := g.ObjectName(name)
	uri := fmt.Sprintf("gs://%s/%s", g.bucket, objectName)

	writer := g.client.Bucket(g.bucket).Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = "application/json; charset=utf-8"

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		if preconditionFailed(err) {
			g.logger.Info("Object already exists, skipping upload", "object", uri)
			return uri, nil
		}
		return "", fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		if preconditionFailed(err) {
			g.logger.Info("Object already exists, skipping upload", "object", uri)
			return uri, nil
		}
		return "", fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return uri, nil
}

// ReadObject downloads the object a gs:// URI points to. A missing object
// or bucket is reported as RESOURCE_MISSING.
func (g *GCSClient) ReadObject(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseGSURI(uri)
	if err != nil {
		return nil, err
	}

	reader, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return nil, apperrors.NewResourceMissingError("", uri, err)
		}
		return nil, fmt.Errorf("failed to open %s: %w", uri, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}
	return data, nil
}

// Close closes the underlying client
func (g *GCSClient) Close() error {
	return g.client.Close()
}

// ParseGSURI splits gs://bucket/object into its parts
func ParseGSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", apperrors.NewInvalidInputError(fmt.Sprintf("not a gs:// uri: %q", uri))
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", apperrors.NewInvalidInputError(fmt.Sprintf("gs:// uri needs a bucket and an object: %q", uri))
	}
	return bucket, object, nil
}

// IsGSURI reports whether ref is a gs:// reference
func IsGSURI(ref string) bool {
	return strings.HasPrefix(ref, "gs://")
}

func preconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
