// Package archive keeps immutable copies of uploads and exports in object
// storage.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/accreditationplan/internal/gcp"
)

// Archiver stores an object once. Save reports false when the object
// already existed, which is not an error.
type Archiver interface {
	Save(ctx context.Context, object string, data []byte, contentType string) (bool, error)
}

// Object kinds used as the first path segment.
const (
	KindUpload = "uploads"
	KindExport = "exports"
)

// ObjectName builds archive/<kind>/<user>/<UTC timestamp>-<file>.
func ObjectName(kind, userID, fileName string, at time.Time) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if base == "." || base == "/" {
		base = "plan"
	}
	return fmt.Sprintf("archive/%s/%s/%s-%s", kind, userID, at.UTC().Format("20060102T150405Z"), base)
}

// GCSArchiver writes to a Cloud Storage bucket with a does-not-exist
// precondition.
type GCSArchiver struct {
	bucket *storage.BucketHandle
}

func NewGCSArchiver(client *storage.Client, bucket string) *GCSArchiver {
	return &GCSArchiver{bucket: client.Bucket(bucket)}
}

func (a *GCSArchiver) Save(ctx context.Context, object string, data []byte, contentType string) (bool, error) {
	return gcp.SaveToGCSAtomically(ctx, a.bucket, object, data, contentType)
}

// Discard is an Archiver that keeps nothing.
type Discard struct{}

func (Discard) Save(context.Context, string, []byte, string) (bool, error) { return false, nil }
