package retention

import (
	"context"
	"time"
)

// Object is a stored object version.
type Object struct {
	ID         string
	Name       string
	Size       int64
	UploadedAt time.Time
}

// Store lists and deletes objects in a bucket.
type Store interface {
	ListObjects(ctx context.Context, bucketID, prefix string) ([]Object, error)
	DeleteObject(ctx context.Context, bucketID string, object Object) error
}
