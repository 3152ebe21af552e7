// Package upload provides a bounded-memory concurrent multipart upload engine for object storage.
// It streams a source in ordered parts, keeps the bytes held by in-flight parts under a limit,
// retries transient remote failures and finalizes the object once every part is acknowledged.
package upload

import (
	"context"
)

// UploadTarget represents a short-lived credential for uploading a single part.
// A fresh target is requested for every attempt.
type UploadTarget struct {
	Method  string
	URL     string
	Headers map[string]string
}

// Chunk is a contiguous slice of the source owned by the task uploading it.
type Chunk struct {
	PartNumber int
	Data       []byte
}

// Size returns the number of bytes in the chunk.
func (c Chunk) Size() int64 {
	return int64(len(c.Data))
}

// PartReceipt is what the storage service returns for an accepted part.
type PartReceipt struct {
	ETag string
}

// PartResult is the outcome of a successfully uploaded part.
type PartResult struct {
	PartNumber int
	// Digest is the lowercase hex SHA-1 of the part's bytes.
	Digest string
	ETag   string
	Size   int64
}

// Session identifies a remote multipart upload.
type Session struct {
	ID         string
	BucketID   string
	ObjectName string
}

// Result is returned by a successful upload.
type Result struct {
	ObjectID          string
	ObjectName        string
	Size              int64
	PartCount         int
	Multipart         bool
	PeakInFlightBytes int64
}

// Progress is reported after every settled part.
type Progress struct {
	PartsProcessed int
	PartsTotal     int
	BytesProcessed int64
	BytesTotal     int64
}

// ProgressFunc receives progress events. It is called from upload goroutines
// and must be safe for concurrent use.
type ProgressFunc func(Progress)

// Storage is the remote object storage API used by the Uploader.
type Storage interface {
	Authorize(ctx context.Context) error
	ResolveBucket(ctx context.Context, name string) (string, error)
	StartMultipart(ctx context.Context, bucketID, objectName string) (Session, error)
	GetUploadTarget(ctx context.Context, session Session, partNumber int) (UploadTarget, error)
	UploadPart(ctx context.Context, target UploadTarget, partNumber int, data []byte) (PartReceipt, error)
	FinishMultipart(ctx context.Context, session Session, parts []PartResult) (string, error)
	DirectUpload(ctx context.Context, bucketID, objectName string, data []byte, digest string) (string, error)
}
