package awss3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/retry"

	"github.com/bitrise-io/go-artifact-upload/upload"
)

const contentType = "application/octet-stream"

var _ upload.Storage = (*Backend)(nil)

// ResolveBucket checks that the bucket exists. S3 buckets are addressed by name.
func (b *Backend) ResolveBucket(ctx context.Context, name string) (string, error) {
	err := retry.Times(numControlRetries).Wait(b.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
		if err != nil {
			var apiError smithy.APIError
			if errors.As(err, &apiError) {
				switch apiError.(type) {
				case *types.NotFound:
					return fmt.Errorf("bucket not found: %s", name), true
				}
			}
			return wrapError("head bucket", err), false
		}
		return nil, true
	})
	if err != nil {
		return "", err
	}
	return name, nil
}

// StartMultipart creates a multipart upload.
func (b *Backend) StartMultipart(ctx context.Context, bucketID, objectName string) (upload.Session, error) {
	out, err := b.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(bucketID),
		Key:         aws.String(objectName),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return upload.Session{}, wrapError("create multipart upload", err)
	}

	return upload.Session{ID: aws.ToString(out.UploadId), BucketID: bucketID, ObjectName: objectName}, nil
}

// GetUploadTarget presigns an UploadPart request.
func (b *Backend) GetUploadTarget(ctx context.Context, session upload.Session, partNumber int) (upload.UploadTarget, error) {
	req, err := b.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(session.BucketID),
		Key:        aws.String(session.ObjectName),
		UploadId:   aws.String(session.ID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(presignExpiry))
	if err != nil {
		return upload.UploadTarget{}, fmt.Errorf("presign part %d: %w", partNumber, err)
	}

	headers := map[string]string{}
	for k, v := range req.SignedHeader {
		// host is set from the URL
		if http.CanonicalHeaderKey(k) == "Host" || len(v) == 0 {
			continue
		}
		headers[k] = v[0]
	}

	return upload.UploadTarget{Method: req.Method, URL: req.URL, Headers: headers}, nil
}

// UploadPart sends the part to the presigned URL.
func (b *Backend) UploadPart(ctx context.Context, target upload.UploadTarget, partNumber int, data []byte) (upload.PartReceipt, error) {
	req, err := http.NewRequestWithContext(ctx, target.Method, target.URL, bytes.NewReader(data))
	if err != nil {
		return upload.PartReceipt{}, fmt.Errorf("create request: %w", err)
	}
	for k, v := range target.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = int64(len(data))

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return upload.PartReceipt{}, fmt.Errorf("upload part %d: %w", partNumber, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			b.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return upload.PartReceipt{}, unwrapXMLError("upload part", resp)
	}

	etag := resp.Header.Get("ETag")
	if etag == "" {
		return upload.PartReceipt{}, fmt.Errorf("no ETag in response for part %d", partNumber)
	}
	return upload.PartReceipt{ETag: etag}, nil
}

// FinishMultipart completes the multipart upload with the parts in order.
func (b *Backend) FinishMultipart(ctx context.Context, session upload.Session, parts []upload.PartResult) (string, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(int32(p.PartNumber)),
		}
	}

	out, err := b.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(session.BucketID),
		Key:             aws.String(session.ObjectName),
		UploadId:        aws.String(session.ID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: completed},
	})
	if err != nil {
		return "", wrapError("complete multipart upload", err)
	}
	return objectID(session.ObjectName, out.VersionId), nil
}

// DirectUpload puts the object in a single request.
func (b *Backend) DirectUpload(ctx context.Context, bucketID, objectName string, data []byte, digest string) (string, error) {
	checksum, err := hex.DecodeString(digest)
	if err != nil {
		return "", fmt.Errorf("decode digest: %w", err)
	}

	uploader := manager.NewUploader(b.client, func(u *manager.Uploader) {
		u.Concurrency = 1
		u.PartSize = max(int64(len(data))+1, manager.MinUploadPartSize)
	})

	out, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Body:          bytes.NewReader(data),
		Bucket:        aws.String(bucketID),
		Key:           aws.String(objectName),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		ChecksumSHA1:  aws.String(base64.StdEncoding.EncodeToString(checksum)),
	})
	if err != nil {
		return "", wrapError("put object", err)
	}
	return objectID(objectName, out.VersionID), nil
}

func objectID(key string, versionID *string) string {
	if v := aws.ToString(versionID); v != "" {
		return v
	}
	return key
}

type xmlError struct {
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

func unwrapXMLError(operation string, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: HTTP %d: read error body: %w", operation, resp.StatusCode, err)
	}

	statusErr := &upload.StatusError{Operation: operation, StatusCode: resp.StatusCode, Message: string(body)}

	var parsed xmlError
	if xml.Unmarshal(body, &parsed) == nil && parsed.Code != "" {
		statusErr.Code = parsed.Code
		statusErr.Message = parsed.Message
	}
	return statusErr
}
