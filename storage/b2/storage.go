package b2

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-artifact-upload/upload"
)

const autoContentType = "b2/x-auto"

var _ upload.Storage = (*Client)(nil)

// ResolveBucket returns the id of the named bucket.
func (c *Client) ResolveBucket(ctx context.Context, name string) (string, error) {
	auth, err := c.account()
	if err != nil {
		return "", err
	}
	// keys restricted to a bucket may not be allowed to list buckets
	if auth.Allowed.BucketID != "" && auth.Allowed.BucketName == name {
		return auth.Allowed.BucketID, nil
	}

	var resp listBucketsResponse
	if err := c.call(ctx, "b2_list_buckets", listBucketsRequest{AccountID: auth.AccountID, BucketName: name}, &resp); err != nil {
		return "", err
	}

	for _, b := range resp.Buckets {
		if b.BucketName == name {
			return b.BucketID, nil
		}
	}
	return "", fmt.Errorf("bucket not found: %s", name)
}

// StartMultipart starts a large file.
func (c *Client) StartMultipart(ctx context.Context, bucketID, objectName string) (upload.Session, error) {
	var resp fileResponse
	err := c.call(ctx, "b2_start_large_file", startLargeFileRequest{
		BucketID:    bucketID,
		FileName:    objectName,
		ContentType: autoContentType,
	}, &resp)
	if err != nil {
		return upload.Session{}, err
	}

	return upload.Session{ID: resp.FileID, BucketID: bucketID, ObjectName: objectName}, nil
}

// GetUploadTarget requests a new part upload URL for the large file.
func (c *Client) GetUploadTarget(ctx context.Context, session upload.Session, _ int) (upload.UploadTarget, error) {
	var resp uploadURLResponse
	if err := c.call(ctx, "b2_get_upload_part_url", getUploadPartURLRequest{FileID: session.ID}, &resp); err != nil {
		return upload.UploadTarget{}, err
	}

	return upload.UploadTarget{
		Method:  http.MethodPost,
		URL:     resp.UploadURL,
		Headers: map[string]string{"Authorization": resp.AuthorizationToken},
	}, nil
}

// UploadPart sends one part of a large file.
func (c *Client) UploadPart(ctx context.Context, target upload.UploadTarget, partNumber int, data []byte) (upload.PartReceipt, error) {
	headers := copyHeaders(target.Headers)
	headers["X-Bz-Part-Number"] = strconv.Itoa(partNumber)
	headers["X-Bz-Content-Sha1"] = upload.SHA1Hasher{}.Digest(data)
	target.Headers = headers

	var resp struct {
		ContentSha1 string `json:"contentSha1"`
	}
	if err := c.send(ctx, "b2_upload_part", target, data, &resp); err != nil {
		return upload.PartReceipt{}, err
	}
	return upload.PartReceipt{ETag: resp.ContentSha1}, nil
}

// FinishMultipart assembles the large file from its parts.
func (c *Client) FinishMultipart(ctx context.Context, session upload.Session, parts []upload.PartResult) (string, error) {
	digests := make([]string, len(parts))
	for i, p := range parts {
		digests[i] = p.Digest
	}

	var resp fileResponse
	if err := c.call(ctx, "b2_finish_large_file", finishLargeFileRequest{FileID: session.ID, PartSha1Array: digests}, &resp); err != nil {
		return "", err
	}
	return resp.FileID, nil
}

// DirectUpload uploads a whole file in one request.
func (c *Client) DirectUpload(ctx context.Context, bucketID, objectName string, data []byte, digest string) (string, error) {
	var uploadURL uploadURLResponse
	if err := c.call(ctx, "b2_get_upload_url", getUploadURLRequest{BucketID: bucketID}, &uploadURL); err != nil {
		return "", err
	}

	target := upload.UploadTarget{
		Method: http.MethodPost,
		URL:    uploadURL.UploadURL,
		Headers: map[string]string{
			"Authorization":     uploadURL.AuthorizationToken,
			"X-Bz-File-Name":    encodeFileName(objectName),
			"Content-Type":      autoContentType,
			"X-Bz-Content-Sha1": digest,
		},
	}

	var resp fileResponse
	if err := c.send(ctx, "b2_upload_file", target, data, &resp); err != nil {
		return "", err
	}
	return resp.FileID, nil
}

// encodeFileName percent-encodes every path segment of a file name.
func encodeFileName(name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

func copyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+2)
	for k, v := range headers {
		out[k] = v
	}
	return out
}
