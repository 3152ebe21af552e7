package b2

import (
	"context"
	"time"

	"github.com/bitrise-io/go-artifact-upload/retention"
)

const maxFileCount = 1000

var _ retention.Store = (*Client)(nil)

// ListObjects lists the file versions under prefix, following nextFileName.
func (c *Client) ListObjects(ctx context.Context, bucketID, prefix string) ([]retention.Object, error) {
	var objects []retention.Object
	request := listFileNamesRequest{BucketID: bucketID, Prefix: prefix, MaxFileCount: maxFileCount}

	for {
		var resp listFileNamesResponse
		if err := c.call(ctx, "b2_list_file_names", request, &resp); err != nil {
			return nil, err
		}

		for _, f := range resp.Files {
			// unfinished large files and hide markers are not artifacts
			if f.Action != "" && f.Action != "upload" {
				continue
			}
			objects = append(objects, retention.Object{
				ID:         f.FileID,
				Name:       f.FileName,
				Size:       f.ContentLength,
				UploadedAt: time.UnixMilli(f.UploadTimestamp),
			})
		}

		if resp.NextFileName == nil || *resp.NextFileName == "" {
			return objects, nil
		}
		request.StartFileName = *resp.NextFileName
	}
}

// DeleteObject deletes a single file version.
func (c *Client) DeleteObject(ctx context.Context, _ string, object retention.Object) error {
	return c.call(ctx, "b2_delete_file_version", deleteFileVersionRequest{FileName: object.Name, FileID: object.ID}, nil)
}
