package awss3

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/retry"

	"github.com/bitrise-io/go-artifact-upload/retention"
)

var _ retention.Store = (*Backend)(nil)

// ListObjects lists every object under prefix.
func (b *Backend) ListObjects(ctx context.Context, bucketID, prefix string) ([]retention.Object, error) {
	var objects []retention.Object

	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucketID),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		var page *s3.ListObjectsV2Output
		err := retry.Times(numControlRetries).Wait(b.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
			var err error
			page, err = paginator.NextPage(ctx)
			if err != nil {
				return wrapError("list objects", err), false
			}
			return nil, true
		})
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Contents {
			objects = append(objects, retention.Object{
				ID:         aws.ToString(obj.Key),
				Name:       aws.ToString(obj.Key),
				Size:       aws.ToInt64(obj.Size),
				UploadedAt: aws.ToTime(obj.LastModified),
			})
		}
	}
	return objects, nil
}

// DeleteObject deletes a single object.
func (b *Backend) DeleteObject(ctx context.Context, bucketID string, object retention.Object) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucketID),
		Key:    aws.String(object.Name),
	})
	if err != nil {
		return wrapError("delete object", err)
	}
	return nil
}
