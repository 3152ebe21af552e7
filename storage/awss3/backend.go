// Package awss3 implements artifact storage on S3 compatible services.
package awss3

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/go-artifact-upload/upload"
)

const (
	numControlRetries = 3
	presignExpiry     = 15 * time.Minute
)

// Params ...
type Params struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// API is the subset of the S3 client used by the Backend.
type API interface {
	manager.UploadAPIClient
	s3.ListObjectsV2APIClient
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Presigner signs part upload requests.
type Presigner interface {
	PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Backend uploads parts with presigned requests so that every attempt gets a fresh signature.
type Backend struct {
	params     Params
	client     API
	presigner  Presigner
	httpClient *http.Client
	logger     log.Logger
	retryWait  time.Duration
}

// New creates a Backend. The S3 client is created by Authorize.
func New(params Params, logger log.Logger) *Backend {
	return &Backend{
		params:     params,
		httpClient: upload.DefaultHTTPClient(),
		logger:     logger,
		retryWait:  5 * time.Second,
	}
}

// NewWithClient creates a Backend on top of an existing client.
func NewWithClient(client API, presigner Presigner, httpClient *http.Client, logger log.Logger) *Backend {
	if httpClient == nil {
		httpClient = upload.DefaultHTTPClient()
	}
	return &Backend{
		client:     client,
		presigner:  presigner,
		httpClient: httpClient,
		logger:     logger,
		retryWait:  5 * time.Second,
	}
}

// Authorize loads the AWS configuration and creates the S3 client.
func (b *Backend) Authorize(ctx context.Context) error {
	if b.client != nil {
		return nil
	}

	cfg, err := loadAWSCredentials(ctx, b.params.Region, b.params.AccessKeyID, b.params.SecretAccessKey, b.logger)
	if err != nil {
		return fmt.Errorf("load aws credentials: %w", err)
	}

	client := s3.NewFromConfig(*cfg, func(o *s3.Options) {
		if b.params.Endpoint != "" {
			b.logger.Debugf("Using custom S3 endpoint: %s", b.params.Endpoint)
			o.BaseEndpoint = aws.String(b.params.Endpoint)
			o.UsePathStyle = true
		}
	})
	b.client = client
	b.presigner = s3.NewPresignClient(client)
	return nil
}

func loadAWSCredentials(
	ctx context.Context,
	region string,
	accessKeyID string,
	secretKey string,
	logger log.Logger,
) (*aws.Config, error) {
	if region == "" {
		return nil, fmt.Errorf("region must not be empty")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if accessKeyID != "" && secretKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretKey, "")))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	return &cfg, nil
}

// wrapError converts S3 API errors into upload.StatusError.
func wrapError(operation string, err error) error {
	statusErr := &upload.StatusError{Operation: operation}

	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		statusErr.StatusCode = respErr.HTTPStatusCode()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		statusErr.Code = apiErr.ErrorCode()
		statusErr.Message = apiErr.ErrorMessage()
	}

	if statusErr.StatusCode == 0 && statusErr.Code == "" {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if statusErr.Message == "" {
		statusErr.Message = err.Error()
	}
	return statusErr
}
