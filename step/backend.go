package step

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/go-artifact-upload/retention"
	"github.com/bitrise-io/go-artifact-upload/storage/awss3"
	"github.com/bitrise-io/go-artifact-upload/storage/b2"
	"github.com/bitrise-io/go-artifact-upload/upload"
)

// Backend is a storage service that can both receive uploads and sweep old artifacts.
type Backend interface {
	upload.Storage
	retention.Store
}

// BackendFactory creates the Backend selected by the config.
type BackendFactory func(config Config, logger log.Logger) (Backend, error)

// DefaultBackendFactory ...
func DefaultBackendFactory(config Config, logger log.Logger) (Backend, error) {
	switch config.Storage {
	case StorageB2:
		return b2.New(b2.Params{
			KeyID: config.KeyID,
			Key:   string(config.Key),
		}, logger), nil
	case StorageS3:
		return awss3.New(awss3.Params{
			Region:          config.S3Region,
			Endpoint:        config.S3Endpoint,
			AccessKeyID:     config.KeyID,
			SecretAccessKey: string(config.Key),
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage: %s", config.Storage)
	}
}

type minimumPartSizer interface {
	MinimumPartSize() int64
}
