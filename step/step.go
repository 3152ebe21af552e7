// Package step implements the artifact upload step: it archives the configured
// paths and uploads the archive to B2 or S3 compatible storage.
package step

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"

	"github.com/bitrise-io/go-artifact-upload/analytics"
	"github.com/bitrise-io/go-artifact-upload/archive"
	"github.com/bitrise-io/go-artifact-upload/export"
	"github.com/bitrise-io/go-artifact-upload/metrics"
	"github.com/bitrise-io/go-artifact-upload/retention"
	"github.com/bitrise-io/go-artifact-upload/stepconf"
	"github.com/bitrise-io/go-artifact-upload/upload"
)

const (
	UploadTimeOutputKey = "ARTIFACT_UPLOAD_TIME"
	ObjectIDOutputKey   = "ARTIFACT_OBJECT_ID"
	ObjectNameOutputKey = "ARTIFACT_OBJECT_NAME"
	PartCountOutputKey  = "ARTIFACT_PART_COUNT"
)

// Result describes a finished step run.
type Result struct {
	// Skipped is set when no files matched and nothing was uploaded.
	Skipped    bool
	ObjectID   string
	ObjectName string
	Size       int64
	PartCount  int
	UploadTime time.Time
}

// ArtifactUploader ...
type ArtifactUploader struct {
	envRepo           env.Repository
	logger            log.Logger
	pathProvider      pathutil.PathProvider
	pathChecker       pathutil.PathChecker
	dependencyChecker archive.ArchiveDependencyChecker
	backendFactory    BackendFactory
	exporter          export.OutputExporter
	tracker           analytics.UploadTracker
	now               func() time.Time
}

// NewArtifactUploader ...
func NewArtifactUploader(
	envRepo env.Repository,
	logger log.Logger,
	pathProvider pathutil.PathProvider,
	pathChecker pathutil.PathChecker,
	dependencyChecker archive.ArchiveDependencyChecker,
	backendFactory BackendFactory,
	exporter export.OutputExporter,
	tracker analytics.UploadTracker,
) *ArtifactUploader {
	return &ArtifactUploader{
		envRepo:           envRepo,
		logger:            logger,
		pathProvider:      pathProvider,
		pathChecker:       pathChecker,
		dependencyChecker: dependencyChecker,
		backendFactory:    backendFactory,
		exporter:          exporter,
		tracker:           tracker,
		now:               time.Now,
	}
}

// ProcessConfig parses the step inputs from the environment and prints them.
func (a *ArtifactUploader) ProcessConfig() (Config, error) {
	inputs, err := ParseInputs(a.envRepo)
	if err != nil {
		return Config{}, err
	}
	stepconf.Print(inputs)
	a.logger.Println()
	a.logger.EnableDebugLog(inputs.Verbose)

	return ProcessInputs(inputs)
}

// Run archives and uploads the configured paths.
func (a *ArtifactUploader) Run(ctx context.Context, config Config) (Result, error) {
	result, err := a.run(ctx, config)
	if err != nil {
		a.tracker.Failed(config.Storage, err)
	}
	return result, err
}

func (a *ArtifactUploader) run(ctx context.Context, config Config) (Result, error) {
	environment, err := ResolveEnvironment(a.envRepo)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve environment: %w", err)
	}
	a.logger.Debugf("Workspace: %s, run id: %s", environment.Workspace, environment.RunID)

	evaluator := pathEvaluator{logger: a.logger, pathChecker: a.pathChecker}
	paths := evaluator.evaluate(environment.Workspace, config.Paths)
	if len(paths) == 0 || archive.AreAllPathsEmpty(absPaths(environment.Workspace, paths)) {
		return a.handleNoFiles(config)
	}
	a.logger.Printf("Found %d path(s) to archive", len(paths))

	tempDir, err := a.pathProvider.CreateTempDir("artifact-upload")
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			a.logger.Warnf("Failed to remove temp dir: %s", err)
		}
	}()

	a.logger.Println()
	a.logger.Infof("Creating archive...")
	archivePath := filepath.Join(tempDir, fmt.Sprintf("%s.%s", config.Name, config.Archive.Format.Extension()))
	archiveStartTime := time.Now()
	archiver := archive.NewArchiver(a.logger, a.envRepo, a.dependencyChecker)
	if err := archiver.Compress(archivePath, environment.Workspace, paths, config.Archive); err != nil {
		return Result{}, fmt.Errorf("failed to create archive: %w", err)
	}
	archiveTime := time.Since(archiveStartTime).Round(time.Second)
	a.logger.Donef("Archive created in %s", archiveTime)

	fileInfo, err := os.Stat(archivePath)
	if err != nil {
		return Result{}, err
	}
	a.logger.Printf("Archive size: %s", units.HumanSizeWithPrecision(float64(fileInfo.Size()), 3))
	a.logger.Debugf("Archive path: %s", archivePath)

	backend, err := a.backendFactory(config, a.logger)
	if err != nil {
		return Result{}, err
	}
	if err := backend.Authorize(ctx); err != nil {
		return Result{}, fmt.Errorf("failed to authorize with %s: %w", config.Storage, err)
	}
	bucketID, err := backend.ResolveBucket(ctx, config.Bucket)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve bucket %s: %w", config.Bucket, err)
	}
	if err := checkPartSize(backend, config.ChunkSize, fileInfo.Size()); err != nil {
		return Result{}, err
	}

	var observer *metrics.PrometheusObserver
	if config.MetricsFile != "" {
		observer, err = metrics.NewPrometheusObserver()
		if err != nil {
			return Result{}, err
		}
		defer func() {
			if err := observer.WriteTextfile(config.MetricsFile); err != nil {
				a.logger.Warnf("Failed to write metrics file: %s", err)
			}
		}()
	}

	objectName := fmt.Sprintf("%s/%s-%s.%s", config.Name, environment.RunID, config.Name, config.Archive.Format.Extension())

	a.logger.Println()
	a.logger.Infof("Uploading archive to %s as %s...", config.Bucket, objectName)
	uploadStartTime := time.Now()
	uploadResult, stats, err := a.upload(ctx, backend, config, observer, archivePath, fileInfo.Size(), bucketID, objectName)
	if err != nil {
		return Result{}, fmt.Errorf("upload failed: %w", err)
	}
	uploadTime := time.Since(uploadStartTime).Round(time.Second)
	a.logger.Donef("Archive uploaded in %s (%d part(s))", uploadTime, uploadResult.PartCount)
	a.logger.Debugf("Peak in-flight bytes: %s", units.BytesSize(float64(uploadResult.PeakInFlightBytes)))

	report := a.sweep(ctx, backend, config, bucketID, objectName)

	a.tracker.Finished(analytics.UploadEvent{
		Storage:        config.Storage,
		ArchiveFormat:  string(config.Archive.Format),
		ArchiveSize:    fileInfo.Size(),
		PartCount:      uploadResult.PartCount,
		Multipart:      uploadResult.Multipart,
		RetryCount:     int(stats.RetryCount()),
		ArchiveTime:    archiveTime,
		UploadTime:     uploadTime,
		RetentionDays:  config.RetentionDays,
		DeletedObjects: report.Deleted,
	})

	return Result{
		ObjectID:   uploadResult.ObjectID,
		ObjectName: uploadResult.ObjectName,
		Size:       uploadResult.Size,
		PartCount:  uploadResult.PartCount,
		UploadTime: a.now(),
	}, nil
}

func (a *ArtifactUploader) handleNoFiles(config Config) (Result, error) {
	message := fmt.Sprintf("No files were found with the provided path: %v. No artifacts will be uploaded.", config.Paths)
	switch config.IfNoFilesFound {
	case IfNoFilesFoundError:
		return Result{}, fmt.Errorf("%w: %v", archive.ErrNoFilesFound, config.Paths)
	case IfNoFilesFoundIgnore:
		a.logger.Infof("%s", message)
	default:
		a.logger.Warnf("%s", message)
	}
	return Result{Skipped: true}, nil
}

func (a *ArtifactUploader) upload(
	ctx context.Context,
	backend Backend,
	config Config,
	observer *metrics.PrometheusObserver,
	archivePath string,
	size int64,
	bucketID, objectName string,
) (upload.Result, *upload.Stats, error) {
	uploadConfig := upload.DefaultConfig()
	uploadConfig.ChunkSize = config.ChunkSize
	uploadConfig.MemoryLimit = config.MemoryLimit
	uploadConfig.Retry.MaxAttempts = config.TransientRetryLimit
	uploadConfig.Progress = a.logProgress
	if observer != nil {
		uploadConfig.Observer = observer
	}

	uploader, err := upload.NewUploader(backend, uploadConfig, a.logger)
	if err != nil {
		return upload.Result{}, nil, err
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return upload.Result{}, nil, err
	}
	defer file.Close() //nolint:errcheck

	result, err := uploader.Upload(ctx, file, size, bucketID, objectName)
	return result, uploader.Stats(), err
}

func (a *ArtifactUploader) logProgress(p upload.Progress) {
	a.logger.Printf("Uploaded %d/%d parts (%s / %s)",
		p.PartsProcessed, p.PartsTotal,
		units.HumanSizeWithPrecision(float64(p.BytesProcessed), 3),
		units.HumanSizeWithPrecision(float64(p.BytesTotal), 3))
}

func (a *ArtifactUploader) sweep(ctx context.Context, store retention.Store, config Config, bucketID, keep string) retention.Report {
	if config.RetentionDays <= 0 {
		return retention.Report{}
	}

	a.logger.Println()
	a.logger.Infof("Removing artifacts older than %d day(s)...", config.RetentionDays)
	report, err := retention.NewSweeper(store, a.logger).Sweep(ctx, bucketID, config.Name+"/", config.RetentionDays, keep)
	if err != nil {
		a.logger.Warnf("Retention sweep failed: %s", err)
		return report
	}
	a.logger.Donef("Removed %d of %d artifact(s)", report.Deleted, report.Listed)
	return report
}

// Export exposes the result as step outputs. Skipped runs export nothing.
func (a *ArtifactUploader) Export(result Result) error {
	if result.Skipped {
		return nil
	}
	return export.ExportOutputs(a.exporter, map[string]string{
		UploadTimeOutputKey: result.UploadTime.UTC().Format(time.RFC3339),
		ObjectIDOutputKey:   result.ObjectID,
		ObjectNameOutputKey: result.ObjectName,
		PartCountOutputKey:  strconv.Itoa(result.PartCount),
	})
}

func checkPartSize(backend Backend, chunkSize, size int64) error {
	sizer, ok := backend.(minimumPartSizer)
	if !ok || size <= chunkSize {
		return nil
	}
	if minimum := sizer.MinimumPartSize(); chunkSize < minimum {
		return fmt.Errorf("chunk size %s is smaller than the minimum part size of the storage (%s)",
			units.BytesSize(float64(chunkSize)), units.BytesSize(float64(minimum)))
	}
	return nil
}
