package analytics

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// TrackerFactory creates a tracker carrying the given base properties.
type TrackerFactory func(log.Logger, ...analytics.Properties) analytics.Tracker

const (
	StepExecutionIDEnvKey = "BITRISE_STEP_EXECUTION_ID"
	StepExecutionID       = "step_execution_id"

	uploadFinishedEvent = "step_artifact_upload_finished"
	uploadFailedEvent   = "step_artifact_upload_failed"
)

// NewStepTracker ...
func NewStepTracker(repository env.Repository, logger log.Logger, trackerFactory TrackerFactory) (analytics.Tracker, error) {
	stepExecutionID := repository.Get(StepExecutionIDEnvKey)
	if stepExecutionID == "" {
		return nil, fmt.Errorf("no step execution ID found")
	}
	return trackerFactory(logger, analytics.Properties{StepExecutionID: stepExecutionID}), nil
}

// NewDefaultStepTracker ...
func NewDefaultStepTracker(repository env.Repository, logger log.Logger) (analytics.Tracker, error) {
	return NewStepTracker(repository, logger, analytics.NewDefaultTracker)
}

// UploadEvent describes a finished artifact upload.
type UploadEvent struct {
	Storage        string
	ArchiveFormat  string
	ArchiveSize    int64
	PartCount      int
	Multipart      bool
	RetryCount     int
	ArchiveTime    time.Duration
	UploadTime     time.Duration
	RetentionDays  int
	DeletedObjects int
}

// UploadTracker reports artifact upload events.
type UploadTracker struct {
	tracker analytics.Tracker
}

// NewUploadTracker wraps tracker. A nil tracker turns every call into a no-op.
func NewUploadTracker(tracker analytics.Tracker) UploadTracker {
	return UploadTracker{tracker: tracker}
}

// Finished ...
func (t UploadTracker) Finished(event UploadEvent) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue(uploadFinishedEvent, analytics.Properties{
		"storage":           event.Storage,
		"archive_format":    event.ArchiveFormat,
		"archive_size":      event.ArchiveSize,
		"part_count":        event.PartCount,
		"multipart":         event.Multipart,
		"retry_count":       event.RetryCount,
		"archive_time_ms":   event.ArchiveTime.Milliseconds(),
		"upload_time_ms":    event.UploadTime.Milliseconds(),
		"retention_days":    event.RetentionDays,
		"deleted_artifacts": event.DeletedObjects,
	})
}

// Failed ...
func (t UploadTracker) Failed(storage string, err error) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue(uploadFailedEvent, analytics.Properties{
		"storage": storage,
		"error":   err.Error(),
	})
}

// Wait blocks until queued events are sent.
func (t UploadTracker) Wait() {
	if t.tracker == nil {
		return
	}
	t.tracker.Wait()
}
