package upload

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// PartUploader uploads a single part, requesting a fresh upload target for every attempt.
type PartUploader struct {
	storage  Storage
	policy   RetryPolicy
	hasher   Hasher
	observer Observer
	stats    *Stats
	logger   log.Logger
}

// NewPartUploader creates a PartUploader.
func NewPartUploader(storage Storage, config Config, logger log.Logger) *PartUploader {
	hasher := config.Hasher
	if hasher == nil {
		hasher = SHA1Hasher{}
	}
	observer := config.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &PartUploader{
		storage:  storage,
		policy:   config.Retry,
		hasher:   hasher,
		observer: observer,
		stats:    NewStats(),
		logger:   logger,
	}
}

// Stats returns the part upload statistics.
func (p *PartUploader) Stats() *Stats {
	return p.stats
}

// Upload sends the chunk and returns its result. Transient failures are retried
// from target acquisition with the same bytes; other failures are returned as is.
func (p *PartUploader) Upload(ctx context.Context, session Session, chunk Chunk) (PartResult, error) {
	var receipt PartReceipt
	start := time.Now()

	err := p.policy.run(ctx, func(ctx context.Context) error {
		target, err := p.storage.GetUploadTarget(ctx, session, chunk.PartNumber)
		if err != nil {
			return fmt.Errorf("get upload target: %w", err)
		}

		p.logger.Debugf("Uploading part %d (%d bytes) [finished=%d] [avg=%v]",
			chunk.PartNumber, chunk.Size(), p.stats.FinishedCount(), p.stats.Average().Round(time.Millisecond))

		receipt, err = p.storage.UploadPart(ctx, target, chunk.PartNumber, chunk.Data)
		return err
	}, func(attempt int, class FailureClass, err error) {
		p.stats.Retried()
		p.observer.PartRetried(chunk.PartNumber, class)
		p.logger.Warnf("Part %d attempt %d failed (%s), retrying after %v: %s",
			chunk.PartNumber, attempt, class, p.policy.Delay(attempt), err)
	})
	if err != nil {
		p.observer.PartFailed(chunk.PartNumber)
		return PartResult{}, fmt.Errorf("upload part %d: %w", chunk.PartNumber, err)
	}

	took := time.Since(start)
	p.stats.Update(took)
	p.observer.PartUploaded(chunk.PartNumber, chunk.Size(), took)
	p.logger.Debugf("Part %d uploaded in %v", chunk.PartNumber, took.Round(time.Millisecond))

	return PartResult{
		PartNumber: chunk.PartNumber,
		Digest:     p.hasher.Digest(chunk.Data),
		ETag:       receipt.ETag,
		Size:       chunk.Size(),
	}, nil
}
