// Package retention removes artifacts older than the retention period.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

const numListRetries = 3

// Report summarizes a sweep.
type Report struct {
	Listed       int
	Deleted      int
	Failed       int
	BytesDeleted int64
}

// Sweeper deletes expired objects from a Store.
type Sweeper struct {
	store     Store
	logger    log.Logger
	now       func() time.Time
	retryWait time.Duration
}

// NewSweeper ...
func NewSweeper(store Store, logger log.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		logger:    logger,
		now:       time.Now,
		retryWait: 5 * time.Second,
	}
}

// Sweep deletes the objects under prefix uploaded more than retentionDays days ago,
// except the object named keep. Failed deletions are counted, not returned.
func (s *Sweeper) Sweep(ctx context.Context, bucketID, prefix string, retentionDays int, keep string) (Report, error) {
	if retentionDays <= 0 {
		return Report{}, nil
	}

	var objects []Object
	err := retry.Times(numListRetries).Wait(s.retryWait).TryWithAbort(func(attempt uint) (error, bool) {
		var err error
		objects, err = s.store.ListObjects(ctx, bucketID, prefix)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err(), true
			}
			s.logger.Debugf("Listing %s failed (attempt %d): %s", prefix, attempt+1, err)
			return err, false
		}
		return nil, true
	})
	if err != nil {
		return Report{}, fmt.Errorf("list objects: %w", err)
	}

	cutoff := s.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	report := Report{Listed: len(objects)}

	for _, object := range objects {
		if object.Name == keep || !object.UploadedAt.Before(cutoff) {
			continue
		}

		if err := s.store.DeleteObject(ctx, bucketID, object); err != nil {
			report.Failed++
			s.logger.Warnf("Failed to delete expired artifact %s: %s", object.Name, err)
			continue
		}

		report.Deleted++
		report.BytesDeleted += object.Size
		s.logger.Debugf("Deleted %s (uploaded at %s)", object.Name, object.UploadedAt.Format(time.RFC3339))
	}

	if report.Deleted > 0 {
		s.logger.Printf("Deleted %d expired artifacts (%s)", report.Deleted, units.HumanSizeWithPrecision(float64(report.BytesDeleted), 3))
	}
	return report, nil
}
