package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// Uploader uploads a stream as a single object, in parts when it is larger than the chunk size.
type Uploader struct {
	storage Storage
	config  Config
	logger  log.Logger
	parts   *PartUploader
}

// NewUploader creates a new Uploader with the given configuration.
func NewUploader(storage Storage, config Config, logger log.Logger) (*Uploader, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid upload config: %w", err)
	}
	if config.Hasher == nil {
		config.Hasher = SHA1Hasher{}
	}

	return &Uploader{
		storage: storage,
		config:  config,
		logger:  logger,
		parts:   NewPartUploader(storage, config, logger),
	}, nil
}

// Stats returns the part upload statistics.
func (u *Uploader) Stats() *Stats {
	return u.parts.Stats()
}

// Upload reads exactly size bytes from src and stores them as objectName in the bucket.
// On failure a started multipart session is neither finalized nor cancelled.
func (u *Uploader) Upload(ctx context.Context, src io.Reader, size int64, bucketID, objectName string) (Result, error) {
	if size < 0 {
		return Result{}, fmt.Errorf("invalid source size: %d", size)
	}

	if size <= u.config.ChunkSize {
		return u.uploadDirect(ctx, src, size, bucketID, objectName)
	}
	return u.uploadMultipart(ctx, src, size, bucketID, objectName)
}

func (u *Uploader) uploadDirect(ctx context.Context, src io.Reader, size int64, bucketID, objectName string) (Result, error) {
	u.logger.Debugf("Uploading %s in a single request", units.HumanSizeWithPrecision(float64(size), 3))

	data := make([]byte, size)
	if _, err := io.ReadFull(src, data); err != nil {
		return Result{}, fmt.Errorf("read source: %w", err)
	}
	if err := checkExhausted(src); err != nil {
		return Result{}, err
	}

	digest := u.config.Hasher.Digest(data)

	var objectID string
	err := u.config.Retry.run(ctx, func(ctx context.Context) error {
		id, err := u.storage.DirectUpload(ctx, bucketID, objectName, data, digest)
		if err != nil {
			return err
		}
		objectID = id
		return nil
	}, func(attempt int, class FailureClass, err error) {
		u.logger.Warnf("Upload attempt %d failed (%s), retrying after %v: %s", attempt, class, u.config.Retry.Delay(attempt), err)
	})
	if err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", objectName, err)
	}

	u.report(Progress{PartsProcessed: 1, PartsTotal: 1, BytesProcessed: size, BytesTotal: size})

	return Result{
		ObjectID:          objectID,
		ObjectName:        objectName,
		Size:              size,
		PartCount:         1,
		PeakInFlightBytes: size,
	}, nil
}

func (u *Uploader) uploadMultipart(ctx context.Context, src io.Reader, size int64, bucketID, objectName string) (Result, error) {
	state := StateNotStarted

	session, err := u.storage.StartMultipart(ctx, bucketID, objectName)
	if err != nil {
		return Result{}, fmt.Errorf("start multipart upload: %w", err)
	}
	if state, err = state.transition(StateMultipartActive); err != nil {
		return Result{}, err
	}

	expectedParts := int((size + u.config.ChunkSize - 1) / u.config.ChunkSize)
	u.logger.Printf("Uploading %s in %d parts of %s (memory limit: %s)",
		units.HumanSizeWithPrecision(float64(size), 3), expectedParts,
		units.HumanSizeWithPrecision(float64(u.config.ChunkSize), 3),
		units.HumanSizeWithPrecision(float64(u.config.MemoryLimit), 3))
	u.logger.Debugf("Multipart session %s started", session.ID)

	var mu sync.Mutex
	progress := Progress{PartsTotal: expectedParts, BytesTotal: size}

	ledger := NewLedger(u.config.MemoryLimit)
	results := newResultSet()
	p := &pump{
		parts:     u.parts,
		ledger:    ledger,
		chunkSize: u.config.ChunkSize,
		results:   results,
		onSettled: func(result PartResult) {
			mu.Lock()
			progress.PartsProcessed++
			progress.BytesProcessed += result.Size
			current := progress
			mu.Unlock()

			u.report(current)
		},
	}

	start := time.Now()
	count, read, err := p.run(ctx, session, src, size)
	if err == nil && read != size {
		err = fmt.Errorf("%w: read %d of %d bytes", ErrSizeMismatch, read, size)
	}
	if err == nil {
		err = checkExhausted(src)
	}

	var parts []PartResult
	if err == nil {
		parts, err = results.ordered(count)
	}
	if err != nil {
		u.abort(state, session)
		return Result{}, err
	}

	if state, err = state.transition(StateFinalizing); err != nil {
		return Result{}, err
	}

	objectID, err := u.storage.FinishMultipart(ctx, session, parts)
	if err != nil {
		u.abort(state, session)
		return Result{}, fmt.Errorf("finish multipart upload: %w", err)
	}
	if _, err = state.transition(StateCompleted); err != nil {
		return Result{}, err
	}

	u.logger.Debugf("Uploaded %d parts in %v, peak in-flight: %s",
		count, time.Since(start).Round(time.Millisecond), units.HumanSizeWithPrecision(float64(ledger.Peak()), 3))

	return Result{
		ObjectID:          objectID,
		ObjectName:        objectName,
		Size:              size,
		PartCount:         count,
		Multipart:         true,
		PeakInFlightBytes: ledger.Peak(),
	}, nil
}

func (u *Uploader) abort(state SessionState, session Session) SessionState {
	next, err := state.transition(StateAborted)
	if err != nil {
		u.logger.Errorf("%s", err)
		return state
	}
	u.logger.Warnf("Multipart session %s aborted, parts already sent are left to expire on the storage side", session.ID)
	return next
}

func (u *Uploader) report(p Progress) {
	u.logger.Debugf("Progress: %d/%d parts, %d/%d bytes", p.PartsProcessed, p.PartsTotal, p.BytesProcessed, p.BytesTotal)
	if u.config.Progress != nil {
		u.config.Progress(p)
	}
}

// checkExhausted fails if src has bytes beyond the declared size.
func checkExhausted(src io.Reader) error {
	var probe [1]byte
	n, err := io.ReadFull(src, probe[:])
	if n > 0 {
		return fmt.Errorf("%w: source is longer than declared", ErrSizeMismatch)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read source: %w", err)
	}
	return nil
}
