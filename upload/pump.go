package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// resultSet collects part results as tasks settle, in any order.
type resultSet struct {
	mu    sync.Mutex
	parts map[int]PartResult
}

func newResultSet() *resultSet {
	return &resultSet{parts: map[int]PartResult{}}
}

func (r *resultSet) set(result PartResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.parts[result.PartNumber]; ok {
		return fmt.Errorf("%w: part %d completed twice", ErrInvariantViolation, result.PartNumber)
	}
	r.parts[result.PartNumber] = result
	return nil
}

// ordered returns the results sorted by part number, checking they are exactly 1..count.
func (r *resultSet) ordered(count int) ([]PartResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.parts) != count {
		return nil, fmt.Errorf("%w: %d results for %d parts", ErrInvariantViolation, len(r.parts), count)
	}

	parts := make([]PartResult, 0, count)
	for _, p := range r.parts {
		parts = append(parts, p)
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })

	for i, p := range parts {
		if p.PartNumber != i+1 {
			return nil, fmt.Errorf("%w: missing part %d", ErrInvariantViolation, i+1)
		}
	}
	return parts, nil
}

// pump reads the source sequentially and dispatches every chunk to its own task,
// pausing before each read while the ledger is at its limit.
type pump struct {
	parts     *PartUploader
	ledger    *Ledger
	chunkSize int64
	results   *resultSet
	onSettled func(PartResult)
}

// run reads at most size bytes from src. It returns the number of parts dispatched
// and bytes read once every task settled, or the first error.
func (p *pump) run(ctx context.Context, session Session, src io.Reader, size int64) (int, int64, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)

	partNumber := 0
	var read int64
	var stopErr, readErr error

	for read < size {
		if err := p.ledger.WaitBelowLimit(groupCtx); err != nil {
			stopErr = err
			break
		}
		if err := groupCtx.Err(); err != nil {
			stopErr = err
			break
		}

		buf := make([]byte, min(p.chunkSize, size-read))
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			partNumber++
			read += int64(n)

			chunk := Chunk{PartNumber: partNumber, Data: buf[:n]}
			p.ledger.Admit(chunk.Size())

			group.Go(func() error {
				defer p.ledger.Release(chunk.Size())

				result, err := p.parts.Upload(groupCtx, session, chunk)
				if err != nil {
					return err
				}
				if err := p.results.set(result); err != nil {
					return err
				}
				if p.onSettled != nil {
					p.onSettled(result)
				}
				return nil
			})
		}

		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			readErr = fmt.Errorf("read source: %w", err)
			cancel()
			break
		}
	}

	waitErr := group.Wait()
	switch {
	case readErr != nil:
		return partNumber, read, readErr
	case waitErr != nil:
		return partNumber, read, waitErr
	case stopErr != nil:
		return partNumber, read, stopErr
	}
	return partNumber, read, nil
}
