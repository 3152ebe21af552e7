package upload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type fakeStorage struct {
	mu sync.Mutex

	startCalls   int
	finishCalls  int
	directCalls  int
	targetCalls  map[int]int
	attemptBytes map[int][][]byte
	finished     []PartResult
	directData   []byte
	directDigest string

	// partErrors are returned by UploadPart, in order, before it succeeds.
	partErrors  map[int][]error
	directErrs  []error
	startErr    error
	finishErr   error
	partDelay   func(partNumber int) time.Duration
	inFlight    int32
	maxInFlight int32
	targetSeq   int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		targetCalls:  map[int]int{},
		attemptBytes: map[int][][]byte{},
		partErrors:   map[int][]error{},
	}
}

func (f *fakeStorage) Authorize(context.Context) error { return nil }

func (f *fakeStorage) ResolveBucket(_ context.Context, name string) (string, error) {
	return "id-" + name, nil
}

func (f *fakeStorage) StartMultipart(_ context.Context, bucketID, objectName string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.startCalls++
	if f.startErr != nil {
		return Session{}, f.startErr
	}
	return Session{ID: "session-1", BucketID: bucketID, ObjectName: objectName}, nil
}

func (f *fakeStorage) GetUploadTarget(_ context.Context, session Session, partNumber int) (UploadTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.targetCalls[partNumber]++
	f.targetSeq++
	return UploadTarget{
		Method:  "POST",
		URL:     fmt.Sprintf("https://upload.example.com/%s/%d", session.ID, f.targetSeq),
		Headers: map[string]string{"Authorization": fmt.Sprintf("token-%d", f.targetSeq)},
	}, nil
}

func (f *fakeStorage) UploadPart(ctx context.Context, _ UploadTarget, partNumber int, data []byte) (PartReceipt, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&f.maxInFlight)
		if current <= prev || atomic.CompareAndSwapInt32(&f.maxInFlight, prev, current) {
			break
		}
	}

	f.mu.Lock()
	f.attemptBytes[partNumber] = append(f.attemptBytes[partNumber], append([]byte(nil), data...))
	var err error
	if errs := f.partErrors[partNumber]; len(errs) > 0 {
		err = errs[0]
		f.partErrors[partNumber] = errs[1:]
	}
	delay := f.partDelay
	f.mu.Unlock()

	if delay != nil {
		select {
		case <-ctx.Done():
			return PartReceipt{}, ctx.Err()
		case <-time.After(delay(partNumber)):
		}
	}

	if err != nil {
		return PartReceipt{}, err
	}
	return PartReceipt{ETag: fmt.Sprintf("etag-%d", partNumber)}, nil
}

func (f *fakeStorage) FinishMultipart(_ context.Context, _ Session, parts []PartResult) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.finishCalls++
	if f.finishErr != nil {
		return "", f.finishErr
	}
	f.finished = append([]PartResult(nil), parts...)
	return "object-multipart", nil
}

func (f *fakeStorage) DirectUpload(_ context.Context, _, _ string, data []byte, digest string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.directCalls++
	if len(f.directErrs) > 0 {
		err := f.directErrs[0]
		f.directErrs = f.directErrs[1:]
		return "", err
	}
	f.directData = append([]byte(nil), data...)
	f.directDigest = digest
	return "object-direct", nil
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
