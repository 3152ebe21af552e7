package upload

import "time"

// Observer receives per-part events, for example to feed metrics.
type Observer interface {
	PartUploaded(partNumber int, size int64, took time.Duration)
	PartRetried(partNumber int, class FailureClass)
	PartFailed(partNumber int)
}

type nopObserver struct{}

func (nopObserver) PartUploaded(int, int64, time.Duration) {}
func (nopObserver) PartRetried(int, FailureClass)          {}
func (nopObserver) PartFailed(int)                         {}
