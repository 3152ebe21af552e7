package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	objects   []Object
	listErrs  []error
	listCalls int
	deleteErr map[string]error
	deleted   []string
}

func (f *fakeStore) ListObjects(_ context.Context, _, _ string) ([]Object, error) {
	f.listCalls++
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return nil, err
	}
	return f.objects, nil
}

func (f *fakeStore) DeleteObject(_ context.Context, _ string, object Object) error {
	if err := f.deleteErr[object.Name]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, object.Name)
	return nil
}

func newTestSweeper(store Store, now time.Time) *Sweeper {
	s := NewSweeper(store, log.NewLogger())
	s.now = func() time.Time { return now }
	s.retryWait = time.Millisecond
	return s
}

func TestSweeper_Sweep(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	objects := []Object{
		{ID: "1", Name: "artifact/1-artifact.tar.gz", Size: 100, UploadedAt: now.Add(-10 * 24 * time.Hour)},
		{ID: "2", Name: "artifact/2-artifact.tar.gz", Size: 200, UploadedAt: now.Add(-8 * 24 * time.Hour)},
		{ID: "3", Name: "artifact/3-artifact.tar.gz", Size: 300, UploadedAt: now.Add(-2 * 24 * time.Hour)},
		{ID: "4", Name: "artifact/4-artifact.tar.gz", Size: 400, UploadedAt: now.Add(-30 * 24 * time.Hour)},
	}

	tests := []struct {
		name          string
		retentionDays int
		keep          string
		deleteErr     map[string]error
		wantDeleted   []string
		wantReport    Report
	}{
		{
			name:          "disabled",
			retentionDays: 0,
			wantReport:    Report{},
		},
		{
			name:          "deletes objects older than the retention period",
			retentionDays: 7,
			wantDeleted:   []string{"artifact/1-artifact.tar.gz", "artifact/2-artifact.tar.gz", "artifact/4-artifact.tar.gz"},
			wantReport:    Report{Listed: 4, Deleted: 3, BytesDeleted: 700},
		},
		{
			name:          "keeps the given object",
			retentionDays: 9,
			keep:          "artifact/4-artifact.tar.gz",
			wantDeleted:   []string{"artifact/1-artifact.tar.gz"},
			wantReport:    Report{Listed: 4, Deleted: 1, BytesDeleted: 100},
		},
		{
			name:          "counts failed deletions",
			retentionDays: 7,
			deleteErr:     map[string]error{"artifact/2-artifact.tar.gz": errors.New("forbidden")},
			wantDeleted:   []string{"artifact/1-artifact.tar.gz", "artifact/4-artifact.tar.gz"},
			wantReport:    Report{Listed: 4, Deleted: 2, Failed: 1, BytesDeleted: 500},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{objects: objects, deleteErr: tt.deleteErr}

			report, err := newTestSweeper(store, now).Sweep(context.Background(), "bucket", "artifact/", tt.retentionDays, tt.keep)
			require.NoError(t, err)
			assert.Equal(t, tt.wantReport, report)
			assert.Equal(t, tt.wantDeleted, store.deleted)
		})
	}
}

func TestSweeper_ListRetries(t *testing.T) {
	now := time.Now()
	store := &fakeStore{
		objects:  []Object{{Name: "old", UploadedAt: now.Add(-48 * time.Hour)}},
		listErrs: []error{errors.New("service unavailable")},
	}

	report, err := newTestSweeper(store, now).Sweep(context.Background(), "bucket", "", 1, "")
	require.NoError(t, err)
	assert.Equal(t, 2, store.listCalls)
	assert.Equal(t, 1, report.Deleted)
}

func TestSweeper_ListFailure(t *testing.T) {
	listErr := errors.New("unauthorized")
	store := &fakeStore{listErrs: []error{listErr, listErr, listErr, listErr, listErr}}

	_, err := newTestSweeper(store, time.Now()).Sweep(context.Background(), "bucket", "", 1, "")
	require.ErrorContains(t, err, "list objects")
	assert.Equal(t, numListRetries+1, store.listCalls)
	assert.Empty(t, store.deleted)
}
