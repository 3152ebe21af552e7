package step

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitrise-io/go-artifact-upload/analytics"
	"github.com/bitrise-io/go-artifact-upload/archive"
	"github.com/bitrise-io/go-artifact-upload/retention"
	"github.com/bitrise-io/go-artifact-upload/upload"
)

type testRun struct {
	workspace string
	backend   *fakeBackend
	exporter  *fakeExporter
	uploader  *ArtifactUploader
	uploadAt  time.Time
}

func newTestRun(t *testing.T, envs map[string]string) testRun {
	workspace := t.TempDir()
	if envs == nil {
		envs = map[string]string{}
	}
	envs["GITHUB_WORKSPACE"] = workspace
	envs["GITHUB_RUN_ID"] = "42"

	backend := newFakeBackend()
	exporter := &fakeExporter{outputs: map[string]string{}}
	uploader := NewArtifactUploader(
		fakeEnvRepo{envVars: envs},
		log.NewLogger(),
		pathutil.NewPathProvider(),
		pathutil.NewPathChecker(),
		goLibDependencyChecker{},
		backend.factory(),
		exporter,
		analytics.NewUploadTracker(nil),
	)
	uploadAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	uploader.now = func() time.Time { return uploadAt }

	return testRun{workspace: workspace, backend: backend, exporter: exporter, uploader: uploader, uploadAt: uploadAt}
}

func testConfig(paths ...string) Config {
	return Config{
		Name:           "artifact",
		Paths:          paths,
		IfNoFilesFound: IfNoFilesFoundWarn,
		Storage:        StorageB2,
		Bucket:         "artifacts",
		ChunkSize:      256 * 1024 * 1024,
		MemoryLimit:    512 * 1024 * 1024,
		Archive:        archive.DefaultOptions(),
	}
}

func randomContent(t *testing.T, size int) []byte {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func requireUploadedArchive(t *testing.T, data []byte, format archive.Format) string {
	archivePath := filepath.Join(t.TempDir(), "downloaded."+format.Extension())
	require.NoError(t, os.WriteFile(archivePath, data, 0644))

	destination := t.TempDir()
	require.NoError(t, archive.Extract(archivePath, destination, format))
	return destination
}

func TestArtifactUploader_Run(t *testing.T) {
	run := newTestRun(t, nil)
	writeFile(t, filepath.Join(run.workspace, "build", "app.txt"), "app content")
	writeFile(t, filepath.Join(run.workspace, "logs", "test.log"), "log content")

	result, err := run.uploader.Run(context.Background(), testConfig("build", "logs/*.log"))
	require.NoError(t, err)

	assert.Equal(t, Result{
		ObjectID:   "direct-id",
		ObjectName: "artifact/42-artifact.tar.gz",
		Size:       result.Size,
		PartCount:  1,
		UploadTime: run.uploadAt,
	}, result)
	assert.Positive(t, result.Size)
	assert.False(t, run.backend.finished)

	destination := requireUploadedArchive(t, run.backend.objects["artifact/42-artifact.tar.gz"], archive.FormatTarGz)
	content, err := os.ReadFile(filepath.Join(destination, "build", "app.txt"))
	require.NoError(t, err)
	assert.Equal(t, "app content", string(content))
	content, err = os.ReadFile(filepath.Join(destination, "logs", "test.log"))
	require.NoError(t, err)
	assert.Equal(t, "log content", string(content))
}

func TestArtifactUploader_RunMultipart(t *testing.T) {
	run := newTestRun(t, nil)
	payload := randomContent(t, 20*1024)
	require.NoError(t, os.WriteFile(filepath.Join(run.workspace, "blob.bin"), payload, 0644))

	config := testConfig("blob.bin")
	config.ChunkSize = 4 * 1024
	config.MemoryLimit = 8 * 1024
	config.Archive = archive.Options{Format: archive.FormatTarZst, Level: 3}

	result, err := run.uploader.Run(context.Background(), config)
	require.NoError(t, err)

	assert.Equal(t, "multipart-id", result.ObjectID)
	assert.Equal(t, "artifact/42-artifact.tar.zst", result.ObjectName)
	assert.Greater(t, result.PartCount, 1)
	assert.True(t, run.backend.finished)

	destination := requireUploadedArchive(t, run.backend.objects[result.ObjectName], archive.FormatTarZst)
	content, err := os.ReadFile(filepath.Join(destination, "blob.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, content)
}

func TestArtifactUploader_RunBelowMinimumPartSize(t *testing.T) {
	run := newTestRun(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(run.workspace, "blob.bin"), randomContent(t, 16*1024), 0644))
	run.backend.minimumPartSize = 5 * 1024 * 1024

	config := testConfig("blob.bin")
	config.ChunkSize = 4 * 1024

	_, err := run.uploader.Run(context.Background(), config)
	require.ErrorContains(t, err, "is smaller than the minimum part size of the storage")
	assert.Empty(t, run.backend.parts)
}

func TestArtifactUploader_RunNoFiles(t *testing.T) {
	tests := []struct {
		behavior string
		wantErr  error
	}{
		{behavior: IfNoFilesFoundWarn},
		{behavior: IfNoFilesFoundIgnore},
		{behavior: IfNoFilesFoundError, wantErr: archive.ErrNoFilesFound},
	}
	for _, tt := range tests {
		t.Run(tt.behavior, func(t *testing.T) {
			run := newTestRun(t, nil)
			require.NoError(t, os.MkdirAll(filepath.Join(run.workspace, "empty"), 0755))

			config := testConfig("missing", "empty", "*.ipa")
			config.IfNoFilesFound = tt.behavior

			result, err := run.uploader.Run(context.Background(), config)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, result.Skipped)
			assert.Empty(t, run.backend.objects)

			require.NoError(t, run.uploader.Export(result))
			assert.Empty(t, run.exporter.outputs)
		})
	}
}

func TestArtifactUploader_RunAuthorizeFailure(t *testing.T) {
	run := newTestRun(t, nil)
	writeFile(t, filepath.Join(run.workspace, "out.txt"), "content")
	run.backend.authorizeErr = assert.AnError

	_, err := run.uploader.Run(context.Background(), testConfig("out.txt"))
	require.ErrorIs(t, err, assert.AnError)
	assert.ErrorContains(t, err, "failed to authorize with b2")
}

func TestArtifactUploader_RunRetentionAndMetrics(t *testing.T) {
	run := newTestRun(t, nil)
	writeFile(t, filepath.Join(run.workspace, "out.txt"), "content")

	now := time.Now()
	run.backend.existing = []retention.Object{
		{ID: "1", Name: "artifact/1-artifact.tar.gz", UploadedAt: now.Add(-10 * 24 * time.Hour)},
		{ID: "2", Name: "artifact/2-artifact.tar.gz", UploadedAt: now.Add(-8 * 24 * time.Hour)},
		{ID: "3", Name: "artifact/3-artifact.tar.gz", UploadedAt: now.Add(-1 * time.Hour)},
		{ID: "4", Name: "artifact/42-artifact.tar.gz", UploadedAt: now.Add(-30 * 24 * time.Hour)},
	}

	config := testConfig("out.txt")
	config.RetentionDays = 7
	config.ChunkSize = 16
	config.MemoryLimit = 64
	config.MetricsFile = filepath.Join(t.TempDir(), "upload.prom")

	_, err := run.uploader.Run(context.Background(), config)
	require.NoError(t, err)

	assert.Equal(t, []string{"artifact/1-artifact.tar.gz", "artifact/2-artifact.tar.gz"}, run.backend.deleted)

	metrics, err := os.ReadFile(config.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "artifact_upload_parts_uploaded_total")
}

func TestArtifactUploader_RunWritesMetricsOnFailure(t *testing.T) {
	run := newTestRun(t, nil)
	writeFile(t, filepath.Join(run.workspace, "out.txt"), "content")
	run.backend.partErrs = map[int]error{1: &upload.StatusError{Operation: "b2_upload_part", StatusCode: 400, Code: "bad_request", Message: "checksum did not match"}}

	config := testConfig("out.txt")
	config.ChunkSize = 16
	config.MemoryLimit = 16
	config.MetricsFile = filepath.Join(t.TempDir(), "upload.prom")

	_, err := run.uploader.Run(context.Background(), config)
	require.ErrorContains(t, err, "upload failed")
	assert.False(t, run.backend.finished)

	metrics, err := os.ReadFile(config.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "artifact_upload_part_failures_total 1\n")
}

func TestArtifactUploader_Export(t *testing.T) {
	run := newTestRun(t, nil)

	err := run.uploader.Export(Result{
		ObjectID:   "4_z123",
		ObjectName: "artifact/42-artifact.tar.gz",
		PartCount:  3,
		UploadTime: time.Date(2024, 3, 1, 13, 0, 0, 0, time.FixedZone("CET", 3600)),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		UploadTimeOutputKey: "2024-03-01T12:00:00Z",
		ObjectIDOutputKey:   "4_z123",
		ObjectNameOutputKey: "artifact/42-artifact.tar.gz",
		PartCountOutputKey:  "3",
	}, run.exporter.outputs)
}

func TestArtifactUploader_ProcessConfig(t *testing.T) {
	run := newTestRun(t, requiredEnvs())

	config, err := run.uploader.ProcessConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"build/output"}, config.Paths)
	assert.Equal(t, StorageB2, config.Storage)
}
