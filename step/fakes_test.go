package step

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"

	"github.com/bitrise-io/go-artifact-upload/archive"
	"github.com/bitrise-io/go-artifact-upload/retention"
	"github.com/bitrise-io/go-artifact-upload/upload"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	return repo.envVars[key]
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	delete(repo.envVars, key)
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type goLibDependencyChecker struct{}

func (goLibDependencyChecker) CheckDependencies(archive.Format) bool { return false }

type fakeBackend struct {
	mu sync.Mutex

	authorizeErr    error
	minimumPartSize int64
	listErr         error
	partErrs        map[int]error

	parts    map[int][]byte
	objects  map[string][]byte
	existing []retention.Object
	deleted  []string
	finished bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		parts:   map[int][]byte{},
		objects: map[string][]byte{},
	}
}

func (b *fakeBackend) factory() BackendFactory {
	return func(Config, log.Logger) (Backend, error) { return b, nil }
}

func (b *fakeBackend) Authorize(context.Context) error { return b.authorizeErr }

func (b *fakeBackend) MinimumPartSize() int64 { return b.minimumPartSize }

func (b *fakeBackend) ResolveBucket(_ context.Context, name string) (string, error) {
	return "id-" + name, nil
}

func (b *fakeBackend) StartMultipart(_ context.Context, bucketID, objectName string) (upload.Session, error) {
	return upload.Session{ID: "large-1", BucketID: bucketID, ObjectName: objectName}, nil
}

func (b *fakeBackend) GetUploadTarget(_ context.Context, session upload.Session, partNumber int) (upload.UploadTarget, error) {
	return upload.UploadTarget{Method: "POST", URL: fmt.Sprintf("https://upload.test/%s/%d", session.ID, partNumber)}, nil
}

func (b *fakeBackend) UploadPart(_ context.Context, _ upload.UploadTarget, partNumber int, data []byte) (upload.PartReceipt, error) {
	if err := b.partErrs[partNumber]; err != nil {
		return upload.PartReceipt{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.parts[partNumber] = append([]byte(nil), data...)
	return upload.PartReceipt{ETag: fmt.Sprintf("etag-%d", partNumber)}, nil
}

func (b *fakeBackend) FinishMultipart(_ context.Context, session upload.Session, parts []upload.PartResult) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var data []byte
	for i, part := range parts {
		if part.PartNumber != i+1 {
			return "", errors.New("parts are not dense")
		}
		data = append(data, b.parts[part.PartNumber]...)
	}
	b.objects[session.ObjectName] = data
	b.finished = true
	return "multipart-id", nil
}

func (b *fakeBackend) DirectUpload(_ context.Context, _, objectName string, data []byte, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[objectName] = append([]byte(nil), data...)
	return "direct-id", nil
}

func (b *fakeBackend) ListObjects(context.Context, string, string) ([]retention.Object, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.existing, nil
}

func (b *fakeBackend) DeleteObject(_ context.Context, _ string, object retention.Object) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, object.Name)
	sort.Strings(b.deleted)
	return nil
}

type fakeExporter struct {
	outputs map[string]string
}

func (e *fakeExporter) ExportOutput(key, value string) error {
	e.outputs[key] = value
	return nil
}

func (e *fakeExporter) ExportOutputNoExpand(key, value string) error {
	e.outputs[key] = value
	return nil
}

func (e *fakeExporter) ExportSecretOutput(key, value string) error {
	e.outputs[key] = value
	return nil
}
