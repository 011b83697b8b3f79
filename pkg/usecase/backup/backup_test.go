package backup_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/strata/pkg/adapter"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/usecase/backup"
)

type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type memoryWriter struct {
	bytes.Buffer
	key     string
	storage *memoryStorage
}

func (w *memoryWriter) Close() error {
	w.storage.mu.Lock()
	defer w.storage.mu.Unlock()
	w.storage.objects[w.key] = w.Bytes()
	return nil
}

func (s *memoryStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return &memoryWriter{key: key, storage: s}, nil
}

func (s *memoryStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, goerr.Wrap(adapter.ErrObjectNotFound, "missing", goerr.V("key", key))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	storage := &memoryStorage{objects: map[string][]byte{}}

	src := history.NewLayout(filepath.Join(t.TempDir(), "agent"), "")
	stores := history.Open(src)
	gt.NoError(t, stores.Timeline.Append(ctx, model.TimelineEntry{TSID: "202602260705", Summary: "asked about rain"}))
	gt.NoError(t, stores.Decisions.Append(ctx, "2026-02-26", []model.DecisionEntry{{TSID: "202602260705", Text: "umbrella"}}))

	keys, err := backup.Backup(ctx, storage, src, "agents/main")
	gt.NoError(t, err)
	gt.V(t, keys).Equal([]string{"agents/main/timeline.md", "agents/main/decisions.md"})
	gt.V(t, string(storage.objects["agents/main/timeline.md"])).Equal("- 202602260705 | asked about rain\n")

	dst := history.NewLayout(filepath.Join(t.TempDir(), "agent"), "")
	restored, err := backup.Restore(ctx, storage, dst, "agents/main")
	gt.NoError(t, err)
	gt.V(t, restored).Equal([]string{dst.TimelinePath(), dst.DecisionsPath()})

	data, err := os.ReadFile(dst.DecisionsPath())
	gt.NoError(t, err)
	gt.V(t, string(data)).Equal("## 2026-02-26\n\n- [202602260705] umbrella\n")

	_, err = os.Stat(dst.MapPath())
	gt.True(t, os.IsNotExist(err))
}

func TestBackupNothing(t *testing.T) {
	storage := &memoryStorage{objects: map[string][]byte{}}
	layout := history.NewLayout(filepath.Join(t.TempDir(), "agent"), "")

	keys, err := backup.Backup(context.Background(), storage, layout, "")
	gt.NoError(t, err)
	gt.A(t, keys).Length(0)
	gt.V(t, len(storage.objects)).Equal(0)
}
