// Package backup copies the history files of an agent to an object store and back.
package backup

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/adapter"
	"github.com/m-mizutani/strata/pkg/history"
	"github.com/m-mizutani/strata/pkg/utils/logging"
)

// Backup uploads every existing history file under prefix and returns the object keys
func Backup(ctx context.Context, storage adapter.Storage, layout history.Layout, prefix string) ([]string, error) {
	files, err := layout.Files()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, file := range files {
		key := path.Join(prefix, filepath.Base(file))
		if err := upload(ctx, storage, file, key); err != nil {
			return keys, err
		}
		logging.From(ctx).Info("history file uploaded", "path", file, "key", key)
		keys = append(keys, key)
	}
	return keys, nil
}

func upload(ctx context.Context, storage adapter.Storage, file, key string) error {
	r, err := os.Open(file)
	if err != nil {
		return goerr.Wrap(err, "failed to open history file", goerr.V("path", file))
	}
	defer r.Close()

	w, err := storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to open object writer", goerr.V("key", key))
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to upload history file", goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to finish upload", goerr.V("key", key))
	}
	return nil
}

// Restore downloads the history files stored under prefix, replacing the local
// copies. Objects missing from the store are skipped. It returns the restored paths.
func Restore(ctx context.Context, storage adapter.Storage, layout history.Layout, prefix string) ([]string, error) {
	var restored []string
	for _, file := range layout.Paths() {
		key := path.Join(prefix, filepath.Base(file))

		r, err := storage.Get(ctx, key)
		if err != nil {
			if errors.Is(err, adapter.ErrObjectNotFound) {
				logging.From(ctx).Info("history object not found, skipped", "key", key)
				continue
			}
			return restored, err
		}

		err = download(r, file)
		r.Close()
		if err != nil {
			return restored, err
		}

		logging.From(ctx).Info("history file restored", "key", key, "path", file)
		restored = append(restored, file)
	}
	return restored, nil
}

func download(r io.Reader, file string) error {
	dir := filepath.Dir(file)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return goerr.Wrap(err, "failed to create history directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, ".restore-*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", dir))
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return goerr.Wrap(err, "failed to download history object", goerr.V("path", file))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp file", goerr.V("path", tmp.Name()))
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return goerr.Wrap(err, "failed to chmod temp file", goerr.V("path", tmp.Name()))
	}
	if err := os.Rename(tmp.Name(), file); err != nil {
		return goerr.Wrap(err, "failed to replace history file", goerr.V("path", file))
	}
	return nil
}
