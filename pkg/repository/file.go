package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/strata/pkg/model"
	"github.com/m-mizutani/strata/pkg/utils/logging"
)

const (
	mapDirMode      = 0o755
	mapFileMode     = 0o644
	tempFilePattern = ".tsid-map-*.tmp"
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.Mutex{}
)

// FileMap keeps the mapping in a single JSON object document. Every Bind loads
// the whole document, sets one key and rewrites the document.
//
// Writers inside one process are serialized by a mutex shared per document
// path. Several processes writing the same document may lose updates; use the
// Firestore backend for that.
type FileMap struct {
	path string
	mu   *sync.Mutex
}

var _ SessionMap = (*FileMap)(nil)

// NewFileMap creates a FileMap backed by the document at path
func NewFileMap(path string) (*FileMap, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve map path", goerr.V("path", path))
	}
	absPath = filepath.Clean(absPath)

	return &FileMap{path: absPath, mu: lockForPath(absPath)}, nil
}

// Path returns the absolute path of the document
func (x *FileMap) Path() string {
	return x.path
}

func lockForPath(path string) *sync.Mutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.Mutex{}
	pathLockMap[path] = mu
	return mu
}

func (x *FileMap) Resolve(ctx context.Context, tsid model.TSID) (model.SessionID, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	doc, err := x.read(ctx)
	if err != nil {
		return "", false, err
	}

	sid, ok := doc[tsid]
	return sid, ok, nil
}

func (x *FileMap) Load(ctx context.Context) (map[model.TSID]model.SessionID, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.read(ctx)
}

func (x *FileMap) Bind(ctx context.Context, tsid model.TSID, sessionID model.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !tsid.Valid() {
		return goerr.Wrap(model.ErrInvalidTSID, "failed to bind session", goerr.V("tsid", tsid))
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	doc, err := x.read(ctx)
	if err != nil {
		return err
	}
	doc[tsid] = sessionID

	return x.write(doc)
}

// read returns an empty mapping when the document does not exist. A document
// that can not be decoded is also treated as empty so that the next Bind
// replaces it.
func (x *FileMap) read(ctx context.Context) (map[model.TSID]model.SessionID, error) {
	data, err := os.ReadFile(x.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[model.TSID]model.SessionID{}, nil
		}
		return nil, goerr.Wrap(err, "failed to read tsid map", goerr.V("path", x.path))
	}

	doc := map[model.TSID]model.SessionID{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		logging.From(ctx).Warn("tsid map is broken, treated as empty",
			"path", x.path,
			"error", err,
		)
		return map[model.TSID]model.SessionID{}, nil
	}

	return doc, nil
}

func (x *FileMap) write(doc map[model.TSID]model.SessionID) error {
	dir := filepath.Dir(x.path)
	if err := os.MkdirAll(dir, mapDirMode); err != nil {
		return goerr.Wrap(err, "failed to create map directory", goerr.V("dir", dir))
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode tsid map")
	}

	tmp, err := os.CreateTemp(dir, tempFilePattern)
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return goerr.Wrap(err, "failed to write tsid map", goerr.V("path", tmpName))
	}
	if err := tmp.Chmod(mapFileMode); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return goerr.Wrap(err, "failed to chmod tsid map", goerr.V("path", tmpName))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return goerr.Wrap(err, "failed to close tsid map", goerr.V("path", tmpName))
	}

	if err := os.Rename(tmpName, x.path); err != nil {
		os.Remove(tmpName)
		return goerr.Wrap(err, "failed to replace tsid map", goerr.V("path", x.path))
	}

	return nil
}
