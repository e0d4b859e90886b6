package disk

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rophim/server/internal/repository/segment"
)

const sharedNamespace = "shared"

// metaFile is the sidecar written next to each data file.
type metaFile struct {
	ContentType string `json:"contentType"`
	StoredAt    int64  `json:"storedAt"`
}

// repo persists segments under root, one directory per namespace, with a
// sha1-of-key data file and a JSON sidecar per entry. Writes go through a
// temp file and are renamed into place only once the full payload landed, so
// readers never observe a truncated segment.
type repo struct {
	root   string
	logger *slog.Logger
}

func NewRepo(root string, logger *slog.Logger) *repo {
	return &repo{
		root:   root,
		logger: logger,
	}
}

func sanitizeNamespace(namespace string) string {
	s := strings.ReplaceAll(namespace, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, "\x00", "_")
	return s
}

func (r repo) namespaceDir(namespace string) string {
	if namespace == "" {
		return filepath.Join(r.root, sharedNamespace)
	}

	return filepath.Join(r.root, "room-"+sanitizeNamespace(namespace))
}

func (r repo) paths(namespace, key string) (dataPath, metaPath string) {
	sum := sha1.Sum([]byte(key))
	name := hex.EncodeToString(sum[:])
	dir := r.namespaceDir(namespace)

	return filepath.Join(dir, name), filepath.Join(dir, name+".json")
}

// Get treats any read failure, a missing file or a corrupt sidecar alike, as
// a cache miss; the caller falls back to the upstream fetch.
func (r repo) Get(ctx context.Context, namespace, key string) (io.ReadCloser, segment.Meta, error) {
	dataPath, metaPath := r.paths(namespace, key)

	raw, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, segment.Meta{}, segment.ErrNotFound
	}

	var meta metaFile
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, segment.Meta{}, segment.ErrNotFound
	}

	stat, err := os.Stat(dataPath)
	if err != nil {
		return nil, segment.Meta{}, segment.ErrNotFound
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, segment.Meta{}, segment.ErrNotFound
	}

	return f, segment.Meta{
		ContentType: meta.ContentType,
		Size:        stat.Size(),
		StoredAt:    time.UnixMilli(meta.StoredAt),
	}, nil
}

func (r repo) Set(ctx context.Context, namespace, key string, payload []byte, contentType string) error {
	w, err := r.NewWriter(ctx, namespace, key, contentType)
	if err != nil {
		return err
	}

	if _, err := w.Write(payload); err != nil {
		w.Abort()
		return err
	}

	return w.Commit()
}

func (r repo) NewWriter(ctx context.Context, namespace, key, contentType string) (segment.Writer, error) {
	dataPath, metaPath := r.paths(namespace, key)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return nil, err
	}

	tempPath := dataPath + ".part-" + strconv.FormatInt(time.Now().UnixMilli(), 10)
	f, err := os.Create(tempPath)
	if err != nil {
		return nil, err
	}

	return &diskWriter{
		f:           f,
		tempPath:    tempPath,
		dataPath:    dataPath,
		metaPath:    metaPath,
		contentType: contentType,
	}, nil
}

// Clear removes the namespace directory recursively; an empty namespace
// wipes the whole cache root.
func (r repo) Clear(ctx context.Context, namespace string) error {
	dir := r.root
	if namespace != "" {
		dir = r.namespaceDir(namespace)
	}

	return os.RemoveAll(dir)
}

type diskWriter struct {
	f           *os.File
	tempPath    string
	dataPath    string
	metaPath    string
	contentType string
	done        bool
}

func (w *diskWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Commit renames the temp file into place and only then writes the sidecar,
// so an entry with a sidecar always has its full payload on disk.
func (w *diskWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true

	if err := w.f.Close(); err != nil {
		os.Remove(w.tempPath)
		return err
	}

	if err := os.Rename(w.tempPath, w.dataPath); err != nil {
		os.Remove(w.tempPath)
		return err
	}

	meta, err := json.Marshal(metaFile{
		ContentType: w.contentType,
		StoredAt:    time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	return os.WriteFile(w.metaPath, meta, 0o644)
}

func (w *diskWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	w.f.Close()
	return os.Remove(w.tempPath)
}
