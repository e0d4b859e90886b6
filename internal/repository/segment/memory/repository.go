package memory

import (
	"bytes"
	"container/list"
	"context"
	"io"
	"sync"
	"time"

	"github.com/rophim/server/internal/repository/segment"
)

const (
	defaultTTL      = 5 * time.Minute
	defaultMaxItems = 500
	defaultMaxBytes = 80 << 20
)

type Config struct {
	TTL      time.Duration
	MaxItems int
	MaxBytes int64
}

type entry struct {
	key         string
	payload     []byte
	contentType string
	storedAt    time.Time
}

// repo is a process-local segment cache: a map guarded by one mutex plus an
// LRU list, with lazy TTL expiry on reads and eager eviction after writes.
type repo struct {
	mu         sync.Mutex
	cfg        Config
	entries    map[string]*list.Element
	order      *list.List // front = most recently used
	totalBytes int64
}

func NewRepo(cfg Config) *repo {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = defaultMaxItems
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}

	return &repo{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func cacheKey(namespace, key string) string {
	if namespace == "" {
		namespace = "shared"
	}

	return namespace + "\x00" + key
}

func (r *repo) Get(ctx context.Context, namespace, key string) (io.ReadCloser, segment.Meta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	el, ok := r.entries[cacheKey(namespace, key)]
	if !ok {
		return nil, segment.Meta{}, segment.ErrNotFound
	}

	e := el.Value.(*entry)
	if time.Since(e.storedAt) > r.cfg.TTL {
		r.remove(el)
		return nil, segment.Meta{}, segment.ErrNotFound
	}

	r.order.MoveToFront(el)

	meta := segment.Meta{
		ContentType: e.contentType,
		Size:        int64(len(e.payload)),
		StoredAt:    e.storedAt,
	}

	return io.NopCloser(bytes.NewReader(e.payload)), meta, nil
}

func (r *repo) Set(ctx context.Context, namespace, key string, payload []byte, contentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ck := cacheKey(namespace, key)
	if el, ok := r.entries[ck]; ok {
		r.remove(el)
	}

	e := &entry{
		key:         ck,
		payload:     payload,
		contentType: contentType,
		storedAt:    time.Now(),
	}
	r.entries[ck] = r.order.PushFront(e)
	r.totalBytes += int64(len(payload))

	r.evict()

	return nil
}

// NewWriter buffers the segment in memory and inserts it on Commit, so a
// failed stream never leaves a partial entry behind.
func (r *repo) NewWriter(ctx context.Context, namespace, key, contentType string) (segment.Writer, error) {
	return &memWriter{
		repo:        r,
		ctx:         ctx,
		namespace:   namespace,
		key:         key,
		contentType: contentType,
	}, nil
}

// Clear drops every entry in namespace; an empty namespace clears the whole
// cache.
func (r *repo) Clear(ctx context.Context, namespace string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if namespace == "" {
		r.entries = make(map[string]*list.Element)
		r.order = list.New()
		r.totalBytes = 0
		return nil
	}

	prefix := namespace + "\x00"
	for el := r.order.Front(); el != nil; {
		next := el.Next()
		if e := el.Value.(*entry); len(e.key) >= len(prefix) && e.key[:len(prefix)] == prefix {
			r.remove(el)
		}
		el = next
	}

	return nil
}

// Len and Bytes expose the accounting for tests and metrics.
func (r *repo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.order.Len()
}

func (r *repo) Bytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalBytes
}

// remove must be called with the mutex held.
func (r *repo) remove(el *list.Element) {
	e := el.Value.(*entry)
	r.order.Remove(el)
	delete(r.entries, e.key)
	r.totalBytes -= int64(len(e.payload))
}

// evict must be called with the mutex held. Expired entries go first, then
// least-recently-used ones until both ceilings hold.
func (r *repo) evict() {
	for el := r.order.Back(); el != nil; {
		prev := el.Prev()
		if time.Since(el.Value.(*entry).storedAt) > r.cfg.TTL {
			r.remove(el)
		}
		el = prev
	}

	for r.order.Len() > r.cfg.MaxItems || r.totalBytes > r.cfg.MaxBytes {
		el := r.order.Back()
		if el == nil {
			return
		}
		r.remove(el)
	}
}

type memWriter struct {
	repo        *repo
	ctx         context.Context
	namespace   string
	key         string
	contentType string
	buf         bytes.Buffer
	done        bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *memWriter) Commit() error {
	if w.done {
		return nil
	}
	w.done = true

	return w.repo.Set(w.ctx, w.namespace, w.key, w.buf.Bytes(), w.contentType)
}

func (w *memWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
