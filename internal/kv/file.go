package kv

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const (
	fileExt = ".json"

	// hashedPrefix marks names derived from a key digest. It is outside the
	// base64url alphabet so the two naming schemes never collide.
	hashedPrefix = "~"

	// maxEncodedName keeps file names well under the usual 255-byte limit.
	maxEncodedName = 200
)

// fileRecord is the on-disk form of one key.
type fileRecord struct {
	Key    string `json:"key"`
	Origin string `json:"origin"`
	Value  []byte `json:"value"`
}

// File keeps one JSON file per key in a directory. Writes are atomic
// (temp file + rename) and other processes' writes are observed through fsnotify.
type File struct {
	dir    string
	origin string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	// hashed maps digest file names to the keys they hold.
	hashed map[string]string
}

// NewFile creates the directory if needed and opens a store over it.
func NewFile(dir string, logger *slog.Logger) (*File, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &File{dir: dir, origin: newOrigin(), logger: logger, hashed: make(map[string]string)}, nil
}

// fileName is the base64url form of key, or a sha256 digest when that
// would be too long for the filesystem.
func fileName(key string) string {
	enc := base64.RawURLEncoding.EncodeToString([]byte(key))
	if len(enc) <= maxEncodedName {
		return enc + fileExt
	}
	sum := sha256.Sum256([]byte(key))
	return hashedPrefix + hex.EncodeToString(sum[:]) + fileExt
}

func (f *File) path(key string) string {
	name := fileName(key)
	if strings.HasPrefix(name, hashedPrefix) {
		f.mu.Lock()
		f.hashed[name] = key
		f.mu.Unlock()
	}
	return filepath.Join(f.dir, name)
}

// keyOf maps a directory entry back to its key. Temp files and foreign files
// are rejected. Digest names resolve through the names seen so far, falling
// back to the key recorded in the file; a digest file removed before this
// store ever saw it cannot be resolved.
func (f *File) keyOf(name string) (string, bool) {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, fileExt) {
		return "", false
	}
	stem := strings.TrimSuffix(base, fileExt)
	if !strings.HasPrefix(stem, hashedPrefix) {
		raw, err := base64.RawURLEncoding.DecodeString(stem)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}

	f.mu.Lock()
	key, ok := f.hashed[base]
	f.mu.Unlock()
	if ok {
		return key, true
	}
	rec, err := readRecord(filepath.Join(f.dir, base), base)
	if err != nil || rec.Key == "" || fileName(rec.Key) != base {
		return "", false
	}
	f.mu.Lock()
	f.hashed[base] = rec.Key
	f.mu.Unlock()
	return rec.Key, true
}

func (f *File) checkOpen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return nil
}

func (f *File) read(key string) (*fileRecord, error) {
	return readRecord(f.path(key), key)
}

func readRecord(path, label string) (*fileRecord, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", label, err)
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", label, err)
	}
	return &rec, nil
}

// Get implements Store.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	rec, err := f.read(key)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// Set implements Store.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	data, err := json.Marshal(fileRecord{Key: key, Origin: f.origin, Value: value})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

// Delete implements Store.
func (f *File) Delete(_ context.Context, key string) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Keys implements Store.
func (f *File) Keys(_ context.Context, prefix string) ([]string, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", f.dir, err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if key, ok := f.keyOf(e.Name()); ok && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch watches the directory. A rename into place or a write reports the
// origin recorded in the file; a removal reports an empty origin.
func (f *File) Watch(ctx context.Context) (<-chan Change, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", f.dir, err)
	}

	out := make(chan Change, subscriberBuffer)
	go f.watchLoop(ctx, watcher, out)
	return out, nil
}

func (f *File) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, out chan<- Change) {
	defer close(out)
	defer watcher.Close() //nolint:errcheck // Watcher teardown

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			key, ok := f.keyOf(event.Name)
			if !ok {
				continue
			}

			change := Change{Key: key}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				rec, err := f.read(key)
				if err != nil {
					// Replaced or removed again before we could read it; a later event follows.
					continue
				}
				change.Origin = rec.Origin
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
			default:
				continue
			}

			select {
			case out <- change:
			default:
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			f.logger.Error("storage watcher error", "dir", f.dir, "error", err)
		}
	}
}

// Origin implements Store.
func (f *File) Origin() string {
	return f.origin
}

// Close implements Store. Watchers stop when their contexts end.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
