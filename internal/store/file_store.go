package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/jmgilman/go/errors"
)

const entriesDir = "entries"

// FileStore keeps one JSON document per entry.
// Structure: {root}/entries/{sha256(key)}.json
type FileStore struct {
	mu sync.RWMutex
	fs billy.Filesystem
}

// NewFileStore creates a store rooted at dir on the local disk.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return NewFileStoreFS(osfs.New(dir))
}

// NewFileStoreFS creates a store on top of an arbitrary billy filesystem.
func NewFileStoreFS(fs billy.Filesystem) (*FileStore, error) {
	if err := fs.MkdirAll(entriesDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create entries directory: %w", err)
	}
	return &FileStore{fs: fs}, nil
}

func (s *FileStore) buildFilePath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return s.fs.Join(entriesDir, hex.EncodeToString(sum[:])+".json")
}

func (s *FileStore) Put(ctx context.Context, entry *Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write atomically
	tmp, err := s.fs.TempFile(entriesDir, "entry-")
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to create temp file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpPath)
		return errors.Wrap(err, errors.CodeDatabase, "failed to write entry")
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return errors.Wrap(err, errors.CodeDatabase, "failed to close entry")
	}

	if err := s.fs.Rename(tmpPath, s.buildFilePath(entry.Key)); err != nil {
		s.fs.Remove(tmpPath)
		return errors.Wrap(err, errors.CodeDatabase, "failed to commit entry")
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, err := s.readEntry(s.buildFilePath(key))
	if err != nil {
		return nil, err
	}
	if entry.Key != key {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *FileStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.fs.Stat(s.buildFilePath(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CodeDatabase, "failed to stat entry")
	}
	return true, nil
}

func (s *FileStore) readEntry(path string) (*Entry, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to open entry")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to read entry")
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to decode entry")
	}
	return &entry, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.buildFilePath(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, errors.CodeDatabase, "failed to delete entry")
	}
	return nil
}

func (s *FileStore) entryFiles() ([]string, error) {
	infos, err := s.fs.ReadDir(entriesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to list entries")
	}

	var paths []string
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			continue
		}
		paths = append(paths, s.fs.Join(entriesDir, info.Name()))
	}
	return paths, nil
}

func (s *FileStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths, err := s.entryFiles()
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}

func (s *FileStore) ScanByTimestamp(ctx context.Context) ([]Meta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths, err := s.entryFiles()
	if err != nil {
		return nil, err
	}

	metas := make([]Meta, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := s.readEntry(path)
		if err != nil {
			// Unreadable files are skipped, a later Put for the key replaces them
			continue
		}
		metas = append(metas, metaOf(entry))
	}

	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].Timestamp.Before(metas[j].Timestamp)
	})
	return metas, nil
}

func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := util.RemoveAll(s.fs, entriesDir); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to clear entries")
	}
	return s.fs.MkdirAll(entriesDir, 0755)
}

func (s *FileStore) Ping(ctx context.Context) error {
	if err := s.fs.MkdirAll(entriesDir, 0755); err != nil {
		return errors.Wrap(ErrUnavailable, errors.CodeUnavailable, err.Error())
	}
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
