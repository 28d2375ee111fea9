package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"rentmail/models"
)

const documentMode = 0644

// FileMailStore keeps every thread in a single JSON document on disk
type FileMailStore struct {
	path string
	opts options
	mu   sync.Mutex
}

var _ MailStore = &FileMailStore{}

// NewFileMailStore creates a store backed by the JSON document at path.
// The file and its directory are created on first read.
func NewFileMailStore(path string, opts ...Option) *FileMailStore {
	return &FileMailStore{
		path: path,
		opts: newOptions(opts),
	}
}

// Path returns the backing document location
func (s *FileMailStore) Path() string {
	return s.path
}

// Close implements MailStore; the file store holds no handles
func (s *FileMailStore) Close() error {
	return nil
}

// ReadAll loads the whole document, initialising it when absent
func (s *FileMailStore) ReadAll(ctx context.Context) ([]models.Thread, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

// WriteAll replaces the whole document
func (s *FileMailStore) WriteAll(ctx context.Context, threads []models.Thread) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := checkUnique(threads); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.save(threads)
}

// GetThread returns a copy of the thread with the given id
func (s *FileMailStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	threads, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	idx := findThread(threads, id)
	if idx < 0 {
		return nil, ErrThreadNotFound
	}
	return copyThread(threads[idx]), nil
}

// CreateThread adds a new thread; the id must not be in use
func (s *FileMailStore) CreateThread(ctx context.Context, thread models.Thread) (*models.Thread, error) {
	var created *models.Thread
	err := s.update(ctx, func(threads []models.Thread) ([]models.Thread, error) {
		threads, t, err := createThread(threads, thread, s.opts)
		if err != nil {
			return nil, err
		}
		created = copyThread(*t)
		return threads, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AppendMessage appends msg to an existing thread
func (s *FileMailStore) AppendMessage(ctx context.Context, threadID string, msg models.Message) (*models.Message, error) {
	var stored *models.Message
	err := s.update(ctx, func(threads []models.Thread) ([]models.Thread, error) {
		m, err := appendMessage(threads, threadID, msg, s.opts)
		if err != nil {
			return nil, err
		}
		stored = m
		return threads, nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// CreateOrAppend appends msg, creating the thread from seed when threadID is unknown
func (s *FileMailStore) CreateOrAppend(ctx context.Context, threadID string, msg models.Message, seed *ThreadSeed) (*models.Message, bool, error) {
	var (
		stored  *models.Message
		created bool
	)
	err := s.update(ctx, func(threads []models.Thread) ([]models.Thread, error) {
		threads, m, c, err := createOrAppend(threads, threadID, msg, seed, s.opts)
		if err != nil {
			return nil, err
		}
		stored, created = m, c
		return threads, nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// DeleteThread removes a thread and all its messages
func (s *FileMailStore) DeleteThread(ctx context.Context, id string) error {
	return s.update(ctx, func(threads []models.Thread) ([]models.Thread, error) {
		return deleteThread(threads, id)
	})
}

// update runs one read-modify-write cycle under the store lock. Nothing is
// written when fn fails.
func (s *FileMailStore) update(ctx context.Context, fn func([]models.Thread) ([]models.Thread, error)) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	threads, err := s.load()
	if err != nil {
		return err
	}
	threads, err = fn(threads)
	if err != nil {
		return err
	}
	return s.save(threads)
}

// load reads the document (must be called with lock held)
func (s *FileMailStore) load() ([]models.Thread, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := s.save(nil); err != nil {
				return nil, err
			}
			return []models.Thread{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", s.path)
	}

	var threads []models.Thread
	if err := json.Unmarshal(data, &threads); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", s.path)
	}
	if threads == nil {
		threads = []models.Thread{}
	}
	return threads, nil
}

// save atomically replaces the document (must be called with lock held)
func (s *FileMailStore) save(threads []models.Thread) error {
	if threads == nil {
		threads = []models.Thread{}
	}

	data, err := json.MarshalIndent(threads, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode threads")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".mails-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpPath := tmp.Name()

	// CreateTemp opens with 0600; the document keeps the usual 0644
	if err := tmp.Chmod(documentMode); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to chmod %s", tmpPath)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to write %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to sync %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to close %s", tmpPath)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to replace %s", s.path)
	}

	return nil
}
