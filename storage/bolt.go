package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"rentmail/models"
)

var (
	mailBucket  = []byte("mails")
	documentKey = []byte("document")
)

// BoltMailStore keeps the thread document under a single bbolt key. bbolt
// admits one read-write transaction at a time, which serialises mutations.
type BoltMailStore struct {
	db   *bolt.DB
	opts options
}

var _ MailStore = &BoltMailStore{}

// NewBoltMailStore opens (or creates) the bbolt database at dbPath
func NewBoltMailStore(dbPath string, opts ...Option) (*BoltMailStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, errors.Wrap(err, "failed to create data directory")
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(mailBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create buckets")
	}

	return &BoltMailStore{db: db, opts: newOptions(opts)}, nil
}

// Close closes the database
func (s *BoltMailStore) Close() error {
	return s.db.Close()
}

// ReadAll loads the whole document, initialising it when absent
func (s *BoltMailStore) ReadAll(ctx context.Context) ([]models.Thread, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	var (
		threads []models.Thread
		missing bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(mailBucket).Get(documentKey)
		if data == nil {
			missing = true
			return nil
		}
		var err error
		threads, err = decodeDocument(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	if missing {
		// Another writer may have initialised the key in between; update
		// re-reads inside its own transaction.
		err = s.update(ctx, func(current []models.Thread) ([]models.Thread, error) {
			threads = current
			return current, nil
		})
		if err != nil {
			return nil, err
		}
	}
	return threads, nil
}

// WriteAll replaces the whole document
func (s *BoltMailStore) WriteAll(ctx context.Context, threads []models.Thread) error {
	if err := checkUnique(threads); err != nil {
		return err
	}
	return s.update(ctx, func([]models.Thread) ([]models.Thread, error) {
		return threads, nil
	})
}

// GetThread returns a copy of the thread with the given id
func (s *BoltMailStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
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
func (s *BoltMailStore) CreateThread(ctx context.Context, thread models.Thread) (*models.Thread, error) {
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
func (s *BoltMailStore) AppendMessage(ctx context.Context, threadID string, msg models.Message) (*models.Message, error) {
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
func (s *BoltMailStore) CreateOrAppend(ctx context.Context, threadID string, msg models.Message, seed *ThreadSeed) (*models.Message, bool, error) {
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
func (s *BoltMailStore) DeleteThread(ctx context.Context, id string) error {
	return s.update(ctx, func(threads []models.Thread) ([]models.Thread, error) {
		return deleteThread(threads, id)
	})
}

// update runs fn inside one read-write transaction. A failing fn rolls
// the transaction back, leaving the stored document untouched.
func (s *BoltMailStore) update(ctx context.Context, fn func([]models.Thread) ([]models.Thread, error)) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mailBucket)

		threads := []models.Thread{}
		if data := b.Get(documentKey); data != nil {
			var err error
			if threads, err = decodeDocument(data); err != nil {
				return err
			}
		}

		threads, err := fn(threads)
		if err != nil {
			return err
		}
		if threads == nil {
			threads = []models.Thread{}
		}

		encoded, err := json.Marshal(threads)
		if err != nil {
			return errors.Wrap(err, "failed to encode threads")
		}
		return b.Put(documentKey, encoded)
	})
}

func decodeDocument(data []byte) ([]models.Thread, error) {
	var threads []models.Thread
	if err := json.Unmarshal(data, &threads); err != nil {
		return nil, errors.Wrap(err, "failed to decode thread document")
	}
	if threads == nil {
		threads = []models.Thread{}
	}
	return threads, nil
}
