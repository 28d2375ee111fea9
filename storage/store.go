package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"rentmail/models"
	"rentmail/utils"
)

var (
	// ErrThreadNotFound is returned when no thread matches the given id
	ErrThreadNotFound = errors.New("thread not found")
	// ErrThreadExists is returned when creating a thread whose id is taken
	ErrThreadExists = errors.New("thread already exists")
	// ErrInvalidThread is returned for a missing thread id
	ErrInvalidThread = errors.New("thread id required")
	// ErrInvalidMessage is returned for a message without text or html
	ErrInvalidMessage = errors.New("message needs text or html")
)

// MailStore persists conversation threads as one whole document. Every
// mutation is a single read-modify-write cycle serialised by the store.
type MailStore interface {
	ReadAll(ctx context.Context) ([]models.Thread, error)
	WriteAll(ctx context.Context, threads []models.Thread) error
	GetThread(ctx context.Context, id string) (*models.Thread, error)
	CreateThread(ctx context.Context, thread models.Thread) (*models.Thread, error)
	AppendMessage(ctx context.Context, threadID string, msg models.Message) (*models.Message, error)
	CreateOrAppend(ctx context.Context, threadID string, msg models.Message, seed *ThreadSeed) (*models.Message, bool, error)
	DeleteThread(ctx context.Context, id string) error
	Close() error
}

// ThreadSeed supplies the ends of a thread synthesised by CreateOrAppend
type ThreadSeed struct {
	Subject string
	From    *models.Party
	To      *models.Party
}

type options struct {
	now      func() time.Time
	operator models.Party
}

// Option configures a store
type Option func(*options)

// WithClock overrides the time source used for message and thread dates
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithOperator sets the default sender of threads created implicitly
func WithOperator(p models.Party) Option {
	return func(o *options) {
		o.operator = p
	}
}

func newOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		operator: models.Party{Name: "You"},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) timestamp() time.Time {
	return o.now().UTC()
}

// Open returns the store for the configured driver ("file" or "bolt")
func Open(driver, path string, opts ...Option) (MailStore, error) {
	switch driver {
	case "", "file":
		return NewFileMailStore(path, opts...), nil
	case "bolt":
		return NewBoltMailStore(path, opts...)
	default:
		return nil, errors.Errorf("unknown storage driver %q", driver)
	}
}

// NewMessageID returns a process-unique message id with the given prefix
func NewMessageID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// NewThreadID returns a fresh thread id
func NewThreadID() string {
	return "thread-" + uuid.NewString()
}

// The functions below implement the document mutations shared by both
// backends. They operate on a decoded copy of the document.

func findThread(threads []models.Thread, id string) int {
	for i := range threads {
		if threads[i].ID == id {
			return i
		}
	}
	return -1
}

// checkUnique rejects documents with a missing or repeated thread id
func checkUnique(threads []models.Thread) error {
	seen := make(map[string]struct{}, len(threads))
	for i := range threads {
		id := threads[i].ID
		if id == "" {
			return ErrInvalidThread
		}
		if _, ok := seen[id]; ok {
			return errors.Wrapf(ErrThreadExists, "duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func prepareMessage(msg models.Message, o options) (models.Message, error) {
	if !msg.HasBody() {
		return msg, ErrInvalidMessage
	}
	if msg.ID == "" {
		msg.ID = NewMessageID("msg")
	}
	if msg.Date.IsZero() {
		msg.Date = o.timestamp()
	}
	if msg.HTML != "" {
		msg.HTML = utils.SanitizeHTML(msg.HTML)
	}
	return msg, nil
}

// applyMessage appends msg and refreshes the derived thread fields
func applyMessage(thread *models.Thread, msg models.Message, at time.Time) {
	thread.Messages = append(thread.Messages, msg)
	thread.Unread = false
	if preview := utils.Preview(msg.Text, msg.HTML); preview != "" {
		thread.Preview = preview
	}
	thread.Date = at
	thread.AddParticipants(msg.From, msg.To)
}

func createThread(threads []models.Thread, thread models.Thread, o options) ([]models.Thread, *models.Thread, error) {
	if thread.ID == "" {
		return threads, nil, ErrInvalidThread
	}
	if findThread(threads, thread.ID) >= 0 {
		return threads, nil, ErrThreadExists
	}
	if thread.Date.IsZero() {
		thread.Date = o.timestamp()
	}
	if thread.Messages == nil {
		thread.Messages = []models.Message{}
	}
	if thread.Participants == nil {
		thread.Participants = []string{}
	}
	threads = append(threads, thread)
	return threads, &threads[len(threads)-1], nil
}

func appendMessage(threads []models.Thread, id string, msg models.Message, o options) (*models.Message, error) {
	if id == "" {
		return nil, ErrInvalidThread
	}
	idx := findThread(threads, id)
	if idx < 0 {
		return nil, ErrThreadNotFound
	}
	stored, err := prepareMessage(msg, o)
	if err != nil {
		return nil, err
	}
	applyMessage(&threads[idx], stored, o.timestamp())
	return &stored, nil
}

// createOrAppend appends to an existing thread or, for an unknown id only,
// synthesises a minimal thread around the message.
func createOrAppend(threads []models.Thread, id string, msg models.Message, seed *ThreadSeed, o options) ([]models.Thread, *models.Message, bool, error) {
	if id == "" {
		return threads, nil, false, ErrInvalidThread
	}
	if findThread(threads, id) >= 0 {
		stored, err := appendMessage(threads, id, msg, o)
		return threads, stored, false, err
	}

	stored, err := prepareMessage(msg, o)
	if err != nil {
		return threads, nil, false, err
	}

	thread := models.Thread{
		ID:           id,
		Subject:      stored.Subject,
		Unread:       false,
		Participants: []string{},
		Messages:     []models.Message{},
	}
	if seed != nil && seed.Subject != "" {
		thread.Subject = seed.Subject
	}
	if thread.Subject == "" {
		thread.Subject = "No subject"
	}

	operator := o.operator
	thread.From = &operator
	thread.To = &models.Party{Email: stored.To}
	if seed != nil && seed.From != nil {
		from := *seed.From
		thread.From = &from
	}
	if seed != nil && seed.To != nil {
		to := *seed.To
		thread.To = &to
	}

	applyMessage(&thread, stored, o.timestamp())
	threads = append(threads, thread)
	return threads, &stored, true, nil
}

func deleteThread(threads []models.Thread, id string) ([]models.Thread, error) {
	idx := findThread(threads, id)
	if idx < 0 {
		return threads, ErrThreadNotFound
	}
	return append(threads[:idx], threads[idx+1:]...), nil
}

func copyThread(t models.Thread) *models.Thread {
	out := t
	out.Participants = append([]string{}, t.Participants...)
	out.Messages = append([]models.Message{}, t.Messages...)
	if t.From != nil {
		from := *t.From
		out.From = &from
	}
	if t.To != nil {
		to := *t.To
		out.To = &to
	}
	return &out
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
