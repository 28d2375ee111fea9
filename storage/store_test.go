package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentmail/models"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testOptions() []Option {
	return []Option{
		WithClock(func() time.Time { return fixedNow }),
		WithOperator(models.Party{Name: "You", Email: "agent@noreply"}),
	}
}

// eachStore runs fn against a fresh store of every backend
func eachStore(t *testing.T, fn func(t *testing.T, store MailStore)) {
	t.Run("file", func(t *testing.T) {
		store := NewFileMailStore(filepath.Join(t.TempDir(), "db", "mails.json"), testOptions()...)
		fn(t, store)
	})
	t.Run("bolt", func(t *testing.T) {
		store, err := NewBoltMailStore(filepath.Join(t.TempDir(), "mails.db"), testOptions()...)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		fn(t, store)
	})
}

func TestReadAll_InitialisesEmptyDocument(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()

		threads, err := store.ReadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, threads)

		threads, err = store.ReadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, threads)
	})
}

func TestFileMailStore_ReadAllCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mails.json")
	store := NewFileMailStore(path)

	_, err := store.ReadAll(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestFileMailStore_MalformedDocumentIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mails.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	store := NewFileMailStore(path)

	_, err := store.ReadAll(context.Background())
	require.Error(t, err)

	_, _, err = store.CreateOrAppend(context.Background(), "t1", models.Message{Text: "hi"}, nil)
	require.Error(t, err)

	// The corrupt document is left for inspection, not overwritten
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestFileMailStore_EmptyFileIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mails.json")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	_, err := NewFileMailStore(path).ReadAll(context.Background())
	assert.Error(t, err)
}

func TestFileMailStore_WriteFailureSurfaces(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	// The parent of the document is a regular file, so nothing can be created under it
	store := NewFileMailStore(filepath.Join(blocker, "mails.json"))
	err := store.WriteAll(context.Background(), []models.Thread{{ID: "t1"}})
	assert.Error(t, err)
}

func TestWriteAll_RoundTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		in := []models.Thread{
			{ID: "a", Subject: "first", Participants: []string{}, Messages: []models.Message{}},
			{ID: "b", Subject: "second", Participants: []string{"x@y.z"}, Messages: []models.Message{}},
		}
		require.NoError(t, store.WriteAll(ctx, in))

		out, err := store.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "a", out[0].ID)
		assert.Equal(t, []string{"x@y.z"}, out[1].Participants)
	})
}

func TestWriteAll_RejectsDuplicateIDs(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		require.NoError(t, store.WriteAll(ctx, []models.Thread{{ID: "a", Subject: "kept"}}))

		err := store.WriteAll(ctx, []models.Thread{{ID: "b"}, {ID: "b"}})
		assert.ErrorIs(t, err, ErrThreadExists)

		err = store.WriteAll(ctx, []models.Thread{{ID: "c"}, {ID: ""}})
		assert.ErrorIs(t, err, ErrInvalidThread)

		threads, err := store.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Equal(t, "kept", threads[0].Subject)
	})
}

func TestFileMailStore_DocumentMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mails.json")
	store := NewFileMailStore(path)

	_, err := store.ReadAll(context.Background())
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	_, _, err = store.CreateOrAppend(context.Background(), "t1", models.Message{Text: "hi"}, nil)
	require.NoError(t, err)
	info, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestAppendToCreatedThread(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()

		_, err := store.CreateThread(ctx, models.Thread{ID: "t1", Subject: "Hello"})
		require.NoError(t, err)

		msg, err := store.AppendMessage(ctx, "t1", models.Message{From: "a@x.com", To: "b@x.com", Text: "hello"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(msg.ID, "msg-"))
		assert.Equal(t, fixedNow, msg.Date)

		threads, err := store.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 1)

		thread := threads[0]
		assert.Equal(t, "t1", thread.ID)
		assert.Len(t, thread.Messages, 1)
		assert.ElementsMatch(t, []string{"a@x.com", "b@x.com"}, thread.Participants)
		assert.False(t, thread.Unread)
		assert.Equal(t, "hello", thread.Preview)
		assert.Equal(t, fixedNow, thread.Date)
	})
}

func TestAppendMessage_UpdatesDerivedFields(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		_, err := store.CreateThread(ctx, models.Thread{ID: "t1", Unread: true, Preview: "old"})
		require.NoError(t, err)

		_, err = store.AppendMessage(ctx, "t1", models.Message{From: "a@x.com", To: "b@x.com", Text: "one"})
		require.NoError(t, err)
		_, err = store.AppendMessage(ctx, "t1", models.Message{From: "b@x.com", To: "c@x.com", HTML: "<p>two <b>bold</b></p>"})
		require.NoError(t, err)
		_, err = store.AppendMessage(ctx, "t1", models.Message{From: "a@x.com", To: "b@x.com", Text: "three"})
		require.NoError(t, err)

		thread, err := store.GetThread(ctx, "t1")
		require.NoError(t, err)

		require.Len(t, thread.Messages, 3)
		assert.Equal(t, "one", thread.Messages[0].Text)
		assert.Equal(t, "<p>two <b>bold</b></p>", thread.Messages[1].HTML)
		assert.Equal(t, "three", thread.Messages[2].Text)
		assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"}, thread.Participants)
		assert.Equal(t, "three", thread.Preview)
		assert.False(t, thread.Unread)
	})
}

func TestAppendMessage_HTMLOnlyPreview(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		_, err := store.CreateThread(ctx, models.Thread{ID: "t1"})
		require.NoError(t, err)

		_, err = store.AppendMessage(ctx, "t1", models.Message{HTML: `<p>Rent is <em>due</em></p><script>x()</script>`})
		require.NoError(t, err)

		thread, err := store.GetThread(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "Rent is due", thread.Preview)
		assert.NotContains(t, thread.Messages[0].HTML, "script")
	})
}

func TestAppendMessage_UnknownThread(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()

		_, err := store.AppendMessage(ctx, "missing", models.Message{Text: "hi"})
		assert.ErrorIs(t, err, ErrThreadNotFound)

		threads, err := store.ReadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, threads)
	})
}

func TestAppendMessage_RequiresBody(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		_, err := store.CreateThread(ctx, models.Thread{ID: "t1"})
		require.NoError(t, err)

		_, err = store.AppendMessage(ctx, "t1", models.Message{From: "a@x.com"})
		assert.ErrorIs(t, err, ErrInvalidMessage)

		thread, err := store.GetThread(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, thread.Messages)
	})
}

func TestCreateOrAppend_CreatesOnlyForUnknownIDs(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		long := strings.Repeat("x", 300)

		msg, created, err := store.CreateOrAppend(ctx, "t9", models.Message{From: "agent@noreply", To: "tenant@x.com", Text: long, Subject: "Leak"}, nil)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEmpty(t, msg.ID)

		threads, err := store.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 1)

		thread := threads[0]
		assert.Equal(t, "t9", thread.ID)
		assert.Equal(t, "Leak", thread.Subject)
		require.Len(t, thread.Messages, 1)
		assert.Equal(t, long[:120], thread.Preview)
		assert.False(t, thread.Unread)
		assert.Equal(t, &models.Party{Name: "You", Email: "agent@noreply"}, thread.From)
		assert.Equal(t, &models.Party{Email: "tenant@x.com"}, thread.To)
		assert.Equal(t, []string{"agent@noreply", "tenant@x.com"}, thread.Participants)

		// A known id appends instead of creating
		_, created, err = store.CreateOrAppend(ctx, "t9", models.Message{From: "tenant@x.com", To: "agent@noreply", Text: "again"}, nil)
		require.NoError(t, err)
		assert.False(t, created)

		threads, err = store.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Len(t, threads[0].Messages, 2)
	})
}

func TestCreateOrAppend_UsesSeed(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		seed := &ThreadSeed{
			From: &models.Party{Name: "Owner", Email: "owner@x.com"},
			To:   &models.Party{Name: "Tenant", Email: "tenant@x.com"},
		}

		_, created, err := store.CreateOrAppend(ctx, "t1", models.Message{From: "owner@x.com", To: "tenant@x.com", Text: "hi"}, seed)
		require.NoError(t, err)
		require.True(t, created)

		thread, err := store.GetThread(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "No subject", thread.Subject)
		assert.Equal(t, "Owner", thread.From.Name)
		assert.Equal(t, "Tenant", thread.To.Name)
	})
}

func TestCreateOrAppend_InvalidMessageCreatesNothing(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()

		_, _, err := store.CreateOrAppend(ctx, "t1", models.Message{}, nil)
		assert.ErrorIs(t, err, ErrInvalidMessage)

		_, _, err = store.CreateOrAppend(ctx, "", models.Message{Text: "x"}, nil)
		assert.ErrorIs(t, err, ErrInvalidThread)

		threads, err := store.ReadAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, threads)
	})
}

func TestCreateThread_DuplicateID(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		_, err := store.CreateThread(ctx, models.Thread{ID: "t1"})
		require.NoError(t, err)

		_, err = store.CreateThread(ctx, models.Thread{ID: "t1"})
		assert.ErrorIs(t, err, ErrThreadExists)
	})
}

func TestDeleteThread(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		_, err := store.CreateThread(ctx, models.Thread{ID: "t1"})
		require.NoError(t, err)
		_, err = store.CreateThread(ctx, models.Thread{ID: "t2"})
		require.NoError(t, err)

		require.NoError(t, store.DeleteThread(ctx, "t1"))

		threads, err := store.ReadAll(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 1)
		assert.Equal(t, "t2", threads[0].ID)

		_, err = store.GetThread(ctx, "t1")
		assert.ErrorIs(t, err, ErrThreadNotFound)
	})
}

func TestDeleteThread_NotFoundLeavesDocumentUnchanged(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		_, _, err := store.CreateOrAppend(ctx, "t1", models.Message{From: "a@x.com", To: "b@x.com", Text: "hi"}, nil)
		require.NoError(t, err)

		before, err := store.ReadAll(ctx)
		require.NoError(t, err)

		err = store.DeleteThread(ctx, "nope")
		assert.ErrorIs(t, err, ErrThreadNotFound)

		after, err := store.ReadAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestGetThread_ReturnsCopy(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		_, _, err := store.CreateOrAppend(ctx, "t1", models.Message{From: "a@x.com", To: "b@x.com", Text: "hi"}, nil)
		require.NoError(t, err)

		thread, err := store.GetThread(ctx, "t1")
		require.NoError(t, err)
		thread.Participants[0] = "mutated"

		again, err := store.GetThread(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", again.Participants[0])
	})
}

func TestConcurrentAppendsAreNotLost(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx := context.Background()
		_, err := store.CreateThread(ctx, models.Thread{ID: "t1"})
		require.NoError(t, err)

		const writers = 20
		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := store.AppendMessage(ctx, "t1", models.Message{
					From: fmt.Sprintf("user%d@x.com", i),
					To:   "agent@noreply",
					Text: fmt.Sprintf("message %d", i),
				})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		thread, err := store.GetThread(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, thread.Messages, writers)
		assert.Len(t, thread.Participants, writers+1)

		ids := map[string]bool{}
		for _, m := range thread.Messages {
			ids[m.ID] = true
		}
		assert.Len(t, ids, writers)
	})
}

func TestCancelledContext(t *testing.T) {
	eachStore(t, func(t *testing.T, store MailStore) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := store.ReadAll(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		_, _, err = store.CreateOrAppend(ctx, "t1", models.Message{Text: "x"}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open("file", filepath.Join(dir, "mails.json"))
	require.NoError(t, err)
	assert.IsType(t, &FileMailStore{}, store)

	store, err = Open("bolt", filepath.Join(dir, "mails.db"))
	require.NoError(t, err)
	assert.IsType(t, &BoltMailStore{}, store)
	require.NoError(t, store.Close())

	_, err = Open("postgres", "x")
	assert.Error(t, err)
}
