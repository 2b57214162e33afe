package repository

import (
	"context"
	"testing"
	"time"

	"github.com/hilthontt/readalong/internal/domain"
	"github.com/hilthontt/readalong/internal/persistence/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatStore(t *testing.T) *ChatStore {
	t.Helper()

	gdb, err := db.OpenSQLite(db.InMemorySQLite)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.CloseSQLite(gdb) })
	require.NoError(t, db.PingSQLite(context.Background(), gdb))

	store := NewChatStore(gdb)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func TestChatStoreMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestChatStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, text := range []string{"one", "two", "three", "four"} {
		require.NoError(t, store.CreateMessage(ctx, &domain.ChatMessage{
			RoomCode:  "ABC123",
			UserID:    "u1",
			Username:  "alice",
			Text:      text,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.CreateMessage(ctx, &domain.ChatMessage{
		RoomCode: "ZZZ999", UserID: "u2", Username: "bob", Text: "elsewhere", CreatedAt: base,
	}))

	t.Run("all oldest first", func(t *testing.T) {
		msgs, err := store.ListMessages(ctx, "ABC123", time.Time{}, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		assert.Equal(t, "one", msgs[0].Text)
		assert.Equal(t, "four", msgs[3].Text)
		assert.NotEmpty(t, msgs[0].ID)
	})

	t.Run("limit keeps the most recent", func(t *testing.T) {
		msgs, err := store.ListMessages(ctx, "ABC123", time.Time{}, 2)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "three", msgs[0].Text)
		assert.Equal(t, "four", msgs[1].Text)
	})

	t.Run("since is exclusive", func(t *testing.T) {
		msgs, err := store.ListMessages(ctx, "ABC123", base.Add(time.Second), 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "three", msgs[0].Text)
	})

	t.Run("cursor pages forward without gaps", func(t *testing.T) {
		cursor := base
		var got []string
		for i := 0; i < 5; i++ {
			msgs, err := store.ListMessages(ctx, "ABC123", cursor, 1)
			require.NoError(t, err)
			if len(msgs) == 0 {
				break
			}
			require.Len(t, msgs, 1)
			got = append(got, msgs[0].Text)
			cursor = msgs[0].CreatedAt
		}
		assert.Equal(t, []string{"two", "three", "four"}, got)
	})

	t.Run("delete is per room", func(t *testing.T) {
		require.NoError(t, store.DeleteMessages(ctx, "ABC123"))

		msgs, err := store.ListMessages(ctx, "ABC123", time.Time{}, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs)

		other, err := store.ListMessages(ctx, "ZZZ999", time.Time{}, 0)
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})
}

func TestChatStoreComments(t *testing.T) {
	ctx := context.Background()
	store := newTestChatStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	comments := []domain.PanelComment{
		{RoomCode: "ABC123", PageID: "p1", UserID: "u1", Username: "alice", Text: "look", XPercent: 10, YPercent: 20, CreatedAt: base},
		{RoomCode: "ABC123", PageID: "p2", UserID: "u2", Username: "bob", Text: "here", XPercent: 50, YPercent: 50, CreatedAt: base.Add(time.Second)},
		{RoomCode: "ABC123", PageID: "p1", UserID: "u2", Username: "bob", Text: "nice", XPercent: 99.5, YPercent: 0, CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range comments {
		require.NoError(t, store.CreateComment(ctx, &comments[i]))
	}

	all, err := store.ListComments(ctx, "ABC123", "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "look", all[0].Text)

	page, err := store.ListComments(ctx, "ABC123", "p1")
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "nice", page[1].Text)
	assert.InDelta(t, 99.5, page[1].XPercent, 0.0001)

	require.NoError(t, store.DeleteComments(ctx, "ABC123"))
	all, err = store.ListComments(ctx, "ABC123", "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestChatStoreRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	store := newTestChatStore(t)

	assert.ErrorIs(t, store.CreateMessage(ctx, &domain.ChatMessage{Text: "x"}), domain.ErrInvalidInput)
	assert.ErrorIs(t, store.CreateComment(ctx, &domain.PanelComment{RoomCode: "ABC123"}), domain.ErrInvalidInput)

	_, err := store.ListMessages(ctx, "", time.Time{}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
