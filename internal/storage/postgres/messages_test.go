package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/officeverse/presence/internal/storage/postgres"
	"github.com/officeverse/presence/internal/testutil"
)

func uniqueConversation(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestMessageRepository_Create(t *testing.T) {
	repo := postgres.NewMessageRepository(testutil.NewPool(t))
	ctx := context.Background()
	conv := uniqueConversation("conv")

	msg, err := repo.Create(ctx, conv, "u1", "alice", "hello office")
	require.NoError(t, err)

	assert.Greater(t, msg.ID, int64(0))
	assert.Equal(t, conv, msg.ConversationID)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, "alice", msg.Username)
	assert.Equal(t, "hello office", msg.Body)
	assert.False(t, msg.CreatedAt.IsZero())
}

func TestMessageRepository_ListByConversation(t *testing.T) {
	repo := postgres.NewMessageRepository(testutil.NewPool(t))
	ctx := context.Background()
	conv := uniqueConversation("conv")
	other := uniqueConversation("other")

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, conv, "u1", "alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, other, "u2", "bob", "elsewhere")
	require.NoError(t, err)

	msgs, err := repo.ListByConversation(ctx, conv, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, fmt.Sprintf("msg %d", i), msg.Body, "messages must come back oldest-first")
		assert.Equal(t, conv, msg.ConversationID)
	}
}

func TestMessageRepository_ListHonorsLimit(t *testing.T) {
	repo := postgres.NewMessageRepository(testutil.NewPool(t))
	ctx := context.Background()
	conv := uniqueConversation("conv")

	for i := 0; i < 5; i++ {
		_, err := repo.Create(ctx, conv, "u1", "alice", fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	msgs, err := repo.ListByConversation(ctx, conv, 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestMessageRepository_ListUnknownConversationIsEmpty(t *testing.T) {
	repo := postgres.NewMessageRepository(testutil.NewPool(t))

	msgs, err := repo.ListByConversation(context.Background(), "never-used", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
