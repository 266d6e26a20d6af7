package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketchat/internal/domain/entity"
	"marketchat/pkg/errors"
)

// These tests need the Firestore emulator, e.g.
// gcloud emulators firestore start --host-port=localhost:8200
func newTestFirestoreRepo(t *testing.T) (*firestoreChatRepository, *firestore.Client) {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := firestore.NewClient(ctx, "marketchat-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return &firestoreChatRepository{client: client}, client
}

// seedMessages writes n unread messages from senderID without touching counters.
func seedMessages(t *testing.T, client *firestore.Client, chatID, senderID string, n int) {
	t.Helper()
	ctx := context.Background()
	bw := client.BulkWriter(ctx)
	msgs := client.Collection(chatsCollection).Doc(chatID).Collection(messagesCollection)
	for i := 0; i < n; i++ {
		msg := &entity.Message{
			ID:        uuid.New().String(),
			ChatID:    chatID,
			SenderID:  senderID,
			Text:      "seeded",
			CreatedAt: time.Now().UTC(),
		}
		_, err := bw.Create(msgs.Doc(msg.ID), msg)
		require.NoError(t, err)
	}
	bw.End()
}

func TestFirestoreFindOrCreateAndIncrement(t *testing.T) {
	repo, _ := newTestFirestoreRepo(t)
	ctx := context.Background()
	buyer, product := "buyer-"+uuid.NewString(), "p-"+uuid.NewString()

	first, err := repo.FindOrCreate(ctx, buyer, "seller", product)
	require.NoError(t, err)
	second, err := repo.FindOrCreate(ctx, buyer, "seller", product)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = repo.AppendMessage(ctx, first.ID, buyer, "hi")
	require.NoError(t, err)
	_, err = repo.AppendMessage(ctx, first.ID, buyer, "still there?")
	require.NoError(t, err)

	chat, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, chat.Unread("seller"))
	assert.Equal(t, 0, chat.Unread(buyer))
	assert.Equal(t, "still there?", chat.LastMessage)

	_, err = repo.AppendMessage(ctx, first.ID, "stranger", "hello")
	assert.True(t, errors.Is(err, errors.CodeAccessDenied))
}

func TestFirestoreReadFlipSkipsViewerMessagesAcrossPages(t *testing.T) {
	repo, client := newTestFirestoreRepo(t)
	ctx := context.Background()
	buyer := "buyer-" + uuid.NewString()

	chat, err := repo.FindOrCreate(ctx, buyer, "seller", "p-"+uuid.NewString())
	require.NoError(t, err)

	// more of the viewer's own unread messages than one transaction can hold
	seedMessages(t, client, chat.ID, "seller", maxTransactionWrites+10)
	seedMessages(t, client, chat.ID, buyer, maxTransactionWrites+1)

	flipped, err := repo.MarkReceivedAsRead(ctx, chat.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, maxTransactionWrites+1, flipped)

	messages, err := repo.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	for _, msg := range messages {
		assert.Equal(t, msg.SenderID == buyer, msg.Read, "message %s from %s", msg.ID, msg.SenderID)
	}

	flipped, err = repo.MarkReceivedAsRead(ctx, chat.ID, "seller")
	require.NoError(t, err)
	assert.Zero(t, flipped)

	_, err = repo.MarkReceivedAsRead(ctx, chat.ID, "stranger")
	assert.True(t, errors.Is(err, errors.CodeAccessDenied))
}
