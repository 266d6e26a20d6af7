package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

const (
	chatsCollection    = "chats"
	chatKeysCollection = "chat_keys"
	messagesCollection = "messages"
)

type firestoreChatRepository struct {
	client *firestore.Client
}

func NewFirestoreChatRepository(client *firestore.Client) repository.ChatRepository {
	return &firestoreChatRepository{
		client: client,
	}
}

type chatKey struct {
	ChatID    string    `firestore:"chatId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// chat_keys/{buyer}_{product} is the uniqueness guard for (buyer, product).
// Reading it inside the transaction makes a racing creator retry and see our chat.
func chatKeyID(buyerID, productID string) string {
	return buyerID + "_" + productID
}

func (r *firestoreChatRepository) FindOrCreate(ctx context.Context, buyerID, sellerID, productID string) (*entity.Chat, error) {
	newChat, err := entity.NewChat(buyerID, sellerID, productID)
	if err != nil {
		return nil, err
	}

	keyRef := r.client.Collection(chatKeysCollection).Doc(chatKeyID(buyerID, productID))
	var result *entity.Chat

	err = r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		keySnap, err := tx.Get(keyRef)
		if err == nil {
			var key chatKey
			if err := keySnap.DataTo(&key); err != nil {
				return err
			}
			chatSnap, err := tx.Get(r.client.Collection(chatsCollection).Doc(key.ChatID))
			if err != nil {
				return err
			}
			var chat entity.Chat
			if err := chatSnap.DataTo(&chat); err != nil {
				return err
			}
			result = &chat
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return err
		}

		chat := *newChat
		chat.ID = uuid.New().String()
		if err := tx.Create(keyRef, chatKey{ChatID: chat.ID, CreatedAt: chat.CreatedAt}); err != nil {
			return err
		}
		if err := tx.Create(r.client.Collection(chatsCollection).Doc(chat.ID), &chat); err != nil {
			return err
		}
		result = &chat
		return nil
	})
	if err != nil {
		return nil, classify(err, "Chat", "Failed to find or create chat")
	}

	return result, nil
}

func (r *firestoreChatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	doc, err := r.client.Collection(chatsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, classify(err, "Chat", "Failed to get chat")
	}

	var chat entity.Chat
	if err := doc.DataTo(&chat); err != nil {
		return nil, errors.Internal("Failed to parse chat data", err)
	}

	return &chat, nil
}

func (r *firestoreChatRepository) ListByUserID(ctx context.Context, userID string) ([]*entity.Chat, error) {
	query := r.client.Collection(chatsCollection).
		Where("participants", "array-contains", userID).
		OrderBy("updatedAt", firestore.Desc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var chats []*entity.Chat
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while fetching chats for user %s: %v", userID, err)
			return nil, classify(err, "Chat", "Failed to fetch chats")
		}

		var chat entity.Chat
		if err := doc.DataTo(&chat); err != nil {
			logger.Warn("Skipping malformed chat %s for user %s: %v", doc.Ref.ID, userID, err)
			continue
		}
		chats = append(chats, &chat)
	}

	return chats, nil
}

func (r *firestoreChatRepository) AppendMessage(ctx context.Context, chatID, senderID, text string) (*entity.Message, error) {
	message, err := entity.NewMessage(chatID, senderID, text)
	if err != nil {
		return nil, err
	}
	message.ID = uuid.New().String()

	chatRef := r.client.Collection(chatsCollection).Doc(chatID)
	msgRef := chatRef.Collection(messagesCollection).Doc(message.ID)

	err = r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(chatRef)
		if err != nil {
			return err
		}
		var chat entity.Chat
		if err := snap.DataTo(&chat); err != nil {
			return err
		}
		receiverID := chat.Counterpart(senderID)
		if receiverID == "" {
			return errors.AccessDenied("Sender is not a participant in this chat")
		}

		if err := tx.Create(msgRef, message); err != nil {
			return err
		}
		// Increment is applied server side so concurrent senders never lose an update.
		return tx.Update(chatRef, []firestore.Update{
			{FieldPath: firestore.FieldPath{"unreadCount", receiverID}, Value: firestore.Increment(1)},
			{Path: "lastMessage", Value: message.Text},
			{Path: "lastMessageAt", Value: message.CreatedAt},
			{Path: "updatedAt", Value: message.CreatedAt},
		})
	})
	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, classify(err, "Chat", "Failed to create message")
	}

	return message, nil
}

func (r *firestoreChatRepository) ListMessages(ctx context.Context, chatID string) ([]*entity.Message, error) {
	query := r.client.Collection(chatsCollection).Doc(chatID).
		Collection(messagesCollection).
		OrderBy("createdAt", firestore.Asc)

	iter := query.Documents(ctx)
	defer iter.Stop()

	var messages []*entity.Message
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			logger.Error("Firestore error while iterating messages for chat %s: %v", chatID, err)
			return nil, classify(err, "Chat", "Failed to iterate messages")
		}

		var message entity.Message
		if err := doc.DataTo(&message); err != nil {
			return nil, errors.Internal("Failed to parse message data", err)
		}
		messages = append(messages, &message)
	}

	return messages, nil
}

func (r *firestoreChatRepository) ResetUnread(ctx context.Context, chatID, userID string) error {
	_, err := r.client.Collection(chatsCollection).Doc(chatID).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"unreadCount", userID}, Value: 0},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return classify(err, "Chat", "Failed to reset unread count")
	}
	return nil
}

// maxTransactionWrites is Firestore's write cap for one transaction.
const maxTransactionWrites = 500

// MarkReceivedAsRead flips the counterpart's unread messages in transactions of
// up to maxTransactionWrites, until a page comes back short. Each page is
// re-read inside its transaction, so a concurrent caller never flips the same
// message twice.
func (r *firestoreChatRepository) MarkReceivedAsRead(ctx context.Context, chatID, viewerID string) (int, error) {
	chat, err := r.GetByID(ctx, chatID)
	if err != nil {
		return 0, err
	}
	senderID := chat.Counterpart(viewerID)
	if senderID == "" {
		return 0, errors.AccessDenied("Viewer is not a participant in this chat")
	}

	query := r.client.Collection(chatsCollection).Doc(chatID).
		Collection(messagesCollection).
		Where("senderId", "==", senderID).
		Where("read", "==", false).
		Limit(maxTransactionWrites)

	total := 0
	for {
		var page int
		err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
			page = 0
			docs, err := tx.Documents(query).GetAll()
			if err != nil {
				return err
			}
			for _, doc := range docs {
				if err := tx.Update(doc.Ref, []firestore.Update{{Path: "read", Value: true}}); err != nil {
					return err
				}
			}
			page = len(docs)
			return nil
		})
		if err != nil {
			return total, classify(err, "Chat", "Failed to mark messages as read")
		}
		total += page
		if page < maxTransactionWrites {
			return total, nil
		}
	}
}

func classify(err error, resource, message string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return errors.NotFound(resource, err)
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return errors.Unavailable(message, err)
	}
	return errors.Internal(message, err)
}
