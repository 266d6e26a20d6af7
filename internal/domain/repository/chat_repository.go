package repository

import (
	"context"

	"marketchat/internal/domain/entity"
)

// ChatRepository is the Chat Store. Implementations must make AppendMessage's
// counter increment and MarkReceivedAsRead's bulk flip atomic against
// concurrent callers.
type ChatRepository interface {
	// FindOrCreate returns the single chat for (buyerID, productID), creating it
	// if absent. Concurrent callers for the same pair observe the same chat.
	FindOrCreate(ctx context.Context, buyerID, sellerID, productID string) (*entity.Chat, error)
	GetByID(ctx context.Context, id string) (*entity.Chat, error)
	// ListByUserID returns every chat userID takes part in, most recently updated first.
	ListByUserID(ctx context.Context, userID string) ([]*entity.Chat, error)

	// AppendMessage persists text from senderID and bumps the counterpart's unread counter by one.
	AppendMessage(ctx context.Context, chatID, senderID, text string) (*entity.Message, error)
	// ListMessages returns the chat's messages oldest first.
	ListMessages(ctx context.Context, chatID string) ([]*entity.Message, error)
	ResetUnread(ctx context.Context, chatID, userID string) error
	// MarkReceivedAsRead flips read=true on unread messages not sent by viewerID
	// and reports how many changed.
	MarkReceivedAsRead(ctx context.Context, chatID, viewerID string) (int, error)
}
