package entity

import (
	"time"

	"marketchat/pkg/errors"
)

// Chat is a two-party conversation scoped to one product listing.
type Chat struct {
	ID            string         `json:"id" firestore:"id"`
	BuyerID       string         `json:"buyer_id" firestore:"buyerId"`
	SellerID      string         `json:"seller_id" firestore:"sellerId"`
	ProductID     string         `json:"product_id" firestore:"productId"`
	Participants  []string       `json:"participants" firestore:"participants"`
	LastMessage   string         `json:"last_message,omitempty" firestore:"lastMessage,omitempty"`
	LastMessageAt time.Time      `json:"last_message_at" firestore:"lastMessageAt"`
	UnreadCount   map[string]int `json:"unread_count" firestore:"unreadCount"` // userID -> unread messages
	CreatedAt     time.Time      `json:"created_at" firestore:"createdAt"`
	UpdatedAt     time.Time      `json:"updated_at" firestore:"updatedAt"`
}

// NewChat builds an unsaved chat with zeroed counters for both participants.
func NewChat(buyerID, sellerID, productID string) (*Chat, error) {
	if buyerID == "" || sellerID == "" || productID == "" {
		return nil, errors.Validation("buyer, seller and product are required")
	}
	if buyerID == sellerID {
		return nil, errors.SelfChat()
	}

	now := time.Now().UTC()
	return &Chat{
		BuyerID:       buyerID,
		SellerID:      sellerID,
		ProductID:     productID,
		Participants:  []string{buyerID, sellerID},
		LastMessageAt: now,
		UnreadCount:   map[string]int{buyerID: 0, sellerID: 0},
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (c *Chat) HasParticipant(userID string) bool {
	return userID != "" && (c.BuyerID == userID || c.SellerID == userID)
}

// Counterpart returns the participant who is not userID, or "" if userID is not in the chat.
func (c *Chat) Counterpart(userID string) string {
	switch userID {
	case c.BuyerID:
		return c.SellerID
	case c.SellerID:
		return c.BuyerID
	}
	return ""
}

func (c *Chat) Unread(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}

// Clone returns a deep copy so callers can't mutate shared store state.
func (c *Chat) Clone() *Chat {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		cp.UnreadCount[k] = v
	}
	return &cp
}
