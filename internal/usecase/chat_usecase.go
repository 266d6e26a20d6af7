package usecase

import (
	"context"
	"strings"
	"time"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/internal/infrastructure/metrics"
	"marketchat/internal/infrastructure/ratelimit"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

// Broadcaster fans an event out to every connection joined to chatID's room,
// plus the private rooms of users. Delivery is best-effort and must not block.
type Broadcaster interface {
	Broadcast(chatID, event string, payload interface{}, users ...string)
}

type RateLimiter interface {
	Allow(userID, action string) (bool, time.Duration)
}

type ChatUseCase struct {
	chatRepo    repository.ChatRepository
	userRepo    repository.UserRepository
	productRepo repository.ProductRepository
	broadcaster Broadcaster
	rateLimiter RateLimiter
	metrics     *metrics.Metrics
}

func NewChatUseCase(
	chatRepo repository.ChatRepository,
	userRepo repository.UserRepository,
	productRepo repository.ProductRepository,
	broadcaster Broadcaster,
) *ChatUseCase {
	return &ChatUseCase{
		chatRepo:    chatRepo,
		userRepo:    userRepo,
		productRepo: productRepo,
		broadcaster: broadcaster,
	}
}

// WithBroadcaster sets the realtime fan-out. The gateway needs IsParticipant
// before it exists, so it is usually attached after construction.
func (uc *ChatUseCase) WithBroadcaster(b Broadcaster) *ChatUseCase {
	uc.broadcaster = b
	return uc
}

// WithRateLimiter enables per-user limits on chat creation and sends.
func (uc *ChatUseCase) WithRateLimiter(rl RateLimiter) *ChatUseCase {
	uc.rateLimiter = rl
	return uc
}

func (uc *ChatUseCase) WithMetrics(m *metrics.Metrics) *ChatUseCase {
	uc.metrics = m
	return uc
}

type ChatResponse struct {
	*entity.Chat
	Product   *entity.ProductSummary `json:"product,omitempty"`
	Buyer     *entity.UserSummary    `json:"buyer,omitempty"`
	Seller    *entity.UserSummary    `json:"seller,omitempty"`
	OtherUser *entity.UserSummary    `json:"other_user,omitempty"`
	Unread    int                    `json:"unread"`
}

type MessageResponse struct {
	*entity.Message
	Sender *entity.UserSummary `json:"sender,omitempty"`
}

type HistoryResponse struct {
	Chat     *ChatResponse      `json:"chat"`
	Messages []*MessageResponse `json:"messages"`
}

type ReadResult struct {
	ChatID  string `json:"chat_id"`
	Flipped int    `json:"flipped"`
}

func (uc *ChatUseCase) StartChat(ctx context.Context, buyerID, productID string) (*ChatResponse, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return nil, errors.Validation("product_id is required")
	}

	if err := uc.allow(buyerID, ratelimit.ActionCreateChat); err != nil {
		logger.Warn("StartChat Rate Limited: User %s", buyerID)
		return nil, err
	}

	product, err := uc.productRepo.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return nil, errors.NotFound("Product", err)
		}
		logger.Error("StartChat Error: Failed to load product %s: %v", productID, err)
		return nil, err
	}

	if product.SellerID == buyerID {
		return nil, errors.SelfChat()
	}

	chat, err := uc.chatRepo.FindOrCreate(ctx, buyerID, product.SellerID, product.ID)
	if err != nil {
		logger.Error("StartChat Error: Failed to find or create chat for buyer %s product %s: %v", buyerID, productID, err)
		return nil, err
	}
	uc.metrics.ChatStarted()

	users := make(map[string]*entity.UserSummary)
	resp := uc.chatResponse(ctx, chat, buyerID, users)
	resp.Product = product.Summary()
	return resp, nil
}

// SendMessage persists the message and then broadcasts it. The broadcast does
// not affect the result. A retried call creates a second message.
func (uc *ChatUseCase) SendMessage(ctx context.Context, chatID, senderID, text string) (*MessageResponse, error) {
	chat, err := uc.participantChat(ctx, chatID, senderID)
	if err != nil {
		return nil, err
	}

	if err := uc.allow(senderID, ratelimit.ActionSendMessage); err != nil {
		logger.Warn("SendMessage Rate Limited: User %s in chat %s", senderID, chatID)
		return nil, err
	}

	message, err := uc.chatRepo.AppendMessage(ctx, chat.ID, senderID, text)
	if err != nil {
		if !errors.Is(err, errors.CodeValidation) {
			logger.Error("SendMessage Error: Failed to append message to chat %s: %v", chatID, err)
		}
		return nil, err
	}
	uc.metrics.MessageSent()

	resp := &MessageResponse{
		Message: message,
		Sender:  uc.userSummary(ctx, senderID, make(map[string]*entity.UserSummary)),
	}
	if uc.broadcaster != nil {
		// Participants' private rooms let closed chats update the sidebar badge.
		uc.broadcaster.Broadcast(chat.ID, entity.EventReceiveMessage, resp, chat.BuyerID, chat.SellerID)
	}
	return resp, nil
}

// GetHistory returns every message oldest first and clears the viewer's unread
// counter. Read flags are left alone; only MarkAsRead flips them.
func (uc *ChatUseCase) GetHistory(ctx context.Context, chatID, viewerID string) (*HistoryResponse, error) {
	chat, err := uc.participantChat(ctx, chatID, viewerID)
	if err != nil {
		return nil, err
	}

	messages, err := uc.chatRepo.ListMessages(ctx, chat.ID)
	if err != nil {
		logger.Error("GetHistory Error: Failed to list messages for chat %s: %v", chatID, err)
		return nil, err
	}

	if err := uc.chatRepo.ResetUnread(ctx, chat.ID, viewerID); err != nil {
		logger.Warn("GetHistory: Failed to reset unread for user %s in chat %s: %v", viewerID, chatID, err)
	} else if chat.UnreadCount != nil {
		chat.UnreadCount[viewerID] = 0
	}

	users := make(map[string]*entity.UserSummary)
	out := make([]*MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, &MessageResponse{
			Message: m,
			Sender:  uc.userSummary(ctx, m.SenderID, users),
		})
	}

	resp := uc.chatResponse(ctx, chat, viewerID, users)
	resp.Product = uc.productSummary(ctx, chat.ProductID)
	return &HistoryResponse{Chat: resp, Messages: out}, nil
}

// MarkAsRead zeroes the viewer's counter and flips the counterpart's messages
// to read. messages_read is broadcast only when at least one message changed.
func (uc *ChatUseCase) MarkAsRead(ctx context.Context, chatID, viewerID string) (*ReadResult, error) {
	chat, err := uc.participantChat(ctx, chatID, viewerID)
	if err != nil {
		return nil, err
	}

	if err := uc.chatRepo.ResetUnread(ctx, chat.ID, viewerID); err != nil {
		logger.Error("MarkAsRead Error: Failed to reset unread for user %s in chat %s: %v", viewerID, chatID, err)
		return nil, err
	}

	flipped, err := uc.chatRepo.MarkReceivedAsRead(ctx, chat.ID, viewerID)
	if err != nil {
		logger.Error("MarkAsRead Error: Failed to flip read flags in chat %s: %v", chatID, err)
		return nil, err
	}

	if flipped > 0 && uc.broadcaster != nil {
		uc.broadcaster.Broadcast(chat.ID, entity.EventMessagesRead, entity.ReadReceipt{
			ChatID:   chat.ID,
			ReaderID: viewerID,
		})
	}
	return &ReadResult{ChatID: chat.ID, Flipped: flipped}, nil
}

func (uc *ChatUseCase) ListMyChats(ctx context.Context, userID string) ([]*ChatResponse, error) {
	chats, err := uc.chatRepo.ListByUserID(ctx, userID)
	if err != nil {
		logger.Error("ListMyChats Error: Failed to list chats for user %s: %v", userID, err)
		return nil, err
	}

	users := make(map[string]*entity.UserSummary)
	products := make(map[string]*entity.ProductSummary)
	out := make([]*ChatResponse, 0, len(chats))
	for _, chat := range chats {
		resp := uc.chatResponse(ctx, chat, userID, users)
		if p, ok := products[chat.ProductID]; ok {
			resp.Product = p
		} else {
			resp.Product = uc.productSummary(ctx, chat.ProductID)
			products[chat.ProductID] = resp.Product
		}
		out = append(out, resp)
	}
	return out, nil
}

// IsParticipant is used by the realtime gateway to authorize join_chat.
func (uc *ChatUseCase) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, errors.CodeNotFound) {
			return false, nil
		}
		return false, err
	}
	return chat.HasParticipant(userID), nil
}

func (uc *ChatUseCase) participantChat(ctx context.Context, chatID, userID string) (*entity.Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, errors.Validation("chat id is required")
	}

	chat, err := uc.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		if !errors.Is(err, errors.CodeNotFound) {
			logger.Error("Chat lookup failed for %s: %v", chatID, err)
		}
		return nil, err
	}
	if !chat.HasParticipant(userID) {
		logger.Warn("Access denied: user %s is not a participant in chat %s", userID, chatID)
		return nil, errors.AccessDenied("You are not a participant in this chat")
	}
	return chat, nil
}

func (uc *ChatUseCase) allow(userID, action string) error {
	if uc.rateLimiter == nil {
		return nil
	}
	if ok, wait := uc.rateLimiter.Allow(userID, action); !ok {
		uc.metrics.Limited(action)
		return errors.TooManyRequests("Rate limit exceeded. Retry in " + wait.Round(time.Second).String())
	}
	return nil
}

func (uc *ChatUseCase) chatResponse(ctx context.Context, chat *entity.Chat, viewerID string, users map[string]*entity.UserSummary) *ChatResponse {
	resp := &ChatResponse{
		Chat:   chat,
		Buyer:  uc.userSummary(ctx, chat.BuyerID, users),
		Seller: uc.userSummary(ctx, chat.SellerID, users),
		Unread: chat.Unread(viewerID),
	}
	switch chat.Counterpart(viewerID) {
	case chat.BuyerID:
		resp.OtherUser = resp.Buyer
	case chat.SellerID:
		resp.OtherUser = resp.Seller
	}
	return resp
}

// userSummary resolves display data, memoized in cache. Lookup failures degrade to nil.
func (uc *ChatUseCase) userSummary(ctx context.Context, userID string, cache map[string]*entity.UserSummary) *entity.UserSummary {
	if s, ok := cache[userID]; ok {
		return s
	}
	var summary *entity.UserSummary
	if uc.userRepo != nil {
		user, err := uc.userRepo.GetByID(ctx, userID)
		if err != nil {
			logger.Warn("User summary unavailable for %s: %v", userID, err)
		} else {
			summary = user.Summary()
		}
	}
	cache[userID] = summary
	return summary
}

func (uc *ChatUseCase) productSummary(ctx context.Context, productID string) *entity.ProductSummary {
	product, err := uc.productRepo.GetByID(ctx, productID)
	if err != nil {
		logger.Warn("Product summary unavailable for %s: %v", productID, err)
		return nil
	}
	return product.Summary()
}
