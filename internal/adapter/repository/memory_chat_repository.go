package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
)

// memoryChatRepository keeps everything behind one mutex, so every operation
// is a single atomic step. Used for local development and tests.
type memoryChatRepository struct {
	mu       sync.Mutex
	chats    map[string]*entity.Chat
	keys     map[string]string
	messages map[string][]*entity.Message
	now      func() time.Time
}

func NewMemoryChatRepository() repository.ChatRepository {
	return &memoryChatRepository{
		chats:    make(map[string]*entity.Chat),
		keys:     make(map[string]string),
		messages: make(map[string][]*entity.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *memoryChatRepository) FindOrCreate(ctx context.Context, buyerID, sellerID, productID string) (*entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.keys[chatKeyID(buyerID, productID)]; ok {
		return r.chats[id].Clone(), nil
	}

	chat, err := entity.NewChat(buyerID, sellerID, productID)
	if err != nil {
		return nil, err
	}
	chat.ID = uuid.New().String()

	r.chats[chat.ID] = chat
	r.keys[chatKeyID(buyerID, productID)] = chat.ID
	return chat.Clone(), nil
}

func (r *memoryChatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[id]
	if !ok {
		return nil, errors.NotFound("Chat", nil)
	}
	return chat.Clone(), nil
}

func (r *memoryChatRepository) ListByUserID(ctx context.Context, userID string) ([]*entity.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var chats []*entity.Chat
	for _, chat := range r.chats {
		if chat.HasParticipant(userID) {
			chats = append(chats, chat.Clone())
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt.After(chats[j].UpdatedAt)
	})
	return chats, nil
}

func (r *memoryChatRepository) AppendMessage(ctx context.Context, chatID, senderID, text string) (*entity.Message, error) {
	message, err := entity.NewMessage(chatID, senderID, text)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return nil, errors.NotFound("Chat", nil)
	}
	receiverID := chat.Counterpart(senderID)
	if receiverID == "" {
		return nil, errors.AccessDenied("Sender is not a participant in this chat")
	}

	message.ID = uuid.New().String()
	message.CreatedAt = r.tick(chatID)
	r.messages[chatID] = append(r.messages[chatID], message)

	chat.UnreadCount[receiverID]++
	chat.LastMessage = message.Text
	chat.LastMessageAt = message.CreatedAt
	chat.UpdatedAt = message.CreatedAt

	cp := *message
	return &cp, nil
}

// tick keeps createdAt strictly increasing within a chat so ordering by
// timestamp matches insertion order even on coarse clocks.
func (r *memoryChatRepository) tick(chatID string) time.Time {
	now := r.now()
	if msgs := r.messages[chatID]; len(msgs) > 0 {
		if last := msgs[len(msgs)-1].CreatedAt; !now.After(last) {
			now = last.Add(time.Microsecond)
		}
	}
	return now
}

func (r *memoryChatRepository) ListMessages(ctx context.Context, chatID string) ([]*entity.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msgs := r.messages[chatID]
	out := make([]*entity.Message, 0, len(msgs))
	for _, m := range msgs {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memoryChatRepository) ResetUnread(ctx context.Context, chatID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return errors.NotFound("Chat", nil)
	}
	chat.UnreadCount[userID] = 0
	chat.UpdatedAt = r.now()
	return nil
}

func (r *memoryChatRepository) MarkReceivedAsRead(ctx context.Context, chatID, viewerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.chats[chatID]; !ok {
		return 0, errors.NotFound("Chat", nil)
	}

	flipped := 0
	for _, m := range r.messages[chatID] {
		if m.SenderID != viewerID && !m.Read {
			m.Read = true
			flipped++
		}
	}
	return flipped, nil
}
