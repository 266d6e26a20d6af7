package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"marketchat/internal/domain/entity"
	"marketchat/internal/domain/repository"
	"marketchat/pkg/errors"
	"marketchat/pkg/logger"
)

//go:embed postgres_schema.sql
var postgresSchema string

// MigratePostgres applies the chat schema. Statements are idempotent.
func MigratePostgres(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return classifySQL(err, "Chat", "Failed to apply chat schema")
	}
	return nil
}

type postgresChatRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresChatRepository(db *sql.DB) repository.ChatRepository {
	return &postgresChatRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

const chatColumns = `id, buyer_id, seller_id, product_id, last_message, last_message_at, unread_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChat(row rowScanner) (*entity.Chat, error) {
	var (
		chat   entity.Chat
		unread []byte
	)
	if err := row.Scan(
		&chat.ID,
		&chat.BuyerID,
		&chat.SellerID,
		&chat.ProductID,
		&chat.LastMessage,
		&chat.LastMessageAt,
		&unread,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	); err != nil {
		return nil, err
	}

	chat.UnreadCount = make(map[string]int)
	if len(unread) > 0 {
		if err := json.Unmarshal(unread, &chat.UnreadCount); err != nil {
			return nil, err
		}
	}
	chat.Participants = []string{chat.BuyerID, chat.SellerID}
	return &chat, nil
}

func (r *postgresChatRepository) findByPair(ctx context.Context, buyerID, productID string) (*entity.Chat, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+chatColumns+` FROM chats WHERE buyer_id = $1 AND product_id = $2`,
		buyerID, productID)
	return scanChat(row)
}

func (r *postgresChatRepository) FindOrCreate(ctx context.Context, buyerID, sellerID, productID string) (*entity.Chat, error) {
	chat, err := r.findByPair(ctx, buyerID, productID)
	if err == nil {
		return chat, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return nil, classifySQL(err, "Chat", "Failed to look up chat")
	}

	newChat, err := entity.NewChat(buyerID, sellerID, productID)
	if err != nil {
		return nil, err
	}
	newChat.ID = uuid.New().String()

	unread, err := json.Marshal(newChat.UnreadCount)
	if err != nil {
		return nil, errors.Internal("Failed to encode unread counters", err)
	}

	// ON CONFLICT DO NOTHING returns no row when a concurrent caller won the
	// insert; re-reading then yields the winner's chat.
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO chats (`+chatColumns+`)
		VALUES ($1, $2, $3, $4, '', $5, $6, $7, $8)
		ON CONFLICT (buyer_id, product_id) DO NOTHING
		RETURNING `+chatColumns,
		newChat.ID, newChat.BuyerID, newChat.SellerID, newChat.ProductID,
		newChat.LastMessageAt, unread, newChat.CreatedAt, newChat.UpdatedAt)

	chat, err = scanChat(row)
	if err == nil {
		return chat, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		return nil, classifySQL(err, "Chat", "Failed to create chat")
	}

	chat, err = r.findByPair(ctx, buyerID, productID)
	if err != nil {
		return nil, classifySQL(err, "Chat", "Failed to look up chat")
	}
	return chat, nil
}

func (r *postgresChatRepository) GetByID(ctx context.Context, id string) (*entity.Chat, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE id = $1`, id)
	chat, err := scanChat(row)
	if err != nil {
		return nil, classifySQL(err, "Chat", "Failed to get chat")
	}
	return chat, nil
}

func (r *postgresChatRepository) ListByUserID(ctx context.Context, userID string) ([]*entity.Chat, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+chatColumns+` FROM chats
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, classifySQL(err, "Chat", "Failed to fetch chats")
	}
	defer rows.Close()

	var chats []*entity.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			logger.Warn("Skipping malformed chat row for user %s: %v", userID, err)
			continue
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQL(err, "Chat", "Failed to fetch chats")
	}
	return chats, nil
}

func (r *postgresChatRepository) AppendMessage(ctx context.Context, chatID, senderID, text string) (msg *entity.Message, err error) {
	message, err := entity.NewMessage(chatID, senderID, text)
	if err != nil {
		return nil, err
	}
	message.ID = uuid.New().String()
	message.CreatedAt = r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifySQL(err, "Chat", "Failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !stderrors.Is(rollbackErr, sql.ErrTxDone) {
				logger.Warn("AppendMessage rollback for chat %s: %v", chatID, rollbackErr)
			}
		}
	}()

	var buyerID, sellerID string
	if err = tx.QueryRowContext(ctx, `SELECT buyer_id, seller_id FROM chats WHERE id = $1`, chatID).Scan(&buyerID, &sellerID); err != nil {
		return nil, classifySQL(err, "Chat", "Failed to get chat")
	}

	var receiverID string
	switch senderID {
	case buyerID:
		receiverID = sellerID
	case sellerID:
		receiverID = buyerID
	default:
		err = errors.AccessDenied("Sender is not a participant in this chat")
		return nil, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, sender_id, text, read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5)`,
		message.ID, message.ChatID, message.SenderID, message.Text, message.CreatedAt); err != nil {
		return nil, classifySQL(err, "Chat", "Failed to create message")
	}

	// Single UPDATE so the increment is evaluated against the latest row version.
	if _, err = tx.ExecContext(ctx, `
		UPDATE chats SET
			unread_count = jsonb_set(unread_count, ARRAY[$2::text], to_jsonb(COALESCE((unread_count ->> $2::text)::int, 0) + 1), true),
			last_message = $3,
			last_message_at = $4,
			updated_at = $4
		WHERE id = $1`,
		chatID, receiverID, message.Text, message.CreatedAt); err != nil {
		return nil, classifySQL(err, "Chat", "Failed to update chat")
	}

	if err = tx.Commit(); err != nil {
		return nil, classifySQL(err, "Chat", "Failed to commit message")
	}
	return message, nil
}

func (r *postgresChatRepository) ListMessages(ctx context.Context, chatID string) ([]*entity.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, chat_id, sender_id, text, read, created_at
		FROM messages WHERE chat_id = $1
		ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, classifySQL(err, "Chat", "Failed to fetch messages")
	}
	defer rows.Close()

	var messages []*entity.Message
	for rows.Next() {
		var m entity.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Read, &m.CreatedAt); err != nil {
			return nil, errors.Internal("Failed to parse message row", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQL(err, "Chat", "Failed to fetch messages")
	}
	return messages, nil
}

func (r *postgresChatRepository) ResetUnread(ctx context.Context, chatID, userID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE chats SET
			unread_count = jsonb_set(unread_count, ARRAY[$2::text], '0'::jsonb, true),
			updated_at = $3
		WHERE id = $1`, chatID, userID, r.now())
	if err != nil {
		return classifySQL(err, "Chat", "Failed to reset unread count")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NotFound("Chat", nil)
	}
	return nil
}

func (r *postgresChatRepository) MarkReceivedAsRead(ctx context.Context, chatID, viewerID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read = TRUE
		WHERE chat_id = $1 AND sender_id <> $2 AND read = FALSE`, chatID, viewerID)
	if err != nil {
		return 0, classifySQL(err, "Chat", "Failed to mark messages as read")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classifySQL(err, "Chat", "Failed to count read messages")
	}
	return int(n), nil
}

func classifySQL(err error, resource, message string) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(resource, err)
	}
	if stderrors.Is(err, driver.ErrBadConn) || stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, sql.ErrConnDone) {
		return errors.Unavailable(message, err)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return errors.Unavailable(message, err)
		case "40":
			return errors.Unavailable(message, err)
		}
	}
	return errors.Internal(message, err)
}
