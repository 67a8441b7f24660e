package chat

import (
	"context"
	"database/sql"
	"time"

	"go-livechat/internal/protocol"
)

// Archive persists transcripts so history survives a relay restart.
type Archive interface {
	SaveConversation(ctx context.Context, sessionID string, info *protocol.CustomerInfo) error
	SaveMessage(ctx context.Context, msg ArchivedMessage) error
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]ArchivedMessage, error)
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) SaveConversation(ctx context.Context, sessionID string, info *protocol.CustomerInfo) error {
	var name, email sql.NullString
	if info != nil {
		name = sql.NullString{String: info.Name, Valid: info.Name != ""}
		email = sql.NullString{String: info.Email, Valid: info.Email != ""}
	}
	query := `
		INSERT INTO support_conversations (session_id, customer_name, customer_email)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id) DO UPDATE SET
			customer_name = COALESCE(EXCLUDED.customer_name, support_conversations.customer_name),
			customer_email = COALESCE(EXCLUDED.customer_email, support_conversations.customer_email),
			last_active = CURRENT_TIMESTAMP
	`
	_, err := r.db.ExecContext(ctx, query, sessionID, name, email)
	return err
}

// SaveMessage stores one message. Re-sent ids are ignored.
func (r *Repository) SaveMessage(ctx context.Context, msg ArchivedMessage) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	query := `
		INSERT INTO support_messages (session_id, message_id, sender, content, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, message_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, msg.SessionID, msg.MessageID, msg.Sender, msg.Content, msg.SentAt)
	return err
}

// RecentMessages returns up to limit messages of a session, oldest first.
func (r *Repository) RecentMessages(ctx context.Context, sessionID string, limit int) ([]ArchivedMessage, error) {
	query := `
		SELECT id, session_id, message_id, sender, content, sent_at FROM (
			SELECT id, session_id, message_id, sender, content, sent_at
			FROM support_messages
			WHERE session_id = $1
			ORDER BY sent_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY sent_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []ArchivedMessage
	for rows.Next() {
		var msg ArchivedMessage
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.MessageID, &msg.Sender, &msg.Content, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
