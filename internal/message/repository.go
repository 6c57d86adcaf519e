package message

import (
	"context"
	"database/sql"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Create stores m and fills CreatedAt and the sender display fields in one round trip.
func (r *Repository) Create(ctx context.Context, m *Message) error {
	query := `
		WITH inserted AS (
			INSERT INTO messages (id, consultation_id, sender_id, type, content, file_url, reply_to_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING sender_id, created_at
		)
		SELECT i.created_at, u.name, u.avatar_url, u.role
		FROM inserted i
		JOIN users u ON u.id = i.sender_id`

	var replyTo sql.NullString
	if m.ReplyToID != "" {
		replyTo = sql.NullString{String: m.ReplyToID, Valid: true}
	}
	return r.db.QueryRowContext(ctx, query,
		m.ID, m.ConsultationID, m.SenderID, string(m.Type), m.Content, m.FileURL, replyTo,
	).Scan(&m.CreatedAt, &m.SenderName, &m.SenderAvatar, &m.SenderRole)
}

// ListRecent returns up to limit messages of a consultation in chronological order.
func (r *Repository) ListRecent(ctx context.Context, consultationID string, limit int) ([]*Message, error) {
	query := `
		SELECT m.id, m.consultation_id, m.sender_id, u.name, u.avatar_url, u.role,
		       m.type, m.content, m.file_url, m.reply_to_id, m.is_read, m.read_at, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.consultation_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, consultationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var replyTo sql.NullString
		var readAt sql.NullTime
		if err := rows.Scan(&m.ID, &m.ConsultationID, &m.SenderID, &m.SenderName, &m.SenderAvatar, &m.SenderRole,
			&m.Type, &m.Content, &m.FileURL, &replyTo, &m.IsRead, &readAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ReplyToID = replyTo.String
		if readAt.Valid {
			t := readAt.Time
			m.ReadAt = &t
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead flags every unread message the reader did not send and returns their ids.
func (r *Repository) MarkRead(ctx context.Context, consultationID, readerID string, at time.Time) ([]string, error) {
	query := `
		UPDATE messages
		SET is_read = TRUE, read_at = $3
		WHERE consultation_id = $1 AND sender_id <> $2 AND is_read = FALSE
		RETURNING id`
	rows, err := r.db.QueryContext(ctx, query, consultationID, readerID, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
