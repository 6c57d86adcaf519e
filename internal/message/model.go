package message

import (
	"time"

	"go-counsel/internal/protocol"
)

type Type string

const (
	TypeText     Type = "TEXT"
	TypeImage    Type = "IMAGE"
	TypeDocument Type = "DOCUMENT"
	TypeSystem   Type = "SYSTEM"
)

const maxContentLength = 5000

// Message is immutable once stored; only the read state changes, false to true.
type Message struct {
	ID             string
	ConsultationID string
	SenderID       string
	SenderName     string // denormalized for the UI (fetched via JOIN)
	SenderAvatar   string
	SenderRole     string
	Type           Type
	Content        string
	FileURL        string
	ReplyToID      string
	IsRead         bool
	ReadAt         *time.Time
	CreatedAt      time.Time
}

func (m *Message) View() protocol.MessageView {
	return protocol.MessageView{
		ID:             m.ID,
		ConsultationID: m.ConsultationID,
		Sender: protocol.Sender{
			ID:        m.SenderID,
			Name:      m.SenderName,
			AvatarURL: m.SenderAvatar,
			Role:      m.SenderRole,
		},
		Type:      string(m.Type),
		Content:   m.Content,
		FileURL:   m.FileURL,
		ReplyToID: m.ReplyToID,
		IsRead:    m.IsRead,
		ReadAt:    m.ReadAt,
		CreatedAt: m.CreatedAt,
	}
}

// SendRequest is the input shared by the websocket and HTTP entry points.
type SendRequest struct {
	ConsultationID string `json:"consultationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	FileURL        string `json:"fileUrl,omitempty"`
	ReplyToID      string `json:"replyToId,omitempty"`
}
