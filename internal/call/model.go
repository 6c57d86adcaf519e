package call

import "time"

type Status string

const (
	StatusRinging  Status = "RINGING"
	StatusActive   Status = "ACTIVE"
	StatusDeclined Status = "DECLINED"
	StatusMissed   Status = "MISSED"
	StatusEnded    Status = "ENDED"
)

type Type string

const (
	TypeVoice Type = "VOICE"
	TypeVideo Type = "VIDEO"
)

// Session lives only in process memory.
type Session struct {
	ID             string     `json:"id"`
	ConsultationID string     `json:"consultationId"`
	InitiatorID    string     `json:"initiatorId"`
	ReceiverID     string     `json:"receiverId"`
	Type           Type       `json:"type"`
	Status         Status     `json:"status"`
	ChannelName    string     `json:"channelName"`
	InitiatorUID   uint32     `json:"initiatorUid"`
	ReceiverUID    uint32     `json:"receiverUid"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	Duration       int        `json:"duration"` // seconds
}

func (s *Session) IsParty(userID string) bool {
	return userID != "" && (userID == s.InitiatorID || userID == s.ReceiverID)
}

// UIDFor returns the transport uid of a party, or 0 for anyone else.
func (s *Session) UIDFor(userID string) uint32 {
	switch userID {
	case s.InitiatorID:
		return s.InitiatorUID
	case s.ReceiverID:
		return s.ReceiverUID
	default:
		return 0
	}
}

// Credentials is what a party needs to join the media channel.
type Credentials struct {
	Call           Session `json:"call"`
	Token          string  `json:"token"`
	UID            uint32  `json:"uid"`
	ReceiverOnline *bool   `json:"receiverOnline,omitempty"`
}
