package protocol

import "time"

// ---------------------------------------------
// Client -> server
// ---------------------------------------------

type JoinConsultation struct {
	ConsultationID string `json:"consultationId"`
}

func (JoinConsultation) Event() string { return EventJoinConsultation }

type SendMessage struct {
	ConsultationID string `json:"consultationId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	FileURL        string `json:"fileUrl,omitempty"`
	ReplyToID      string `json:"replyToId,omitempty"`
}

func (SendMessage) Event() string { return EventSendMessage }

type TypingStart struct {
	ConsultationID string `json:"consultationId"`
}

func (TypingStart) Event() string { return EventTypingStart }

type TypingStop struct {
	ConsultationID string `json:"consultationId"`
}

func (TypingStop) Event() string { return EventTypingStop }

type ReadReceipt struct {
	ConsultationID string `json:"consultationId"`
}

func (ReadReceipt) Event() string { return EventReadReceipt }

type GetUsersStatus struct {
	UserIDs []string `json:"userIds"`
}

func (GetUsersStatus) Event() string { return EventGetUsersStatus }

// ---------------------------------------------
// Server -> client
// ---------------------------------------------

type JoinedConsultation struct {
	ConsultationID string `json:"consultationId"`
	Status         string `json:"status"`
}

func (JoinedConsultation) Event() string { return EventJoinedConsultation }

// Sender is denormalized onto every message so clients can render without a lookup.
type Sender struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Role      string `json:"role"`
}

type MessageView struct {
	ID             string     `json:"id"`
	ConsultationID string     `json:"consultationId"`
	Sender         Sender     `json:"sender"`
	Type           string     `json:"type"`
	Content        string     `json:"content"`
	FileURL        string     `json:"fileUrl,omitempty"`
	ReplyToID      string     `json:"replyToId,omitempty"`
	IsRead         bool       `json:"isRead"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

type NewMessage struct {
	Message MessageView `json:"message"`
}

func (NewMessage) Event() string { return EventNewMessage }

type MessageBlocked struct {
	ConsultationID string `json:"consultationId"`
	Reason         string `json:"reason"`
	Category       string `json:"category,omitempty"`
}

func (MessageBlocked) Event() string { return EventMessageBlocked }

// TypingNotice is relayed to the consultation channel for both typing-start and typing-stop.
type TypingNotice struct {
	Name           string `json:"-"`
	ConsultationID string `json:"consultationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
}

func (t TypingNotice) Event() string { return t.Name }

type MessagesRead struct {
	ConsultationID string    `json:"consultationId"`
	ReaderID       string    `json:"readerId"`
	MessageIDs     []string  `json:"messageIds"`
	ReadAt         time.Time `json:"readAt"`
}

func (MessagesRead) Event() string { return EventMessagesRead }

type UserStatusChange struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

func (UserStatusChange) Event() string { return EventUserStatusChange }

type UsersStatus struct {
	Statuses map[string]bool `json:"statuses"`
}

func (UsersStatus) Event() string { return EventUsersStatus }

type StatusChange struct {
	ConsultationID  string     `json:"consultationId"`
	Status          string     `json:"status"`
	PreviousStatus  string     `json:"previousStatus"`
	TrialEndAt      *time.Time `json:"trialEndAt,omitempty"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	PaymentReceived bool       `json:"paymentReceived,omitempty"`
	Reason          string     `json:"reason,omitempty"`
}

func (StatusChange) Event() string { return EventStatusChange }

type TrialEndingSoon struct {
	ConsultationID string    `json:"consultationId"`
	TrialEndAt     time.Time `json:"trialEndAt"`
	SecondsLeft    int       `json:"secondsLeft"`
}

func (TrialEndingSoon) Event() string { return EventTrialEndingSoon }

type TrialEnded struct {
	ConsultationID string `json:"consultationId"`
	Message        string `json:"message"`
}

func (TrialEnded) Event() string { return EventTrialEnded }

type IncomingCall struct {
	CallID         string `json:"callId"`
	ConsultationID string `json:"consultationId"`
	CallerID       string `json:"callerId"`
	CallerName     string `json:"callerName"`
	CallType       string `json:"callType"`
	ChannelName    string `json:"channelName"`
}

func (IncomingCall) Event() string { return EventIncomingCall }

type CallAccepted struct {
	CallID      string    `json:"callId"`
	ChannelName string    `json:"channelName"`
	AcceptedBy  string    `json:"acceptedBy"`
	StartedAt   time.Time `json:"startedAt"`
}

func (CallAccepted) Event() string { return EventCallAccepted }

type CallDeclined struct {
	CallID     string `json:"callId"`
	DeclinedBy string `json:"declinedBy"`
}

func (CallDeclined) Event() string { return EventCallDeclined }

type CallMissed struct {
	CallID         string `json:"callId"`
	ConsultationID string `json:"consultationId"`
}

func (CallMissed) Event() string { return EventCallMissed }

type CallEnded struct {
	CallID   string `json:"callId"`
	EndedBy  string `json:"endedBy"`
	Duration int    `json:"duration"`
}

func (CallEnded) Event() string { return EventCallEnded }

// Error carries the same taxonomy code the HTTP path returns.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (Error) Event() string { return EventError }
