// Package protocol defines every event exchanged over a realtime connection.
// Each direction is a closed set of variants discriminated by the event name;
// on the wire a frame is {"event": <name>, "data": <payload>}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound event names.
const (
	EventJoinConsultation = "join-consultation"
	EventSendMessage      = "send-message"
	EventTypingStart      = "typing-start"
	EventTypingStop       = "typing-stop"
	EventReadReceipt      = "read-receipt"
	EventGetUsersStatus   = "get-users-status"
)

// Outbound event names. typing-start and typing-stop are echoed under the same name.
const (
	EventJoinedConsultation = "joined-consultation"
	EventNewMessage         = "new-message"
	EventMessageBlocked     = "message-blocked"
	EventMessagesRead       = "messages-read"
	EventUserStatusChange   = "user-status-change"
	EventUsersStatus        = "users-status-response"
	EventStatusChange       = "consultation-status-change"
	EventTrialEndingSoon    = "trial-ending-soon"
	EventTrialEnded         = "trial-ended"
	EventIncomingCall       = "incoming-call"
	EventCallAccepted       = "call-accepted"
	EventCallDeclined       = "call-declined"
	EventCallMissed         = "call-missed"
	EventCallEnded          = "call-ended"
	EventError              = "error"
)

var ErrUnknownEvent = errors.New("unknown event")

// Frame is the wire envelope.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every client->server payload.
type Inbound interface {
	Event() string
}

// Outbound is implemented by every server->client payload.
type Outbound interface {
	Event() string
}

// Encode wraps an outbound payload in its frame.
func Encode(o Outbound) ([]byte, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", o.Event(), err)
	}
	return json.Marshal(Frame{Event: o.Event(), Data: data})
}

// Decode parses a client frame into its typed variant.
func Decode(raw []byte) (Inbound, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	var in Inbound
	switch f.Event {
	case EventJoinConsultation:
		in = &JoinConsultation{}
	case EventSendMessage:
		in = &SendMessage{}
	case EventTypingStart:
		in = &TypingStart{}
	case EventTypingStop:
		in = &TypingStop{}
	case EventReadReceipt:
		in = &ReadReceipt{}
	case EventGetUsersStatus:
		in = &GetUsersStatus{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}
	if len(f.Data) > 0 {
		if err := json.Unmarshal(f.Data, in); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Event, err)
		}
	}
	return in, nil
}
