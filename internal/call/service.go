package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"go-counsel/internal/consultation"
	"go-counsel/internal/domain"
	"go-counsel/internal/metrics"
	"go-counsel/internal/notify"
	"go-counsel/internal/presence"
	"go-counsel/internal/protocol"
	"go-counsel/internal/rtc"
	"go-counsel/internal/timer"
)

type Consultations interface {
	Get(ctx context.Context, id string) (*consultation.Consultation, error)
}

type Emitter interface {
	EmitToUsers(ctx context.Context, ev protocol.Outbound, userIDs ...string)
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

type Options struct {
	RingTimeout time.Duration
	Retention   time.Duration
	TokenTTL    time.Duration
}

type Service struct {
	store         Store
	consultations Consultations
	tokens        rtc.TokenIssuer
	presence      presence.Tracker
	emitter       Emitter
	notifier      Notifier
	timers        timer.Registry
	opts          Options
	now           func() time.Time
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

type Deps struct {
	Store         Store
	Consultations Consultations
	Tokens        rtc.TokenIssuer
	Presence      presence.Tracker
	Emitter       Emitter
	Notifier      Notifier
	Timers        timer.Registry
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

func NewService(d Deps, opts Options) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:         d.Store,
		consultations: d.Consultations,
		tokens:        d.Tokens,
		presence:      d.Presence,
		emitter:       d.Emitter,
		notifier:      d.Notifier,
		timers:        d.Timers,
		opts:          opts,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger.With("component", "call"),
		metrics:       d.Metrics,
	}
}

func ringKey(id string) string  { return "call-ring:" + id }
func evictKey(id string) string { return "call-evict:" + id }

// Initiate rings the other participant of the consultation.
func (s *Service) Initiate(ctx context.Context, caller domain.Actor, consultationID string, callType Type) (*Credentials, error) {
	callType = Type(strings.ToUpper(string(callType)))
	if callType != TypeVoice && callType != TypeVideo {
		return nil, fmt.Errorf("%w: call type must be VOICE or VIDEO", domain.ErrValidation)
	}

	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(caller.UserID) {
		return nil, fmt.Errorf("%w: not a participant of consultation %s", domain.ErrForbidden, consultationID)
	}
	if c.Status.Terminal() {
		return nil, domain.Conflictf("consultation is %s", c.Status)
	}
	receiver := c.Counterparty(caller.UserID)

	id := uuid.NewString()
	session := &Session{
		ID:             id,
		ConsultationID: c.ID,
		InitiatorID:    caller.UserID,
		ReceiverID:     receiver,
		Type:           callType,
		Status:         StatusRinging,
		ChannelName:    "call_" + id,
		InitiatorUID:   UID(caller.UserID),
		ReceiverUID:    UID(receiver),
		CreatedAt:      s.now(),
	}

	token, err := s.issue(session.ChannelName, session.InitiatorUID)
	if err != nil {
		return nil, err
	}

	s.store.Put(session)
	s.metrics.CallEvent("initiated")

	online := s.presence != nil && s.presence.IsOnline(ctx, receiver)
	s.logger.InfoContext(ctx, "call initiated",
		"operation", "call_initiate",
		"outcome", "success",
		"call_id", id,
		"consultation_id", c.ID,
		"receiver_online", online,
	)

	s.emitter.EmitToUsers(ctx, protocol.IncomingCall{
		CallID:         id,
		ConsultationID: c.ID,
		CallerID:       caller.UserID,
		CallerName:     caller.Name,
		CallType:       string(callType),
		ChannelName:    session.ChannelName,
	}, receiver)

	s.notifier.Notify(ctx, notify.Notification{
		UserID: receiver,
		Kind:   notify.KindIncomingCall,
		Title:  "Incoming call",
		Body:   fmt.Sprintf("%s is calling you", caller.Name),
		Data:   map[string]string{"callId": id, "consultationId": c.ID, "callType": string(callType)},
	})

	s.timers.Schedule(ringKey(id), s.opts.RingTimeout, func() { s.ringTimeout(id) })

	return &Credentials{Call: *session, Token: token, UID: session.InitiatorUID, ReceiverOnline: &online}, nil
}

// ringTimeout turns a still-ringing call into MISSED. A call that moved on is left alone.
func (s *Service) ringTimeout(id string) {
	ctx := context.Background()
	now := s.now()
	session, err := s.store.Update(id, func(cs *Session) error {
		if cs.Status != StatusRinging {
			return errNoTransition
		}
		cs.Status, cs.EndedAt = StatusMissed, &now
		return nil
	})
	if err != nil {
		return
	}
	s.metrics.CallEvent("missed")

	s.emitter.EmitToUsers(ctx, protocol.CallMissed{CallID: id, ConsultationID: session.ConsultationID},
		session.InitiatorID, session.ReceiverID)
	s.notifier.Notify(ctx, notify.Notification{
		UserID: session.ReceiverID,
		Kind:   notify.KindMissedCall,
		Title:  "Missed call",
		Body:   "You missed a call in your consultation.",
		Data:   map[string]string{"callId": id, "consultationId": session.ConsultationID},
	})
	s.scheduleEviction(id)
}

var errNoTransition = errors.New("call state moved on")

// Accept connects the receiver. Only the receiver may accept, only while ringing.
func (s *Service) Accept(ctx context.Context, actor domain.Actor, id string) (*Credentials, error) {
	session, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if actor.UserID != session.ReceiverID {
		return nil, fmt.Errorf("%w: only the receiver can accept", domain.ErrForbidden)
	}
	if session.Status != StatusRinging {
		return nil, domain.Conflictf("call is %s", session.Status)
	}

	token, err := s.issue(session.ChannelName, session.ReceiverUID)
	if err != nil {
		return nil, err
	}

	// the ring timeout may have fired while the token was issued
	now := s.now()
	session, err = s.store.Update(id, func(cs *Session) error {
		if cs.Status != StatusRinging {
			return domain.Conflictf("call is %s", cs.Status)
		}
		cs.Status, cs.StartedAt = StatusActive, &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.timers.Cancel(ringKey(id))
	s.metrics.CallEvent("accepted")

	s.emitter.EmitToUsers(ctx, protocol.CallAccepted{
		CallID:      id,
		ChannelName: session.ChannelName,
		AcceptedBy:  actor.UserID,
		StartedAt:   now,
	}, session.InitiatorID, session.ReceiverID)

	return &Credentials{Call: *session, Token: token, UID: session.ReceiverUID}, nil
}

// Decline rejects a ringing call. Only the initiator is told.
func (s *Service) Decline(ctx context.Context, actor domain.Actor, id string) (*Session, error) {
	now := s.now()
	session, err := s.store.Update(id, func(cs *Session) error {
		if actor.UserID != cs.ReceiverID {
			return fmt.Errorf("%w: only the receiver can decline", domain.ErrForbidden)
		}
		if cs.Status != StatusRinging {
			return domain.Conflictf("call is %s", cs.Status)
		}
		cs.Status, cs.EndedAt = StatusDeclined, &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.timers.Cancel(ringKey(id))
	s.metrics.CallEvent("declined")

	s.emitter.EmitToUsers(ctx, protocol.CallDeclined{CallID: id, DeclinedBy: actor.UserID}, session.InitiatorID)
	s.scheduleEviction(id)
	return session, nil
}

// End hangs up from any state but ENDED. Duration counts only connected time.
func (s *Service) End(ctx context.Context, actor domain.Actor, id string) (*Session, error) {
	now := s.now()
	session, err := s.store.Update(id, func(cs *Session) error {
		if !cs.IsParty(actor.UserID) {
			return fmt.Errorf("%w: not a party to call %s", domain.ErrForbidden, id)
		}
		if cs.Status == StatusEnded {
			return domain.Conflictf("call is %s", cs.Status)
		}
		cs.Status, cs.EndedAt = StatusEnded, &now
		cs.Duration = 0
		if cs.StartedAt != nil {
			cs.Duration = int(math.Round(now.Sub(*cs.StartedAt).Seconds()))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.timers.Cancel(ringKey(id))
	s.metrics.CallEvent("ended")

	s.logger.InfoContext(ctx, "call ended",
		"operation", "call_end",
		"outcome", "success",
		"call_id", id,
		"duration_seconds", session.Duration,
	)

	s.emitter.EmitToUsers(ctx, protocol.CallEnded{CallID: id, EndedBy: actor.UserID, Duration: session.Duration},
		session.InitiatorID, session.ReceiverID)
	s.scheduleEviction(id)
	return session, nil
}

// Token reissues a credential for a party's existing uid without touching call state.
func (s *Service) Token(ctx context.Context, actor domain.Actor, id string) (*Credentials, error) {
	session, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	uid := session.UIDFor(actor.UserID)
	if uid == 0 {
		return nil, fmt.Errorf("%w: not a party to call %s", domain.ErrForbidden, id)
	}
	token, err := s.issue(session.ChannelName, uid)
	if err != nil {
		return nil, err
	}
	return &Credentials{Call: *session, Token: token, UID: uid}, nil
}

func (s *Service) Get(ctx context.Context, actor domain.Actor, id string) (*Session, error) {
	session, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !session.IsParty(actor.UserID) {
		return nil, fmt.Errorf("%w: not a party to call %s", domain.ErrForbidden, id)
	}
	return session, nil
}

// issue fails the enclosing operation: a call without a credential is unusable.
func (s *Service) issue(channel string, uid uint32) (string, error) {
	token, err := s.tokens.IssueToken(channel, uid, rtc.RolePublisher, s.opts.TokenTTL)
	if err != nil {
		if errors.Is(err, domain.ErrUpstream) {
			return "", err
		}
		return "", fmt.Errorf("%w: rtc token: %v", domain.ErrUpstream, err)
	}
	return token, nil
}

// scheduleEviction keeps a finished call around for late status and token requests.
func (s *Service) scheduleEviction(id string) {
	s.timers.Schedule(evictKey(id), s.opts.Retention, func() { s.store.Delete(id) })
}
