package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"go-counsel/internal/ai"
	"go-counsel/internal/consultation"
	"go-counsel/internal/domain"
	"go-counsel/internal/metrics"
	"go-counsel/internal/notify"
	"go-counsel/internal/protocol"
)

type Store interface {
	Create(ctx context.Context, m *Message) error
	ListRecent(ctx context.Context, consultationID string, limit int) ([]*Message, error)
	MarkRead(ctx context.Context, consultationID, readerID string, at time.Time) ([]string, error)
}

type Consultations interface {
	Get(ctx context.Context, id string) (*consultation.Consultation, error)
	Touch(ctx context.Context, id string) error
	HasSucceededPayment(ctx context.Context, consultationID string) (bool, error)
}

type Emitter interface {
	EmitToConsultation(ctx context.Context, consultationID string, ev protocol.Outbound, participantIDs ...string)
	EmitToRoom(ctx context.Context, consultationID, exceptConn string, ev protocol.Outbound)
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

// Service is the only write path for chat messages.
type Service struct {
	store             Store
	consultations     Consultations
	moderator         ai.Moderator
	emitter           Emitter
	notifier          Notifier
	moderationTimeout time.Duration
	now               func() time.Time
	logger            *slog.Logger
	metrics           *metrics.Metrics
}

type Deps struct {
	Store             Store
	Consultations     Consultations
	Moderator         ai.Moderator
	Emitter           Emitter
	Notifier          Notifier
	ModerationTimeout time.Duration
	Logger            *slog.Logger
	Metrics           *metrics.Metrics
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	moderator := d.Moderator
	if moderator == nil {
		moderator = ai.AllowAll{}
	}
	timeout := d.ModerationTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{
		store:             d.Store,
		consultations:     d.Consultations,
		moderator:         moderator,
		emitter:           d.Emitter,
		notifier:          d.Notifier,
		moderationTimeout: timeout,
		now:               func() time.Time { return time.Now().UTC() },
		logger:            logger.With("component", "message"),
		metrics:           d.Metrics,
	}
}

// Authorize loads the consultation and checks the actor takes part in it.
func (s *Service) Authorize(ctx context.Context, actor domain.Actor, consultationID string) (*consultation.Consultation, error) {
	c, err := s.consultations.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(actor.UserID) {
		return nil, fmt.Errorf("%w: not a participant of consultation %s", domain.ErrForbidden, consultationID)
	}
	return c, nil
}

// Send validates, gates, moderates, persists and fans out one message.
// Failures before persistence leave nothing behind; failures after it are logged only.
func (s *Service) Send(ctx context.Context, actor domain.Actor, req SendRequest) (protocol.MessageView, error) {
	msgType, err := validate(&req)
	if err != nil {
		s.metrics.Message(req.Type, "rejected")
		return protocol.MessageView{}, err
	}

	c, err := s.Authorize(ctx, actor, req.ConsultationID)
	if err != nil {
		s.metrics.Message(string(msgType), "rejected")
		return protocol.MessageView{}, err
	}

	if c.TrialExpired(s.now()) {
		paid, err := s.consultations.HasSucceededPayment(ctx, c.ID)
		if err != nil {
			return protocol.MessageView{}, fmt.Errorf("check payment: %w", err)
		}
		if !paid {
			s.metrics.Message(string(msgType), "rejected")
			return protocol.MessageView{}, domain.ErrTrialExpired
		}
	}

	if msgType == TypeText {
		if err := s.moderate(ctx, actor, req.Content); err != nil {
			s.metrics.Message(string(msgType), "blocked")
			return protocol.MessageView{}, err
		}
	}

	m := &Message{
		ID:             uuid.NewString(),
		ConsultationID: c.ID,
		SenderID:       actor.UserID,
		Type:           msgType,
		Content:        req.Content,
		FileURL:        req.FileURL,
		ReplyToID:      req.ReplyToID,
	}
	if err := s.store.Create(ctx, m); err != nil {
		return protocol.MessageView{}, fmt.Errorf("persist message: %w", err)
	}
	s.metrics.Message(string(msgType), "sent")

	view := m.View()
	s.emitter.EmitToConsultation(ctx, c.ID, protocol.NewMessage{Message: view}, c.Participants()...)

	if to := c.Counterparty(actor.UserID); to != "" {
		s.notifier.Notify(ctx, notify.Notification{
			UserID: to,
			Kind:   notify.KindNewMessage,
			Title:  fmt.Sprintf("New message from %s", m.SenderName),
			Body:   preview(m),
			Data:   map[string]string{"consultationId": c.ID, "messageId": m.ID},
		})
	}

	if err := s.consultations.Touch(ctx, c.ID); err != nil {
		s.logger.WarnContext(ctx, "touch consultation failed",
			"operation", "message_send",
			"outcome", "failure",
			"consultation_id", c.ID,
			"error", err.Error(),
		)
	}
	return view, nil
}

// moderate fails open: a timeout or backend error lets the message through.
func (s *Service) moderate(ctx context.Context, actor domain.Actor, content string) error {
	modCtx, cancel := context.WithTimeout(ctx, s.moderationTimeout)
	defer cancel()

	verdict, err := s.moderator.Moderate(modCtx, content, ai.Subject{UserID: actor.UserID, Role: actor.Role})
	if err != nil {
		s.metrics.ModerationVerdict("fail_open")
		s.logger.WarnContext(ctx, "moderation unavailable, allowing message",
			"operation", "message_moderate",
			"outcome", "fail_open",
			"user_id", actor.UserID,
			"error", err.Error(),
		)
		return nil
	}
	if verdict.Allowed {
		s.metrics.ModerationVerdict("allowed")
		return nil
	}

	s.metrics.ModerationVerdict("blocked")
	s.logger.InfoContext(ctx, "message blocked",
		"operation", "message_moderate",
		"outcome", "blocked",
		"user_id", actor.UserID,
		"category", verdict.Category,
	)
	return &domain.ContentBlockedError{Reason: verdict.Reason, Category: verdict.Category}
}

// CreateSystem stores an announcement authored by the system on behalf of sender.
// It skips moderation and the trial gate; the caller broadcasts the result.
func (s *Service) CreateSystem(ctx context.Context, consultationID string, sender domain.Actor, content string) (protocol.MessageView, error) {
	m := &Message{
		ID:             uuid.NewString(),
		ConsultationID: consultationID,
		SenderID:       sender.UserID,
		Type:           TypeSystem,
		Content:        content,
	}
	if err := s.store.Create(ctx, m); err != nil {
		return protocol.MessageView{}, fmt.Errorf("persist system message: %w", err)
	}
	s.metrics.Message(string(TypeSystem), "sent")
	return m.View(), nil
}

// MarkRead records a read receipt and tells the consultation channel which messages flipped.
// Callers gate on channel membership or Authorize.
func (s *Service) MarkRead(ctx context.Context, reader domain.Actor, consultationID string) (protocol.MessagesRead, error) {
	at := s.now()
	ids, err := s.store.MarkRead(ctx, consultationID, reader.UserID, at)
	if err != nil {
		return protocol.MessagesRead{}, fmt.Errorf("mark read: %w", err)
	}
	ev := protocol.MessagesRead{ConsultationID: consultationID, ReaderID: reader.UserID, MessageIDs: ids, ReadAt: at}
	if len(ids) > 0 {
		s.emitter.EmitToRoom(ctx, consultationID, "", ev)
	}
	return ev, nil
}

func (s *Service) History(ctx context.Context, actor domain.Actor, consultationID string, limit int) ([]protocol.MessageView, error) {
	if _, err := s.Authorize(ctx, actor, consultationID); err != nil {
		return nil, err
	}
	msgs, err := s.store.ListRecent(ctx, consultationID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.MessageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.View())
	}
	return out, nil
}

func validate(req *SendRequest) (Type, error) {
	if req.ConsultationID == "" {
		return "", fmt.Errorf("%w: consultationId is required", domain.ErrValidation)
	}
	if req.Type == "" {
		req.Type = string(TypeText)
	}
	switch t := Type(strings.ToUpper(req.Type)); t {
	case TypeText:
		req.Content = strings.TrimSpace(req.Content)
		if req.Content == "" {
			return "", fmt.Errorf("%w: message content is required", domain.ErrValidation)
		}
		if utf8.RuneCountInString(req.Content) > maxContentLength {
			return "", fmt.Errorf("%w: message exceeds %d characters", domain.ErrValidation, maxContentLength)
		}
		return t, nil
	case TypeImage, TypeDocument:
		if req.FileURL == "" {
			return "", fmt.Errorf("%w: fileUrl is required for %s messages", domain.ErrValidation, t)
		}
		return t, nil
	case TypeSystem:
		return "", fmt.Errorf("%w: system messages cannot be sent", domain.ErrValidation)
	default:
		return "", fmt.Errorf("%w: unknown message type %q", domain.ErrValidation, req.Type)
	}
}

func preview(m *Message) string {
	switch m.Type {
	case TypeImage:
		return "Sent an image"
	case TypeDocument:
		return "Sent a document"
	}
	if utf8.RuneCountInString(m.Content) <= 100 {
		return m.Content
	}
	return string([]rune(m.Content)[:100]) + "..."
}

// IsBlocked reports a moderation rejection and its verdict.
func IsBlocked(err error) (*domain.ContentBlockedError, bool) {
	var blocked *domain.ContentBlockedError
	if errors.As(err, &blocked) {
		return blocked, true
	}
	return nil, false
}
