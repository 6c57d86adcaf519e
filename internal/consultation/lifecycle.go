package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-counsel/internal/domain"
	"go-counsel/internal/metrics"
	"go-counsel/internal/notify"
	"go-counsel/internal/protocol"
	"go-counsel/internal/timer"
)

// Store is the persistence the state machine needs. Transition methods are
// conditional on the current status and return errStale when it moved.
type Store interface {
	Get(ctx context.Context, id string) (*Consultation, error)
	StartTrial(ctx context.Context, id string, startedAt, trialEndAt time.Time) error
	Transition(ctx context.Context, id string, from []Status, to Status, endedAt *time.Time) error
	ListTrials(ctx context.Context) ([]*Consultation, error)
	CancelStalePending(ctx context.Context, cutoff, now time.Time) ([]*Consultation, error)
}

type Payments interface {
	HasSucceededPayment(ctx context.Context, consultationID string) (bool, error)
	RecordPayment(ctx context.Context, consultationID, providerRef string) error
}

// SystemMessages writes the SYSTEM chat line announcing a transition.
type SystemMessages interface {
	CreateSystem(ctx context.Context, consultationID string, sender domain.Actor, content string) (protocol.MessageView, error)
}

type Emitter interface {
	EmitToConsultation(ctx context.Context, consultationID string, ev protocol.Outbound, participantIDs ...string)
}

type Notifier interface {
	Notify(ctx context.Context, n notify.Notification)
}

// Summarizer produces the post-consultation summary.
type Summarizer interface {
	Summarize(ctx context.Context, consultationID string) error
}

type Options struct {
	TrialDuration    time.Duration
	TrialWarningLead time.Duration
	PendingExpiry    time.Duration
}

type Service struct {
	store      Store
	payments   Payments
	messages   SystemMessages
	emitter    Emitter
	notifier   Notifier
	summarizer Summarizer
	timers     timer.Registry
	opts       Options
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Deps struct {
	Store      Store
	Payments   Payments
	Messages   SystemMessages
	Emitter    Emitter
	Notifier   Notifier
	Summarizer Summarizer
	Timers     timer.Registry
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

func NewService(d Deps, opts Options) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      d.Store,
		payments:   d.Payments,
		messages:   d.Messages,
		emitter:    d.Emitter,
		notifier:   d.Notifier,
		summarizer: d.Summarizer,
		timers:     d.Timers,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logger.With("component", "consultation"),
		metrics:    d.Metrics,
	}
}

func warningKey(id string) string  { return "trial-warning:" + id }
func trialEndKey(id string) string { return "trial-end:" + id }

// Accept moves PENDING to TRIAL and arms the trial timers. Only the assigned lawyer may accept.
func (s *Service) Accept(ctx context.Context, actor domain.Actor, id string) (*Consultation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.UserID != c.LawyerUserID {
		return nil, fmt.Errorf("%w: only the assigned lawyer can accept", domain.ErrForbidden)
	}
	if c.Status != StatusPending {
		return nil, domain.Conflictf("consultation is %s", c.Status)
	}

	now := s.now()
	trialEnd := now.Add(s.opts.TrialDuration)
	if err := s.store.StartTrial(ctx, id, now, trialEnd); err != nil {
		return nil, s.staleConflict(ctx, id, err)
	}
	prev := c.Status
	c.Status, c.StartedAt, c.TrialEndAt = StatusTrial, &now, &trialEnd
	s.metrics.Transition(string(prev), string(c.Status))

	s.logger.InfoContext(ctx, "consultation accepted",
		"operation", "consultation_accept",
		"outcome", "success",
		"consultation_id", id,
		"trial_end_at", trialEnd,
	)

	content := fmt.Sprintf("%s accepted the consultation. Your free %s trial has started.", displayName(actor), humanDuration(s.opts.TrialDuration))
	if msg, err := s.messages.CreateSystem(ctx, id, actor, content); err != nil {
		s.logger.WarnContext(ctx, "system message failed",
			"operation", "consultation_accept",
			"outcome", "failure",
			"consultation_id", id,
			"error", err.Error(),
		)
	} else {
		s.emitter.EmitToConsultation(ctx, id, protocol.NewMessage{Message: msg}, c.Participants()...)
	}

	s.emitter.EmitToConsultation(ctx, id, protocol.StatusChange{
		ConsultationID: id,
		Status:         string(StatusTrial),
		PreviousStatus: string(prev),
		TrialEndAt:     &trialEnd,
	}, c.Participants()...)

	s.armTrialTimers(c, trialEnd)

	s.notifier.Notify(ctx, notify.Notification{
		UserID: c.ClientID,
		Kind:   notify.KindConsultationAccepted,
		Title:  "Consultation accepted",
		Body:   fmt.Sprintf("%s accepted your consultation. Your free trial has started.", displayName(actor)),
		Data:   map[string]string{"consultationId": id},
	})
	return c, nil
}

// Decline cancels a PENDING consultation. Only the assigned lawyer may decline; no timers exist yet.
func (s *Service) Decline(ctx context.Context, actor domain.Actor, id string) (*Consultation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.UserID != c.LawyerUserID {
		return nil, fmt.Errorf("%w: only the assigned lawyer can decline", domain.ErrForbidden)
	}
	if c.Status != StatusPending {
		return nil, domain.Conflictf("consultation is %s", c.Status)
	}

	if err := s.end(ctx, c, []Status{StatusPending}, StatusCancelled, "declined"); err != nil {
		return nil, err
	}
	s.notifier.Notify(ctx, notify.Notification{
		UserID: c.ClientID,
		Kind:   notify.KindConsultationDeclined,
		Title:  "Consultation declined",
		Body:   "The lawyer is unable to take this consultation.",
		Data:   map[string]string{"consultationId": id},
	})
	return c, nil
}

// Complete ends a TRIAL or ACTIVE consultation and kicks off the summary.
func (s *Service) Complete(ctx context.Context, actor domain.Actor, id string) (*Consultation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(actor.UserID) {
		return nil, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	if c.Status != StatusActive && c.Status != StatusTrial {
		return nil, domain.Conflictf("consultation is %s", c.Status)
	}

	if err := s.end(ctx, c, []Status{StatusTrial, StatusActive}, StatusCompleted, ""); err != nil {
		return nil, err
	}

	if s.summarizer != nil {
		notify.Detach(ctx, s.logger, "consultation_summary", 2*time.Minute, func(ctx context.Context) error {
			return s.summarizer.Summarize(ctx, id)
		})
	}
	s.notifyEnded(ctx, c, actor.UserID, "The consultation has been completed.")
	return c, nil
}

// Cancel ends a consultation that has not reached a terminal status.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, id, reason string) (*Consultation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.IsParticipant(actor.UserID) {
		return nil, fmt.Errorf("%w: not a participant", domain.ErrForbidden)
	}
	if c.Status.Terminal() {
		return nil, domain.Conflictf("consultation is %s", c.Status)
	}

	if err := s.end(ctx, c, []Status{StatusPending, StatusTrial, StatusActive}, StatusCancelled, reason); err != nil {
		return nil, err
	}
	s.notifyEnded(ctx, c, actor.UserID, "The consultation has been cancelled.")
	return c, nil
}

// MarkPaid handles the payment provider's success webhook: TRIAL -> ACTIVE.
// A retried webhook for an already ACTIVE consultation is a no-op.
func (s *Service) MarkPaid(ctx context.Context, id, providerRef string) (*Consultation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch c.Status {
	case StatusTrial:
	case StatusActive:
		// retried webhook; recording is idempotent on the provider reference
		if err := s.payments.RecordPayment(ctx, id, providerRef); err != nil {
			return nil, fmt.Errorf("record payment: %w", err)
		}
		s.cancelTrialTimers(id)
		return c, nil
	default:
		return nil, domain.Conflictf("consultation is %s", c.Status)
	}

	if err := s.payments.RecordPayment(ctx, id, providerRef); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	if err := s.store.Transition(ctx, id, []Status{StatusTrial}, StatusActive, nil); err != nil {
		return nil, s.staleConflict(ctx, id, err)
	}
	s.cancelTrialTimers(id)
	prev := c.Status
	c.Status = StatusActive
	s.metrics.Transition(string(prev), string(c.Status))

	s.logger.InfoContext(ctx, "consultation paid",
		"operation", "consultation_mark_paid",
		"outcome", "success",
		"consultation_id", id,
	)

	s.emitter.EmitToConsultation(ctx, id, protocol.StatusChange{
		ConsultationID:  id,
		Status:          string(StatusActive),
		PreviousStatus:  string(prev),
		PaymentReceived: true,
	}, c.Participants()...)

	s.notifier.Notify(ctx, notify.Notification{
		UserID: c.LawyerUserID,
		Kind:   notify.KindPaymentReceived,
		Title:  "Payment received",
		Body:   "The client has paid. The consultation is now active.",
		Data:   map[string]string{"consultationId": id},
	})
	return c, nil
}

// end performs a terminal transition and broadcasts it.
func (s *Service) end(ctx context.Context, c *Consultation, from []Status, to Status, reason string) error {
	now := s.now()
	if err := s.store.Transition(ctx, c.ID, from, to, &now); err != nil {
		return s.staleConflict(ctx, c.ID, err)
	}
	s.cancelTrialTimers(c.ID)

	prev := c.Status
	c.Status, c.EndedAt = to, &now
	s.metrics.Transition(string(prev), string(to))

	s.logger.InfoContext(ctx, "consultation ended",
		"operation", "consultation_end",
		"outcome", "success",
		"consultation_id", c.ID,
		"from", prev,
		"to", to,
	)

	s.emitter.EmitToConsultation(ctx, c.ID, protocol.StatusChange{
		ConsultationID: c.ID,
		Status:         string(to),
		PreviousStatus: string(prev),
		EndedAt:        &now,
		Reason:         reason,
	}, c.Participants()...)
	return nil
}

func (s *Service) notifyEnded(ctx context.Context, c *Consultation, actorID, body string) {
	to := c.Counterparty(actorID)
	if to == "" {
		return
	}
	s.notifier.Notify(ctx, notify.Notification{
		UserID: to,
		Kind:   notify.KindConsultationEnded,
		Title:  "Consultation ended",
		Body:   body,
		Data:   map[string]string{"consultationId": c.ID, "status": string(c.Status)},
	})
}

// staleConflict turns a lost conditional update into a conflict naming the current status.
func (s *Service) staleConflict(ctx context.Context, id string, err error) error {
	if !errors.Is(err, errStale) {
		return err
	}
	current, getErr := s.store.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return domain.Conflictf("consultation is %s", current.Status)
}

func displayName(actor domain.Actor) string {
	if actor.Name != "" {
		return actor.Name
	}
	return "The lawyer"
}

func humanDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d-minute", int(d/time.Minute))
	}
	return d.String()
}
