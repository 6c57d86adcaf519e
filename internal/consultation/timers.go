package consultation

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"go-counsel/internal/domain"
	"go-counsel/internal/notify"
	"go-counsel/internal/protocol"
)

// timer callbacks run outside any request; each gets its own bounded context
const timerTaskTimeout = 15 * time.Second

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

func (s *Service) armTrialTimers(c *Consultation, trialEnd time.Time) {
	id := c.ID
	untilEnd := trialEnd.Sub(s.now())

	if untilWarning := untilEnd - s.opts.TrialWarningLead; untilWarning > 0 {
		s.timers.Schedule(warningKey(id), untilWarning, func() {
			s.runTimerTask("trial_warning", func(ctx context.Context) error {
				return s.trialWarning(ctx, id)
			})
		})
	}
	s.timers.Schedule(trialEndKey(id), max(untilEnd, 0), func() {
		s.runTimerTask("trial_end", func(ctx context.Context) error {
			return s.trialEnded(ctx, id)
		})
	})
}

// cancelTrialTimers is safe for ids that never had timers.
func (s *Service) cancelTrialTimers(id string) {
	s.timers.Cancel(warningKey(id))
	s.timers.Cancel(trialEndKey(id))
}

func (s *Service) runTimerTask(operation string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timerTaskTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		s.logger.WarnContext(ctx, "timer task failed",
			"operation", operation,
			"outcome", "failure",
			"error", err.Error(),
		)
	}
}

// trialWarning tells both parties the trial is about to end, unless it was paid or left TRIAL.
func (s *Service) trialWarning(ctx context.Context, id string) error {
	c, paid, err := s.unpaidTrial(ctx, id)
	if err != nil || paid || c == nil {
		return err
	}

	if c.TrialEndAt == nil {
		return nil
	}
	secondsLeft := int(c.TrialEndAt.Sub(s.now()).Round(time.Second) / time.Second)
	s.emitter.EmitToConsultation(ctx, id, protocol.TrialEndingSoon{
		ConsultationID: id,
		TrialEndAt:     *c.TrialEndAt,
		SecondsLeft:    max(secondsLeft, 0),
	}, c.Participants()...)

	s.notifier.Notify(ctx, notify.Notification{
		UserID: c.ClientID,
		Kind:   notify.KindTrialEndingSoon,
		Title:  "Free trial ending soon",
		Body:   "Your free trial ends in about a minute. Complete payment to keep chatting.",
		Data:   map[string]string{"consultationId": id},
	})
	return nil
}

// trialEnded fires the expiry notice. The payment check happens here, at fire time.
func (s *Service) trialEnded(ctx context.Context, id string) error {
	c, paid, err := s.unpaidTrial(ctx, id)
	if err != nil || paid || c == nil {
		return err
	}
	s.announceTrialEnded(ctx, c)
	return nil
}

// unpaidTrial reloads the consultation and reports whether a successful payment exists.
// A nil consultation means it is no longer in TRIAL and the timer has nothing to do.
func (s *Service) unpaidTrial(ctx context.Context, id string) (*Consultation, bool, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if c.Status != StatusTrial {
		return nil, false, nil
	}
	paid, err := s.payments.HasSucceededPayment(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("check payment: %w", err)
	}
	return c, paid, nil
}

func (s *Service) announceTrialEnded(ctx context.Context, c *Consultation) {
	s.logger.InfoContext(ctx, "trial ended without payment",
		"operation", "trial_end",
		"outcome", "success",
		"consultation_id", c.ID,
	)
	s.emitter.EmitToConsultation(ctx, c.ID, protocol.TrialEnded{
		ConsultationID: c.ID,
		Message:        domain.TrialExpiredMessage,
	}, c.Participants()...)

	s.notifier.Notify(ctx, notify.Notification{
		UserID: c.ClientID,
		Kind:   notify.KindTrialEnded,
		Title:  "Free trial ended",
		Body:   domain.TrialExpiredMessage,
		Data:   map[string]string{"consultationId": c.ID},
	})
	s.notifier.Notify(ctx, notify.Notification{
		UserID: c.LawyerUserID,
		Kind:   notify.KindTrialEnded,
		Title:  "Free trial ended",
		Body:   "The client's free trial has ended. Messaging resumes once they pay.",
		Data:   map[string]string{"consultationId": c.ID},
	})
}

// RecoverTrials is the startup sweep for timers lost with the previous process.
// Trials whose deadline passed get the expiry notice now; the rest are re-armed.
// It is idempotent and returns how many expiry notices were fired.
func (s *Service) RecoverTrials(ctx context.Context) (int, error) {
	trials, err := s.store.ListTrials(ctx)
	if err != nil {
		return 0, fmt.Errorf("list trials: %w", err)
	}

	now := s.now()
	fired := 0
	for _, c := range trials {
		if c.TrialEndAt == nil {
			continue
		}
		if c.TrialEndAt.After(now) {
			s.armTrialTimers(c, *c.TrialEndAt)
			continue
		}
		paid, err := s.payments.HasSucceededPayment(ctx, c.ID)
		if err != nil {
			s.logger.WarnContext(ctx, "payment lookup failed during recovery",
				"operation", "trial_recovery",
				"outcome", "failure",
				"consultation_id", c.ID,
				"error", err.Error(),
			)
			continue
		}
		if paid {
			continue
		}
		s.announceTrialEnded(ctx, c)
		fired++
	}

	s.logger.InfoContext(ctx, "trial recovery finished",
		"operation", "trial_recovery",
		"outcome", "success",
		"trials", len(trials),
		"expired", fired,
	)
	return fired, nil
}

// ExpireStalePending cancels consultations left PENDING longer than the configured expiry.
func (s *Service) ExpireStalePending(ctx context.Context) (int, error) {
	now := s.now()
	cancelled, err := s.store.CancelStalePending(ctx, now.Add(-s.opts.PendingExpiry), now)
	if err != nil {
		return 0, fmt.Errorf("cancel stale pending: %w", err)
	}
	for _, c := range cancelled {
		s.metrics.Transition(string(StatusPending), string(StatusCancelled))
		s.emitter.EmitToConsultation(ctx, c.ID, protocol.StatusChange{
			ConsultationID: c.ID,
			Status:         string(StatusCancelled),
			PreviousStatus: string(StatusPending),
			EndedAt:        c.EndedAt,
			Reason:         "expired",
		}, c.Participants()...)
		for _, userID := range c.Participants() {
			s.notifier.Notify(ctx, notify.Notification{
				UserID: userID,
				Kind:   notify.KindConsultationEnded,
				Title:  "Consultation expired",
				Body:   "The consultation request was not accepted in time.",
				Data:   map[string]string{"consultationId": c.ID, "status": string(StatusCancelled)},
			})
		}
	}
	if len(cancelled) > 0 {
		s.logger.InfoContext(ctx, "stale pending consultations cancelled",
			"operation", "pending_sweep",
			"outcome", "success",
			"count", len(cancelled),
		)
	}
	return len(cancelled), nil
}

// StartPendingSweep runs ExpireStalePending on the cron schedule until ctx is done.
func (s *Service) StartPendingSweep(ctx context.Context, schedule string) error {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("%w: pending sweep schedule %q: %v", domain.ErrValidation, schedule, err)
	}

	c := cron.New(cron.WithParser(cronParser))
	c.Schedule(sched, cron.FuncJob(func() {
		runCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := s.ExpireStalePending(runCtx); err != nil {
			s.logger.WarnContext(runCtx, "pending sweep failed",
				"operation", "pending_sweep",
				"outcome", "failure",
				"error", err.Error(),
			)
		}
	}))
	c.Start()

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}
