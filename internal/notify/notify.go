// Package notify dispatches push notifications. Dispatch is best-effort: failures
// are logged and swallowed, never surfaced to the operation that triggered them.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Kinds of push notification.
const (
	KindNewMessage           = "NEW_MESSAGE"
	KindConsultationAccepted = "CONSULTATION_ACCEPTED"
	KindConsultationDeclined = "CONSULTATION_DECLINED"
	KindConsultationEnded    = "CONSULTATION_ENDED"
	KindTrialEndingSoon      = "TRIAL_ENDING_SOON"
	KindTrialEnded           = "TRIAL_ENDED"
	KindPaymentReceived      = "PAYMENT_RECEIVED"
	KindIncomingCall         = "INCOMING_CALL"
	KindMissedCall           = "MISSED_CALL"
)

type Notification struct {
	UserID string            `json:"userId"`
	Kind   string            `json:"kind"`
	Title  string            `json:"title"`
	Body   string            `json:"body"`
	Data   map[string]string `json:"data,omitempty"`
}

// Dispatcher hands a notification to the delivery channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// Async sends notifications as detached tasks.
type Async struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	timeout    time.Duration
}

func NewAsync(d Dispatcher, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	return &Async{dispatcher: d, logger: logger.With("component", "notify"), timeout: 10 * time.Second}
}

// Notify returns immediately; the dispatch runs outside the caller's cancellation scope.
func (a *Async) Notify(ctx context.Context, n Notification) {
	Detach(ctx, a.logger, "notify_"+n.Kind, a.timeout, func(ctx context.Context) error {
		return a.dispatcher.Dispatch(ctx, n)
	})
}
