package consultation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go-counsel/internal/domain"
	"go-counsel/internal/notify"
	"go-counsel/internal/protocol"
	"go-counsel/internal/timer"
)

type memoryStore struct {
	mu    sync.Mutex
	items map[string]*Consultation
	paid  map[string]bool
}

func newMemoryStore(cs ...*Consultation) *memoryStore {
	s := &memoryStore{items: make(map[string]*Consultation), paid: make(map[string]bool)}
	for _, c := range cs {
		s.items[c.ID] = c
	}
	return s
}

func (s *memoryStore) Get(ctx context.Context, id string) (*Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: consultation %s", domain.ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (s *memoryStore) StartTrial(ctx context.Context, id string, startedAt, trialEndAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok || c.Status != StatusPending {
		return errStale
	}
	c.Status, c.StartedAt, c.TrialEndAt = StatusTrial, &startedAt, &trialEndAt
	return nil
}

func (s *memoryStore) Transition(ctx context.Context, id string, from []Status, to Status, endedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.items[id]
	if !ok || !slices.Contains(from, c.Status) {
		return errStale
	}
	c.Status = to
	if endedAt != nil {
		c.EndedAt = endedAt
	}
	return nil
}

func (s *memoryStore) ListTrials(ctx context.Context) ([]*Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Consultation
	for _, c := range s.items {
		if c.Status == StatusTrial {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) CancelStalePending(ctx context.Context, cutoff, now time.Time) ([]*Consultation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Consultation
	for _, c := range s.items {
		if c.Status == StatusPending && c.CreatedAt.Before(cutoff) {
			c.Status, c.EndedAt = StatusCancelled, &now
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) HasSucceededPayment(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paid[id], nil
}

func (s *memoryStore) RecordPayment(ctx context.Context, id, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid[id] = true
	return nil
}

func (s *memoryStore) status(id string) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items[id].Status
}

type emitted struct {
	consultationID string
	event          protocol.Outbound
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (e *recordingEmitter) EmitToConsultation(ctx context.Context, consultationID string, ev protocol.Outbound, participantIDs ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{consultationID: consultationID, event: ev})
}

func (e *recordingEmitter) count(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.event.Event() == name {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, note := range n.sent {
		out = append(out, note.Kind)
	}
	return out
}

type systemWriter struct {
	mu       sync.Mutex
	contents []string
}

func (w *systemWriter) CreateSystem(ctx context.Context, consultationID string, sender domain.Actor, content string) (protocol.MessageView, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.contents = append(w.contents, content)
	return protocol.MessageView{ID: "m1", ConsultationID: consultationID, Type: "SYSTEM", Content: content}, nil
}

type summarizerFunc func(ctx context.Context, id string) error

func (f summarizerFunc) Summarize(ctx context.Context, id string) error { return f(ctx, id) }

var (
	client = domain.Actor{UserID: "client-1", Name: "Ada", Role: domain.RoleClient}
	lawyer = domain.Actor{UserID: "lawyer-1", Name: "Counsel Lee", Role: domain.RoleLawyer}
	other  = domain.Actor{UserID: "stranger", Name: "Eve", Role: domain.RoleClient}
)

func pending(id string) *Consultation {
	return &Consultation{
		ID:              id,
		ClientID:        client.UserID,
		LawyerProfileID: "lp-1",
		LawyerUserID:    lawyer.UserID,
		Status:          StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
}

type fixture struct {
	svc      *Service
	store    *memoryStore
	emitter  *recordingEmitter
	notifier *recordingNotifier
	system   *systemWriter
	timers   *timer.MemoryRegistry
}

func newFixture(t *testing.T, opts Options, cs ...*Consultation) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemoryStore(cs...),
		emitter:  &recordingEmitter{},
		notifier: &recordingNotifier{},
		system:   &systemWriter{},
		timers:   timer.NewMemoryRegistry(),
	}
	t.Cleanup(f.timers.Stop)
	f.svc = NewService(Deps{
		Store:    f.store,
		Payments: f.store,
		Messages: f.system,
		Emitter:  f.emitter,
		Notifier: f.notifier,
		Timers:   f.timers,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts)
	return f
}

var defaultOpts = Options{TrialDuration: 3 * time.Minute, TrialWarningLead: time.Minute, PendingExpiry: 30 * time.Minute}

func TestAcceptStartsTrial(t *testing.T) {
	f := newFixture(t, defaultOpts, pending("c1"))

	c, err := f.svc.Accept(context.Background(), lawyer, "c1")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if c.Status != StatusTrial || c.TrialEndAt == nil || c.StartedAt == nil {
		t.Fatalf("unexpected consultation after accept: %+v", c)
	}
	if got := c.TrialEndAt.Sub(*c.StartedAt); got != 3*time.Minute {
		t.Fatalf("expected 3m trial, got %v", got)
	}
	if len(f.system.contents) != 1 || !strings.Contains(f.system.contents[0], "3-minute") {
		t.Fatalf("expected one system message announcing the trial, got %v", f.system.contents)
	}
	if f.emitter.count(protocol.EventStatusChange) != 1 || f.emitter.count(protocol.EventNewMessage) != 1 {
		t.Fatalf("expected status change and system message emits, got %+v", f.emitter.events)
	}
	if !f.timers.Pending(warningKey("c1")) || !f.timers.Pending(trialEndKey("c1")) {
		t.Fatalf("expected both trial timers armed")
	}
	if kinds := f.notifier.kinds(); !slices.Contains(kinds, notify.KindConsultationAccepted) {
		t.Fatalf("expected accepted notification, got %v", kinds)
	}
}

func TestAcceptTwiceConflictsWithoutResettingTrial(t *testing.T) {
	f := newFixture(t, defaultOpts, pending("c1"))

	first, err := f.svc.Accept(context.Background(), lawyer, "c1")
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	_, err = f.svc.Accept(context.Background(), lawyer, "c1")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !strings.Contains(err.Error(), "TRIAL") {
		t.Fatalf("conflict should name the current status: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "c1")
	if !stored.TrialEndAt.Equal(*first.TrialEndAt) {
		t.Fatalf("trial end moved from %v to %v", first.TrialEndAt, stored.TrialEndAt)
	}
}

func TestAcceptAuthorization(t *testing.T) {
	f := newFixture(t, defaultOpts, pending("c1"))

	for _, actor := range []domain.Actor{client, other} {
		if _, err := f.svc.Accept(context.Background(), actor, "c1"); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("%s: expected forbidden, got %v", actor.UserID, err)
		}
	}
	if _, err := f.svc.Accept(context.Background(), lawyer, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeclineOnlyFromPending(t *testing.T) {
	f := newFixture(t, defaultOpts, pending("c1"), pending("c2"))

	c, err := f.svc.Decline(context.Background(), lawyer, "c1")
	if err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if c.Status != StatusCancelled || c.EndedAt == nil {
		t.Fatalf("unexpected consultation after decline: %+v", c)
	}

	if _, err := f.svc.Accept(context.Background(), lawyer, "c2"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if _, err := f.svc.Decline(context.Background(), lawyer, "c2"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict declining a trial, got %v", err)
	}
	if _, err := f.svc.Decline(context.Background(), client, "c1"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for client decline, got %v", err)
	}
}

func TestMarkPaidActivatesAndCancelsTimers(t *testing.T) {
	f := newFixture(t, defaultOpts, pending("c1"))
	if _, err := f.svc.Accept(context.Background(), lawyer, "c1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	c, err := f.svc.MarkPaid(context.Background(), "c1", "pi_1")
	if err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if c.Status != StatusActive {
		t.Fatalf("expected ACTIVE, got %s", c.Status)
	}
	if f.timers.Pending(warningKey("c1")) || f.timers.Pending(trialEndKey("c1")) {
		t.Fatalf("expected trial timers cancelled")
	}

	var paidFlag bool
	for _, ev := range f.emitter.events {
		if sc, ok := ev.event.(protocol.StatusChange); ok && sc.Status == string(StatusActive) {
			paidFlag = sc.PaymentReceived
		}
	}
	if !paidFlag {
		t.Fatalf("expected paymentReceived on the status change")
	}

	// a retried webhook is a no-op
	if _, err := f.svc.MarkPaid(context.Background(), "c1", "pi_1"); err != nil {
		t.Fatalf("retried webhook should succeed, got %v", err)
	}
	if n := f.emitter.count(protocol.EventStatusChange); n != 2 {
		t.Fatalf("expected exactly two status changes, got %d", n)
	}
}

func TestMarkPaidRejectsWithoutRecordingPayment(t *testing.T) {
	f := newFixture(t, defaultOpts, pending("c1"), pending("c2"))
	if _, err := f.svc.Decline(context.Background(), lawyer, "c2"); err != nil {
		t.Fatalf("decline failed: %v", err)
	}

	for _, id := range []string{"c1", "c2"} {
		if _, err := f.svc.MarkPaid(context.Background(), id, "pi_"+id); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("%s: expected conflict, got %v", id, err)
		}
		if paid, _ := f.store.HasSucceededPayment(context.Background(), id); paid {
			t.Fatalf("%s: payment must not be recorded for a rejected webhook", id)
		}
	}
	if n := f.emitter.count(protocol.EventStatusChange); n != 1 {
		t.Fatalf("expected only the decline status change, got %d", n)
	}
}

func TestCompleteRunsSummaryAndRejectsTerminal(t *testing.T) {
	f := newFixture(t, defaultOpts, pending("c1"))
	summarized := make(chan string, 1)
	f.svc.summarizer = summarizerFunc(func(ctx context.Context, id string) error {
		summarized <- id
		return nil
	})

	if _, err := f.svc.Complete(context.Background(), client, "c1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict completing a pending consultation, got %v", err)
	}
	if _, err := f.svc.Accept(context.Background(), lawyer, "c1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}

	c, err := f.svc.Complete(context.Background(), client, "c1")
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if c.Status != StatusCompleted || c.EndedAt == nil {
		t.Fatalf("unexpected consultation after complete: %+v", c)
	}
	if f.timers.Pending(trialEndKey("c1")) {
		t.Fatalf("expected trial timers cancelled on completion")
	}

	select {
	case id := <-summarized:
		if id != "c1" {
			t.Fatalf("summarized wrong consultation %s", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("summary was not triggered")
	}

	_, err = f.svc.Cancel(context.Background(), lawyer, "c1", "")
	if !errors.Is(err, domain.ErrConflict) || !strings.Contains(err.Error(), "COMPLETED") {
		t.Fatalf("expected conflict naming COMPLETED, got %v", err)
	}
}

func TestCancelFromActive(t *testing.T) {
	f := newFixture(t, defaultOpts, pending("c1"))
	if _, err := f.svc.Accept(context.Background(), lawyer, "c1"); err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if _, err := f.svc.MarkPaid(context.Background(), "c1", "pi_1"); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}

	if _, err := f.svc.Cancel(context.Background(), other, "c1", ""); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	c, err := f.svc.Cancel(context.Background(), client, "c1", "changed my mind")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if c.Status != StatusCancelled || f.store.status("c1") != StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", c.Status)
	}
}

func TestCancelTrialTimersWithoutTimersIsSafe(t *testing.T) {
	f := newFixture(t, defaultOpts)
	f.svc.cancelTrialTimers("never-scheduled")
	f.svc.cancelTrialTimers("never-scheduled")
}

func TestTrialEndFiresOnlyWithoutPayment(t *testing.T) {
	opts := Options{TrialDuration: 40 * time.Millisecond, TrialWarningLead: 20 * time.Millisecond}

	t.Run("unpaid", func(t *testing.T) {
		f := newFixture(t, opts, pending("c1"))
		if _, err := f.svc.Accept(context.Background(), lawyer, "c1"); err != nil {
			t.Fatalf("accept failed: %v", err)
		}
		waitFor(t, func() bool { return f.emitter.count(protocol.EventTrialEnded) == 1 })
		if f.emitter.count(protocol.EventTrialEndingSoon) != 1 {
			t.Fatalf("expected one warning before the end")
		}
	})

	t.Run("paid after scheduling", func(t *testing.T) {
		f := newFixture(t, opts, pending("c1"))
		if _, err := f.svc.Accept(context.Background(), lawyer, "c1"); err != nil {
			t.Fatalf("accept failed: %v", err)
		}
		// payment recorded without the webhook path; only the fire-time check can see it
		_ = f.store.RecordPayment(context.Background(), "c1", "pi_1")

		time.Sleep(120 * time.Millisecond)
		if n := f.emitter.count(protocol.EventTrialEnded); n != 0 {
			t.Fatalf("expected no trial-ended event for a paid consultation, got %d", n)
		}
	})
}

func TestRecoverTrials(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	expired := pending("expired")
	expired.Status, expired.TrialEndAt = StatusTrial, &past
	paid := pending("paid")
	paid.Status, paid.TrialEndAt = StatusTrial, &past
	running := pending("running")
	running.Status, running.TrialEndAt = StatusTrial, &future

	f := newFixture(t, defaultOpts, expired, paid, running)
	_ = f.store.RecordPayment(context.Background(), "paid", "pi_1")

	fired, err := f.svc.RecoverTrials(context.Background())
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if fired != 1 {
		t.Fatalf("expected one expiry notice, got %d", fired)
	}
	if f.emitter.count(protocol.EventTrialEnded) != 1 {
		t.Fatalf("expected trial-ended emitted once")
	}
	if !f.timers.Pending(trialEndKey("running")) {
		t.Fatalf("expected future trial to be re-armed")
	}
}

func TestExpireStalePending(t *testing.T) {
	stale := pending("stale")
	stale.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
	fresh := pending("fresh")

	f := newFixture(t, defaultOpts, stale, fresh)
	n, err := f.svc.ExpireStalePending(context.Background())
	if err != nil {
		t.Fatalf("expire failed: %v", err)
	}
	if n != 1 || f.store.status("stale") != StatusCancelled || f.store.status("fresh") != StatusPending {
		t.Fatalf("unexpected sweep result n=%d", n)
	}
	if got := len(f.notifier.kinds()); got != 2 {
		t.Fatalf("expected both parties notified, got %d", got)
	}
}

func TestStartPendingSweepRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, defaultOpts)
	if err := f.svc.StartPendingSweep(context.Background(), "not a schedule"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
