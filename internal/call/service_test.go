package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"go-counsel/internal/consultation"
	"go-counsel/internal/domain"
	"go-counsel/internal/notify"
	"go-counsel/internal/presence"
	"go-counsel/internal/protocol"
	"go-counsel/internal/rtc"
	"go-counsel/internal/timer"
)

type fakeConsultations map[string]*consultation.Consultation

func (f fakeConsultations) Get(ctx context.Context, id string) (*consultation.Consultation, error) {
	c, ok := f[id]
	if !ok {
		return nil, fmt.Errorf("%w: consultation %s", domain.ErrNotFound, id)
	}
	return c, nil
}

type fakeIssuer struct {
	err    error
	issued []uint32
}

func (f *fakeIssuer) IssueToken(channel string, uid uint32, role rtc.Role, ttl time.Duration) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.issued = append(f.issued, uid)
	return fmt.Sprintf("tok-%s-%d", channel, uid), nil
}

type userEmit struct {
	event string
	users []string
}

type userEmitter struct {
	mu    sync.Mutex
	emits []userEmit
}

func (e *userEmitter) EmitToUsers(ctx context.Context, ev protocol.Outbound, userIDs ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.emits = append(e.emits, userEmit{event: ev.Event(), users: userIDs})
}

func (e *userEmitter) byEvent(name string) []userEmit {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []userEmit
	for _, em := range e.emits {
		if em.event == name {
			out = append(out, em)
		}
	}
	return out
}

type countingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *countingNotifier) Notify(ctx context.Context, note notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, note.Kind)
}

func (n *countingNotifier) count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, k := range n.kinds {
		if k == kind {
			c++
		}
	}
	return c
}

var (
	clientActor = domain.Actor{UserID: "client-1", Name: "Ada", Role: domain.RoleClient}
	lawyerActor = domain.Actor{UserID: "lawyer-1", Name: "Lee", Role: domain.RoleLawyer}
	outsider    = domain.Actor{UserID: "outsider", Name: "Eve", Role: domain.RoleClient}
)

type callFixture struct {
	svc      *Service
	store    *MemoryStore
	issuer   *fakeIssuer
	emitter  *userEmitter
	notifier *countingNotifier
	timers   *timer.MemoryRegistry
}

func newCallFixture(t *testing.T, opts Options) *callFixture {
	t.Helper()
	f := &callFixture{
		store:    NewMemoryStore(),
		issuer:   &fakeIssuer{},
		emitter:  &userEmitter{},
		notifier: &countingNotifier{},
		timers:   timer.NewMemoryRegistry(),
	}
	t.Cleanup(f.timers.Stop)

	consultations := fakeConsultations{
		"active": {ID: "active", ClientID: clientActor.UserID, LawyerUserID: lawyerActor.UserID, Status: consultation.StatusActive},
		"done":   {ID: "done", ClientID: clientActor.UserID, LawyerUserID: lawyerActor.UserID, Status: consultation.StatusCompleted},
	}
	tracker := presence.NewMemoryTracker()
	_, _ = tracker.RecordConnect(context.Background(), lawyerActor.UserID, "conn-1")

	f.svc = NewService(Deps{
		Store:         f.store,
		Consultations: consultations,
		Tokens:        f.issuer,
		Presence:      tracker,
		Emitter:       f.emitter,
		Notifier:      f.notifier,
		Timers:        f.timers,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, opts)
	return f
}

var longOpts = Options{RingTimeout: time.Minute, Retention: time.Minute, TokenTTL: time.Hour}

func TestInitiateRingsReceiverOnly(t *testing.T) {
	f := newCallFixture(t, longOpts)

	creds, err := f.svc.Initiate(context.Background(), clientActor, "active", "video")
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if creds.Call.Status != StatusRinging || creds.Call.Type != TypeVideo || creds.UID != UID(clientActor.UserID) {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	if creds.ReceiverOnline == nil || !*creds.ReceiverOnline {
		t.Fatalf("expected receiver reported online")
	}
	incoming := f.emitter.byEvent(protocol.EventIncomingCall)
	if len(incoming) != 1 || len(incoming[0].users) != 1 || incoming[0].users[0] != lawyerActor.UserID {
		t.Fatalf("incoming call must reach only the receiver, got %+v", incoming)
	}
	if f.notifier.count(notify.KindIncomingCall) != 1 {
		t.Fatalf("expected incoming call push")
	}
	if !f.timers.Pending(ringKey(creds.Call.ID)) {
		t.Fatalf("expected ring timeout armed")
	}
}

func TestInitiateRejections(t *testing.T) {
	f := newCallFixture(t, longOpts)

	if _, err := f.svc.Initiate(context.Background(), outsider, "active", TypeVoice); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.Initiate(context.Background(), clientActor, "missing", TypeVoice); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err := f.svc.Initiate(context.Background(), clientActor, "done", TypeVoice)
	if !errors.Is(err, domain.ErrConflict) || !strings.Contains(err.Error(), "COMPLETED") {
		t.Fatalf("expected conflict naming COMPLETED, got %v", err)
	}
	if _, err := f.svc.Initiate(context.Background(), clientActor, "active", "fax"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTokenFailureFailsInitiate(t *testing.T) {
	f := newCallFixture(t, longOpts)
	f.issuer.err = errors.New("rtc down")

	_, err := f.svc.Initiate(context.Background(), clientActor, "active", TypeVoice)
	if !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("expected upstream failure, got %v", err)
	}
	if f.store.Len() != 0 {
		t.Fatalf("no call should be stored when the credential failed")
	}
	if len(f.emitter.byEvent(protocol.EventIncomingCall)) != 0 {
		t.Fatalf("nobody should be rung")
	}
}

func TestRingTimeoutMarksMissedOnce(t *testing.T) {
	f := newCallFixture(t, Options{RingTimeout: 20 * time.Millisecond, Retention: time.Minute, TokenTTL: time.Hour})

	creds, err := f.svc.Initiate(context.Background(), clientActor, "active", TypeVoice)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(f.emitter.byEvent(protocol.EventCallMissed)) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("call was never marked missed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	missed := f.emitter.byEvent(protocol.EventCallMissed)
	if len(missed) != 1 || len(missed[0].users) != 2 {
		t.Fatalf("expected one missed emit to both parties, got %+v", missed)
	}
	if f.notifier.count(notify.KindMissedCall) != 1 {
		t.Fatalf("expected exactly one missed-call push")
	}
	session, _ := f.store.Get(creds.Call.ID)
	if session.Status != StatusMissed {
		t.Fatalf("expected MISSED, got %s", session.Status)
	}

	if _, err := f.svc.Accept(context.Background(), lawyerActor, creds.Call.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("accepting a missed call must conflict, got %v", err)
	}
}

func TestAcceptThenEndReportsRoundedDuration(t *testing.T) {
	f := newCallFixture(t, longOpts)
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	clock := t0
	f.svc.now = func() time.Time { return clock }

	creds, err := f.svc.Initiate(context.Background(), clientActor, "active", TypeVoice)
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	if _, err := f.svc.Accept(context.Background(), clientActor, creds.Call.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("only the receiver may accept, got %v", err)
	}

	accepted, err := f.svc.Accept(context.Background(), lawyerActor, creds.Call.ID)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if accepted.UID != UID(lawyerActor.UserID) || accepted.Call.Status != StatusActive {
		t.Fatalf("unexpected accept result %+v", accepted)
	}
	if f.timers.Pending(ringKey(creds.Call.ID)) {
		t.Fatalf("ring timeout should be cancelled on accept")
	}

	clock = t0.Add(90*time.Second + 600*time.Millisecond)
	ended, err := f.svc.End(context.Background(), clientActor, creds.Call.ID)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if ended.Duration != 91 {
		t.Fatalf("expected duration 91, got %d", ended.Duration)
	}
	if got := f.emitter.byEvent(protocol.EventCallEnded); len(got) != 1 || len(got[0].users) != 2 {
		t.Fatalf("expected call-ended to both parties, got %+v", got)
	}
	if _, err := f.svc.End(context.Background(), lawyerActor, creds.Call.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ending twice must conflict, got %v", err)
	}
	if !f.timers.Pending(evictKey(creds.Call.ID)) {
		t.Fatalf("expected eviction scheduled")
	}
}

func TestEndWhileRingingHasZeroDuration(t *testing.T) {
	f := newCallFixture(t, longOpts)
	creds, _ := f.svc.Initiate(context.Background(), clientActor, "active", TypeVoice)

	ended, err := f.svc.End(context.Background(), clientActor, creds.Call.ID)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if ended.Duration != 0 {
		t.Fatalf("never-connected call must have zero duration, got %d", ended.Duration)
	}
	if _, err := f.svc.End(context.Background(), outsider, creds.Call.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for outsider, got %v", err)
	}
}

func TestDeclineNotifiesInitiatorOnly(t *testing.T) {
	f := newCallFixture(t, longOpts)
	creds, _ := f.svc.Initiate(context.Background(), clientActor, "active", TypeVoice)

	if _, err := f.svc.Decline(context.Background(), clientActor, creds.Call.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("only the receiver may decline, got %v", err)
	}
	session, err := f.svc.Decline(context.Background(), lawyerActor, creds.Call.ID)
	if err != nil {
		t.Fatalf("decline failed: %v", err)
	}
	if session.Status != StatusDeclined {
		t.Fatalf("expected DECLINED, got %s", session.Status)
	}
	declined := f.emitter.byEvent(protocol.EventCallDeclined)
	if len(declined) != 1 || len(declined[0].users) != 1 || declined[0].users[0] != clientActor.UserID {
		t.Fatalf("declined must reach only the initiator, got %+v", declined)
	}
	_, err = f.svc.Accept(context.Background(), lawyerActor, creds.Call.ID)
	if !errors.Is(err, domain.ErrConflict) || !strings.Contains(err.Error(), "DECLINED") {
		t.Fatalf("expected conflict naming DECLINED, got %v", err)
	}
}

func TestTokenReissueKeepsState(t *testing.T) {
	f := newCallFixture(t, longOpts)
	creds, _ := f.svc.Initiate(context.Background(), clientActor, "active", TypeVoice)

	again, err := f.svc.Token(context.Background(), lawyerActor, creds.Call.ID)
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if again.UID != UID(lawyerActor.UserID) || again.Call.Status != StatusRinging {
		t.Fatalf("unexpected token result %+v", again)
	}
	if _, err := f.svc.Token(context.Background(), outsider, creds.Call.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.svc.Token(context.Background(), clientActor, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEndedCallIsEvictedAfterRetention(t *testing.T) {
	f := newCallFixture(t, Options{RingTimeout: time.Minute, Retention: 20 * time.Millisecond, TokenTTL: time.Hour})
	creds, _ := f.svc.Initiate(context.Background(), clientActor, "active", TypeVoice)
	if _, err := f.svc.End(context.Background(), clientActor, creds.Call.ID); err != nil {
		t.Fatalf("end failed: %v", err)
	}

	if _, err := f.svc.Get(context.Background(), lawyerActor, creds.Call.ID); err != nil {
		t.Fatalf("ended call should still be readable during retention: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.store.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ended call was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestUIDIsStablePositiveAndNonZero(t *testing.T) {
	a, b := UID("user-a"), UID("user-a")
	if a != b {
		t.Fatalf("uid must be deterministic")
	}
	for _, id := range []string{"", "user-a", "user-b", "0b9f6c1e-5f3a-4a8e-9b0c-2d7c1f3e4a5b"} {
		uid := UID(id)
		if uid == 0 || uid > 0x7fffffff {
			t.Fatalf("uid %d for %q out of range", uid, id)
		}
	}
}
