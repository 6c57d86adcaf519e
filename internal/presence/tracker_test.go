package presence

import (
	"context"
	"testing"
)

func TestMemoryTrackerTransitions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := NewMemoryTracker()

	if tr.IsOnline(ctx, "u1") {
		t.Fatalf("unknown user should be offline")
	}

	online, _ := tr.RecordConnect(ctx, "u1", "c1")
	if !online {
		t.Fatalf("first connection must report offline->online")
	}
	online, _ = tr.RecordConnect(ctx, "u1", "c2")
	if online {
		t.Fatalf("second device must not re-fire online transition")
	}

	offline, _ := tr.RecordDisconnect(ctx, "u1", "c1")
	if offline {
		t.Fatalf("disconnecting one of two connections must not mark user offline")
	}
	if !tr.IsOnline(ctx, "u1") {
		t.Fatalf("user should still be online")
	}

	offline, _ = tr.RecordDisconnect(ctx, "u1", "c2")
	if !offline {
		t.Fatalf("last disconnect must report online->offline")
	}
	if tr.IsOnline(ctx, "u1") {
		t.Fatalf("user should be offline")
	}
	if tr.OnlineCount() != 0 {
		t.Fatalf("expected empty registry, got %d", tr.OnlineCount())
	}
}

func TestMemoryTrackerIgnoresUnknownDisconnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := NewMemoryTracker()

	if offline, _ := tr.RecordDisconnect(ctx, "ghost", "c1"); offline {
		t.Fatalf("disconnect of unknown user must not report a transition")
	}

	_, _ = tr.RecordConnect(ctx, "u1", "c1")
	if offline, _ := tr.RecordDisconnect(ctx, "u1", "other"); offline {
		t.Fatalf("disconnect of unknown connection must not report a transition")
	}
	offline, _ := tr.RecordDisconnect(ctx, "u1", "c1")
	if !offline {
		t.Fatalf("expected transition")
	}
	if again, _ := tr.RecordDisconnect(ctx, "u1", "c1"); again {
		t.Fatalf("repeated disconnect must not fire a second offline transition")
	}
}

func TestOnlineIffConnectsExceedDisconnects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := NewMemoryTracker()
	transitions := 0

	ops := []struct {
		connect bool
		conn    string
	}{
		{true, "a"}, {true, "b"}, {false, "a"}, {true, "c"}, {false, "b"}, {false, "c"}, {true, "d"}, {false, "d"},
	}
	open := 0
	for _, op := range ops {
		if op.connect {
			if changed, _ := tr.RecordConnect(ctx, "u", op.conn); changed {
				transitions++
			}
			open++
		} else {
			_, _ = tr.RecordDisconnect(ctx, "u", op.conn)
			open--
		}
		if tr.IsOnline(ctx, "u") != (open > 0) {
			t.Fatalf("online=%v with %d open connections", tr.IsOnline(ctx, "u"), open)
		}
	}
	if transitions != 2 {
		t.Fatalf("expected two online transitions, got %d", transitions)
	}
}

func TestStatuses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := NewMemoryTracker()
	_, _ = tr.RecordConnect(ctx, "lawyer", "c1")

	got := Statuses(ctx, tr, []string{"lawyer", "client"})
	if !got["lawyer"] || got["client"] {
		t.Fatalf("unexpected statuses %v", got)
	}
}
