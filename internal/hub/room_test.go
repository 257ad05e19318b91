package hub

import (
	"testing"
	"time"

	"github.com/marnikitta/livecoding/internal/crdt"
	"github.com/marnikitta/livecoding/internal/roomlog"
	"github.com/marnikitta/livecoding/internal/wire"
)

type fakeTransport struct {
	closed bool
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func testConfig() Config {
	return Config{
		HeartbitInterval:      50 * time.Millisecond,
		BackpressureQueueSize: 4,
		LogThreshold:          roomlog.Threshold{MaxOps: 1000},
		MaxSites:              20,
	}
}

func mustJoin(t *testing.T, r *Room, transport Transport, joinOffset int) *Session {
	t.Helper()
	s, err := r.Join(transport, joinOffset)
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	return s
}

func drain(t *testing.T, s *Session, n int) []wire.ServerMessage {
	t.Helper()
	var out []wire.ServerMessage
	for i := 0; i < n; i++ {
		select {
		case msg := <-s.Outbound():
			out = append(out, msg)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d/%d", i+1, n)
		}
	}
	return out
}

func TestJoinAssignsSequentialSiteIDs(t *testing.T) {
	r := New("room1", testConfig(), nil, nil)
	defer r.Stop()

	s1 := mustJoin(t, r, &fakeTransport{}, 0)
	s2 := mustJoin(t, r, &fakeTransport{}, 0)

	if s1.SiteID != 1 || s2.SiteID != 2 {
		t.Fatalf("expected sequential siteIds 1,2, got %d,%d", s1.SiteID, s2.SiteID)
	}

	msgs := drain(t, s1, 1)
	if msgs[0].SetSiteID == nil || msgs[0].SetSiteID.SiteID != 1 {
		t.Fatalf("expected setSiteId message, got %+v", msgs[0])
	}
}

func TestJoinReplaysMissedOperations(t *testing.T) {
	r := New("room1", testConfig(), nil, nil)
	defer r.Stop()

	s1 := mustJoin(t, r, &fakeTransport{}, 0)
	drain(t, s1, 1) // setSiteId

	op := wire.FromInternal(crdt.InsertOp(crdt.GlobalID{Counter: 1, SiteID: 1}, 'a', nil))
	r.HandleClientMessage(s1, wire.CrdtEventsClientMessage([]wire.Operation{op}))

	s2 := mustJoin(t, r, &fakeTransport{}, 0)
	msgs := drain(t, s2, 2) // setSiteId, then replayed crdtEvents
	found := false
	for _, m := range msgs {
		if m.CrdtEvents != nil && len(m.CrdtEvents.Events) == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected joining session to be replayed the prior operation, got %+v", msgs)
	}
}

func TestActiveSessionsReceiveFanOutNotSender(t *testing.T) {
	// A heartbeat interval longer than the silence window below, so a
	// heartbit cannot be mistaken for an echo.
	cfg := testConfig()
	cfg.HeartbitInterval = time.Minute

	r := New("room1", cfg, nil, nil)
	defer r.Stop()

	s1 := mustJoin(t, r, &fakeTransport{}, 0)
	s2 := mustJoin(t, r, &fakeTransport{}, 0)
	drain(t, s1, 1)
	drain(t, s2, 1)

	// s2's hello makes it Active; fan-out only reaches Active sessions.
	r.HandleClientMessage(s2, wire.SitePresenceClientMessage(s2.SiteID, "bob", true))

	op := wire.FromInternal(crdt.InsertOp(crdt.GlobalID{Counter: 1, SiteID: 1}, 'x', nil))
	r.HandleClientMessage(s1, wire.CrdtEventsClientMessage([]wire.Operation{op}))

	msgs := drain(t, s2, 1)
	if msgs[0].CrdtEvents == nil {
		t.Fatalf("expected s2 to receive fan-out, got %+v", msgs[0])
	}

	select {
	case msg := <-s1.Outbound():
		t.Fatalf("expected sender not to be echoed its own op, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisconnectBroadcastsSiteDisconnected(t *testing.T) {
	r := New("room1", testConfig(), nil, nil)
	defer r.Stop()

	s1 := mustJoin(t, r, &fakeTransport{}, 0)
	s2 := mustJoin(t, r, &fakeTransport{}, 0)
	drain(t, s1, 1)
	drain(t, s2, 1)

	r.Disconnect(s1.SiteID)

	msgs := drain(t, s2, 1)
	if msgs[0].SiteDisconnected == nil || msgs[0].SiteDisconnected.SiteID != s1.SiteID {
		t.Fatalf("expected siteDisconnected for site %d, got %+v", s1.SiteID, msgs[0])
	}
}

func TestPresenceFanOut(t *testing.T) {
	r := New("room1", testConfig(), nil, nil)
	defer r.Stop()

	s1 := mustJoin(t, r, &fakeTransport{}, 0)
	s2 := mustJoin(t, r, &fakeTransport{}, 0)
	drain(t, s1, 1)
	drain(t, s2, 1)

	// s2's hello makes it Active; presence only reaches Active sessions.
	r.HandleClientMessage(s2, wire.SitePresenceClientMessage(s2.SiteID, "bob", true))
	r.HandleClientMessage(s1, wire.SitePresenceClientMessage(s1.SiteID, "alice", true))

	msgs := drain(t, s2, 1)
	if msgs[0].SitePresence == nil || msgs[0].SitePresence.Name != "alice" {
		t.Fatalf("expected presence broadcast for alice, got %+v", msgs[0])
	}
}

func TestCompactionClosesSessionsAndShrinksLog(t *testing.T) {
	r := New("room1", testConfig(), nil, nil)
	defer r.Stop()

	s1 := mustJoin(t, r, &fakeTransport{}, 0)
	drain(t, s1, 1)

	var prev *crdt.GlobalID
	var ops []wire.Operation
	for i := 0; i < 10; i++ {
		gid := crdt.GlobalID{Counter: int64(i), SiteID: 1}
		ops = append(ops, wire.FromInternal(crdt.InsertOp(gid, 'a', prev)))
		prev = &gid
	}
	r.HandleClientMessage(s1, wire.CrdtEventsClientMessage(ops))

	r.Snapshot(func(r *Room) { r.compactLocked() })

	msgs := drain(t, s1, 1)
	if msgs[0].CompactionRequired == nil {
		t.Fatalf("expected compactionRequired, got %+v", msgs[0])
	}

	view := r.BootstrapView()
	if len(view) != 10 {
		t.Fatalf("expected minimal log of 10 inserts, got %d", len(view))
	}
	for _, op := range view {
		if op.Type != wire.OpInsert {
			t.Fatalf("expected only inserts in compacted log, found %q", op.Type)
		}
	}
}

func TestCompactionHookInvoked(t *testing.T) {
	var gotName string
	var gotOps []crdt.Operation
	hook := func(name string, ops []crdt.Operation) error {
		gotName = name
		gotOps = ops
		return nil
	}

	r := New("room1", testConfig(), nil, hook)
	defer r.Stop()

	s1 := mustJoin(t, r, &fakeTransport{}, 0)
	drain(t, s1, 1)

	op := wire.FromInternal(crdt.InsertOp(crdt.GlobalID{Counter: 1, SiteID: 1}, 'z', nil))
	r.HandleClientMessage(s1, wire.CrdtEventsClientMessage([]wire.Operation{op}))

	r.Snapshot(func(r *Room) { r.compactLocked() })

	if gotName != "room1" {
		t.Fatalf("expected hook called with room1, got %q", gotName)
	}
	if len(gotOps) != 1 {
		t.Fatalf("expected hook called with 1 op, got %d", len(gotOps))
	}
}

func TestBackpressureClosesSlowSession(t *testing.T) {
	cfg := testConfig()
	cfg.BackpressureQueueSize = 1

	r := New("room1", cfg, nil, nil)
	defer r.Stop()

	slow := mustJoin(t, r, &fakeTransport{}, 0)
	fast := mustJoin(t, r, &fakeTransport{}, 0)
	drain(t, slow, 1)
	drain(t, fast, 1)

	// slow's hello makes it Active, so fast's operations are fanned out to it.
	r.HandleClientMessage(slow, wire.SitePresenceClientMessage(slow.SiteID, "slow", true))

	// slow's queue (capacity 1) is never drained from here on; push enough
	// traffic through fast that slow's queue overflows and it gets closed.
	for i := 0; i < 5; i++ {
		gid := crdt.GlobalID{Counter: int64(i), SiteID: fast.SiteID}
		op := wire.FromInternal(crdt.InsertOp(gid, 'a', nil))
		r.HandleClientMessage(fast, wire.CrdtEventsClientMessage([]wire.Operation{op}))
	}

	r.Snapshot(func(r *Room) {
		if _, ok := r.sessions[slow.SiteID]; ok {
			t.Fatalf("expected slow session to be evicted for backpressure")
		}
	})
}

func TestCloseSessionClosesTransport(t *testing.T) {
	r := New("room1", testConfig(), nil, nil)
	defer r.Stop()

	transport := &fakeTransport{}
	s1 := mustJoin(t, r, transport, 0)
	drain(t, s1, 1)

	r.Disconnect(s1.SiteID)
	r.Snapshot(func(r *Room) {}) // wait for the Disconnect command to drain

	if !transport.closed {
		t.Fatalf("expected underlying transport to be closed when the session closes")
	}
}

func TestHeartbeatTimeoutClosesAwaitingHelloSession(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbitInterval = 10 * time.Millisecond

	r := New("room1", cfg, nil, nil)
	defer r.Stop()

	transport := &fakeTransport{}
	s1 := mustJoin(t, r, transport, 0)
	drain(t, s1, 1) // setSiteId; s1 never sends hello, stays AwaitingHello

	deadline := time.After(time.Second)
	for {
		done := make(chan bool, 1)
		r.Snapshot(func(r *Room) {
			_, ok := r.sessions[s1.SiteID]
			done <- ok
		})
		if !<-done {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected AwaitingHello session to be closed after missing the heartbeat deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if !transport.closed {
		t.Fatalf("expected transport to be closed alongside the session")
	}
}

func TestJoinRejectsOnceRoomIsFull(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSites = 1

	r := New("room1", cfg, nil, nil)
	defer r.Stop()

	if _, err := r.Join(&fakeTransport{}, 0); err != nil {
		t.Fatalf("unexpected error joining first session: %v", err)
	}

	_, err := r.Join(&fakeTransport{}, 0)
	if err == nil {
		t.Fatalf("expected the second join to be rejected once MaxSites is reached")
	}
}
