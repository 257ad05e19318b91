// Package hub implements the per-room session manager: site assignment,
// fan-out, presence, heartbeats, and the compaction handover, all
// serialized through one mailbox goroutine per Room (spec.md §4.3, §5).
package hub

import (
	"log"
	"time"

	"github.com/marnikitta/livecoding/internal/apperr"
	"github.com/marnikitta/livecoding/internal/crdt"
	"github.com/marnikitta/livecoding/internal/roomlog"
	"github.com/marnikitta/livecoding/internal/wire"
)

// Config is the subset of internal/config a Room needs, copied in at
// construction so the Room never reaches back into global configuration.
type Config struct {
	HeartbitInterval      time.Duration
	BackpressureQueueSize int
	LogThreshold          roomlog.Threshold
	MaxSites              int
}

// CompactionHook is invoked with the Room's name and its freshly compacted
// log after a compaction finishes, so the caller can persist it before any
// client is allowed to reconnect (spec.md §4.5).
type CompactionHook func(roomName string, ops []crdt.Operation) error

// roomCmd is one unit of work processed serially by the Room's mailbox
// goroutine. Using a closure over *Room keeps every command kind's logic
// next to its own data instead of forcing a big discriminated switch.
type roomCmd func(r *Room)

// Room owns one named document's log, live sessions, and presence table.
// Every field below is mutated only from inside run(), the mailbox
// goroutine; nothing else may touch them.
type Room struct {
	Name string
	cfg  Config

	log      *roomlog.Log
	sessions map[int64]*Session
	presence map[int64]Presence

	nextSiteID   int64
	createdAt    time.Time
	lastActivity time.Time

	cmds        chan roomCmd
	done        chan struct{}
	compactHook CompactionHook
}

// New constructs a Room seeded with an initial log (empty for a brand new
// room, or restored from a snapshot) and starts its mailbox goroutine.
func New(name string, cfg Config, initial *roomlog.Log, hook CompactionHook) *Room {
	if initial == nil {
		initial = roomlog.New()
	}
	r := &Room{
		Name:         name,
		cfg:          cfg,
		log:          initial,
		sessions:     make(map[int64]*Session),
		presence:     make(map[int64]Presence),
		nextSiteID:   1,
		createdAt:    time.Now(),
		lastActivity: time.Now(),
		cmds:         make(chan roomCmd, 64),
		done:         make(chan struct{}),
		compactHook:  hook,
	}
	go r.run()
	return r
}

// send posts cmd to the mailbox. Safe to call from any goroutine.
func (r *Room) send(cmd roomCmd) {
	select {
	case r.cmds <- cmd:
	case <-r.done:
	}
}

func (r *Room) run() {
	ticker := time.NewTicker(r.cfg.HeartbitInterval)
	defer ticker.Stop()
	for {
		select {
		case cmd, ok := <-r.cmds:
			if !ok {
				return
			}
			cmd(r)
		case <-ticker.C:
			r.tickHeartbeat()
		case <-r.done:
			return
		}
	}
}

// Stop shuts the Room's mailbox goroutine down without touching sessions;
// callers that want clean disconnects should close every session first
// (see EvictNotice).
func (r *Room) Stop() {
	close(r.done)
}

func (r *Room) touch() {
	r.lastActivity = time.Now()
}

// CreatedAt reads createdAt from outside the mailbox, tolerating a stale
// read the same way IdleSince and Age below do (the same looseness
// spec.md §4.4 assumes of "lastActivity").
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Snapshot executes fn synchronously inside the mailbox and waits until it
// has finished; fn hands results back through variables it captures. Used
// by read-only
// queries (bootstrap, sweeper staleness checks) that need a consistent
// view of Room state.
func (r *Room) Snapshot(fn func(r *Room)) {
	reply := make(chan struct{})
	r.send(func(r *Room) {
		fn(r)
		close(reply)
	})
	<-reply
}

// joinResult carries Join's outcome back across the mailbox boundary.
type joinResult struct {
	session *Session
	err     error
}

// Join assigns a new siteId, registers a Session for transport, replays
// presence and log history, and returns the Session. joinOffset is the
// offset the client has already consumed via the bootstrap response.
// Rejects with apperr.LimitExceededErr once the room already holds
// cfg.MaxSites sessions (original_source/livecoding/domain/room.py's
// connect() raises the equivalent "room is full" error).
func (r *Room) Join(transport Transport, joinOffset int) (*Session, error) {
	reply := make(chan joinResult, 1)
	r.send(func(r *Room) {
		if r.cfg.MaxSites > 0 && len(r.sessions) >= r.cfg.MaxSites {
			reply <- joinResult{err: apperr.LimitExceededErr(nil).WithMessage("room is full")}
			return
		}

		siteID := r.nextSiteID
		r.nextSiteID++

		session := newSession(siteID, joinOffset, r.cfg.BackpressureQueueSize, transport)
		session.State = AwaitingHello
		r.sessions[siteID] = session
		r.touch()

		session.enqueue(wire.SetSiteIDMessage(siteID))
		for id, p := range r.presence {
			session.enqueue(wire.SitePresenceServerMessage(id, p.Name, p.Visible))
		}
		if missed := r.log.Since(joinOffset); len(missed) > 0 {
			session.enqueue(wire.CrdtEventsServerMessage(wire.FromInternalBatch(missed)))
		}

		reply <- joinResult{session: session}
	})
	res := <-reply
	return res.session, res.err
}

// HandleClientMessage processes one inbound message from session's read
// pump. AwaitingHello sessions are read-only until their first presence or
// operation message arrives, at which point they become Active.
func (r *Room) HandleClientMessage(session *Session, msg wire.ClientMessage) {
	r.send(func(r *Room) {
		s, ok := r.sessions[session.SiteID]
		if !ok || s.State == Closed {
			return
		}
		s.LastSeen = time.Now()
		if s.State == AwaitingHello {
			s.State = Active
		}
		r.touch()

		switch {
		case msg.CrdtEvents != nil:
			r.applyClientEvents(s, msg.CrdtEvents.Events)
		case msg.SitePresence != nil:
			r.applyClientPresence(s, *msg.SitePresence)
		}
	})
}

func (r *Room) applyClientEvents(sender *Session, events []wire.Operation) {
	internal, err := wire.ToInternalBatch(events)
	if err != nil {
		log.Printf("hub: room %s: rejecting malformed batch from site %d: %v", r.Name, sender.SiteID, err)
		r.closeSession(sender.SiteID)
		return
	}

	if _, err := r.log.AppendBatch(internal); err != nil {
		log.Printf("hub: room %s: failed to append batch from site %d: %v", r.Name, sender.SiteID, err)
		r.closeSession(sender.SiteID)
		return
	}

	out := wire.CrdtEventsServerMessage(events)
	for id, s := range r.sessions {
		if id == sender.SiteID || s.State != Active {
			continue
		}
		r.enqueueOrDrop(s, out)
	}

	if r.log.Exceeded(r.cfg.LogThreshold) {
		r.compactLocked()
	}
}

func (r *Room) applyClientPresence(sender *Session, p wire.SitePresence) {
	sender.Presence = Presence{Name: p.Name, Visible: p.Visible}
	r.presence[sender.SiteID] = sender.Presence

	out := wire.SitePresenceServerMessage(sender.SiteID, p.Name, p.Visible)
	for id, s := range r.sessions {
		if id == sender.SiteID || s.State != Active {
			continue
		}
		r.enqueueOrDrop(s, out)
	}
}

// tickHeartbeat runs on every heartbeat tick: it closes every session whose
// lastSeen is older than 2 × HeartbitInterval and sends a heartbit to each
// remaining session. The wire protocol has no client heartbeat message;
// any inbound traffic resets lastSeen (see HandleClientMessage).
func (r *Room) tickHeartbeat() {
	r.send(func(r *Room) {
		deadline := 2 * r.cfg.HeartbitInterval
		now := time.Now()
		for id, s := range r.sessions {
			if now.Sub(s.LastSeen) > deadline {
				log.Printf("hub: room %s: site %d missed heartbeat deadline, closing", r.Name, id)
				r.closeSession(id)
				continue
			}
			if s.State != Closed {
				r.enqueueOrDrop(s, wire.HeartbitMessage())
			}
		}
	})
}

// Disconnect removes session's siteId from the room, broadcasting
// siteDisconnected. Safe to call from the session's read-pump goroutine
// via the mailbox.
func (r *Room) Disconnect(siteID int64) {
	r.send(func(r *Room) {
		r.closeSession(siteID)
	})
}

func (r *Room) closeSession(siteID int64) {
	s, ok := r.sessions[siteID]
	if !ok || s.State == Closed {
		return
	}
	s.State = Closed
	s.closeOutbound()
	if err := s.transport.Close(); err != nil {
		log.Printf("hub: room %s: site %d: transport close: %v", r.Name, siteID, err)
	}
	delete(r.sessions, siteID)
	delete(r.presence, siteID)

	out := wire.SiteDisconnectedMessage(siteID)
	for _, other := range r.sessions {
		r.enqueueOrDrop(other, out)
	}
}

// enqueueOrDrop applies spec.md §5's backpressure rule: a full outbound
// queue means the session is slow and gets closed, rather than stalling
// fan-out to everyone else.
func (r *Room) enqueueOrDrop(s *Session, msg wire.ServerMessage) {
	if !s.enqueue(msg) {
		log.Printf("hub: room %s: site %d outbound queue full, closing as slow", r.Name, s.SiteID)
		r.closeSession(s.SiteID)
	}
}

// compactLocked implements spec.md §4.3's compaction protocol. Must only
// be called from inside the mailbox.
func (r *Room) compactLocked() {
	log.Printf("hub: room %s: compacting (%d ops, %d bytes)", r.Name, r.log.Len(), r.log.Bytes())

	out := wire.CompactionRequiredMessage()
	for id := range r.sessions {
		s := r.sessions[id]
		s.enqueue(out)
		r.closeSession(id)
	}

	replica := crdt.NewReplica()
	if _, err := replica.ApplyRemote(r.log.All()); err != nil {
		log.Printf("hub: room %s: compaction replay failed, log left intact: %v", r.Name, err)
		return
	}

	minimal := minimalOperations(replica.Text())
	if err := r.log.Replace(minimal); err != nil {
		log.Printf("hub: room %s: failed to install compacted log: %v", r.Name, err)
		return
	}
	r.nextSiteID = 1

	if r.compactHook != nil {
		if err := r.compactHook(r.Name, minimal); err != nil {
			log.Printf("hub: room %s: compaction hook failed: %v", r.Name, err)
		}
	}
}

// SeedOperations builds the Insert-only operation chain that reproduces
// text from scratch, stamped from crdt.UtilSiteID. Used both by
// compaction (internally, as minimalOperations) and by the Registry to
// seed a freshly created room with a retention greeting.
func SeedOperations(text string) []crdt.Operation {
	return minimalOperations(text)
}

// minimalOperations rebuilds the minimal Insert-only operation set that
// reproduces text, chaining each character's afterGid to the previous one
// — step 3 of spec.md §4.3's compaction protocol.
func minimalOperations(text string) []crdt.Operation {
	var ops []crdt.Operation
	var prev *crdt.GlobalID
	counter := int64(0)
	for _, c := range text {
		gid := crdt.GlobalID{Counter: counter, SiteID: crdt.UtilSiteID}
		ops = append(ops, crdt.InsertOp(gid, c, prev))
		prev = &gid
		counter++
	}
	return ops
}

// BootstrapView returns the data a bootstrap GET needs: the full log in
// wire form. Safe to call from any goroutine.
func (r *Room) BootstrapView() []wire.Operation {
	var result []wire.Operation
	r.Snapshot(func(r *Room) {
		result = wire.FromInternalBatch(r.log.All())
	})
	return result
}

// IdleSince and Age are consulted by the Registry sweeper to decide
// eviction, outside the mailbox, tolerating the same staleness as
// lastActivity above.
func (r *Room) IdleSince() time.Duration {
	return time.Since(r.lastActivity)
}

func (r *Room) Age() time.Duration {
	return time.Since(r.createdAt)
}

// SessionCount reports how many sessions are currently attached, used by
// the Registry's ActiveUsers count for intro.js.
func (r *Room) SessionCount() int {
	var n int
	r.Snapshot(func(r *Room) { n = len(r.sessions) })
	return n
}

// EvictNotice closes every session and tears the Room's mailbox down, used
// by the Registry sweeper when a room crosses its idle/age thresholds. Any
// retention greeting is injected at room creation (see registry.Create),
// not at eviction time.
func (r *Room) EvictNotice() {
	r.Snapshot(func(r *Room) {
		out := wire.CompactionRequiredMessage()
		for id := range r.sessions {
			s := r.sessions[id]
			s.enqueue(out)
			r.closeSession(id)
		}
	})
	r.Stop()
}

// LogSnapshotForPersist returns the operations currently in the log, for
// the Registry's periodic flush. Safe to call from any goroutine.
func (r *Room) LogSnapshotForPersist() []crdt.Operation {
	var ops []crdt.Operation
	r.Snapshot(func(r *Room) {
		ops = r.log.All()
	})
	return ops
}
