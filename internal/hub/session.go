package hub

import (
	"time"

	"github.com/marnikitta/livecoding/internal/wire"
)

// State is a Session's position in the protocol state machine from
// spec.md §4.3.
type State int

const (
	Opened State = iota
	AwaitingHello
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Opened:
		return "opened"
	case AwaitingHello:
		return "awaitingHello"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Presence is a site's display name and visibility, as broadcast to other
// sessions.
type Presence struct {
	Name    string
	Visible bool
}

// Transport is the minimal socket-facing contract a Session needs: force-
// close the underlying connection. Outbound messages go through the
// Session's own queue, not the Transport. Kept as an interface so the
// mailbox loop and its
// tests never depend on gorilla/websocket directly.
type Transport interface {
	Close() error
}

// Session is the server-side record of one connected participant, owned
// exclusively by its Room; it never outlives the Room (spec.md §3).
type Session struct {
	SiteID     int64
	JoinOffset int
	State      State
	Presence   Presence
	LastSeen   time.Time

	outbound  chan wire.ServerMessage
	transport Transport
}

// newSession allocates a Session with a bounded outbound queue of the
// configured backpressure size.
func newSession(siteID int64, joinOffset int, queueSize int, transport Transport) *Session {
	return &Session{
		SiteID:     siteID,
		JoinOffset: joinOffset,
		State:      Opened,
		LastSeen:   time.Now(),
		outbound:   make(chan wire.ServerMessage, queueSize),
		transport:  transport,
	}
}

// Outbound returns the channel the session's write pump drains. Exposed so
// the write pump can be started outside the mailbox goroutine.
func (s *Session) Outbound() <-chan wire.ServerMessage {
	return s.outbound
}

// enqueue is a non-blocking send with drop, matching spec.md §5's
// backpressure policy: a slow session is closed, never allowed to stall
// the room's fan-out. Returns false if the queue was full (caller closes
// the session).
func (s *Session) enqueue(msg wire.ServerMessage) bool {
	select {
	case s.outbound <- msg:
		return true
	default:
		return false
	}
}

func (s *Session) closeOutbound() {
	close(s.outbound)
}
