package hub

import (
	"context"
	"log"

	"github.com/gorilla/websocket"

	"github.com/marnikitta/livecoding/internal/wire"
)

// wsTransport adapts a gorilla/websocket.Conn to the Transport interface
// the mailbox needs, and owns the read/write pump pair for one Session.
// Neither pump ever touches Room state directly — the read pump only
// posts to the Room's mailbox, and the write pump only drains the
// Session's own outbound channel — which is how the single point of
// serialization from spec.md §5 is enforced without the Room reaching
// into socket code.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// Serve joins room at joinOffset over an already-upgraded WebSocket conn
// and runs the read/write pumps until the connection ends. Blocks until
// the session closes; the HTTP handler calls it on the request's own
// goroutine.
func Serve(ctx context.Context, room *Room, conn *websocket.Conn, joinOffset int) {
	transport := &wsTransport{conn: conn}
	session, err := room.Join(transport, joinOffset)
	if err != nil {
		log.Printf("hub: join rejected: %v", err)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()))
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		writeLoop(conn, session)
	}()

	readLoop(ctx, room, conn, session)
	room.Disconnect(session.SiteID)
	<-done
}

func writeLoop(conn *websocket.Conn, session *Session) {
	for msg := range session.Outbound() {
		data, err := wire.MarshalServerMessage(msg)
		if err != nil {
			log.Printf("hub: site %d: failed to marshal outbound message: %v", session.SiteID, err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
}

func readLoop(ctx context.Context, room *Room, conn *websocket.Conn, session *Session) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := wire.UnmarshalClientMessage(data)
		if err != nil {
			log.Printf("hub: site %d: malformed message, closing session: %v", session.SiteID, err)
			return
		}
		room.HandleClientMessage(session, msg)
	}
}
