package wire

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// SetSiteID is the first message a session ever receives: its assigned
// siteId.
type SetSiteID struct {
	SiteID int64 `json:"siteId"`
}

// CrdtEvents carries a batch of Operations, in either direction.
type CrdtEvents struct {
	Events []Operation `json:"events"`
}

// SitePresence announces or updates a site's display name and visibility,
// in either direction.
type SitePresence struct {
	SiteID  int64  `json:"siteId"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
}

// SiteDisconnected announces that a site has left the room.
type SiteDisconnected struct {
	SiteID int64 `json:"siteId"`
}

// Heartbit is the empty keep-alive payload.
type Heartbit struct{}

// CompactionRequired is the empty control message that precedes a forced
// session close for compaction.
type CompactionRequired struct{}

// ServerMessage is the tagged envelope for every message the server can
// send on a session. Exactly one field is non-nil; Kind reports which.
type ServerMessage struct {
	SetSiteID          *SetSiteID          `json:"setSiteId,omitempty"`
	CrdtEvents         *CrdtEvents         `json:"crdtEvents,omitempty"`
	SitePresence       *SitePresence       `json:"sitePresence,omitempty"`
	SiteDisconnected   *SiteDisconnected   `json:"siteDisconnected,omitempty"`
	Heartbit           *Heartbit           `json:"heartbit,omitempty"`
	CompactionRequired *CompactionRequired `json:"compactionRequired,omitempty"`
}

// ClientMessage is the tagged envelope for every message a client can send
// on a session.
type ClientMessage struct {
	CrdtEvents   *CrdtEvents   `json:"crdtEvents,omitempty"`
	SitePresence *SitePresence `json:"sitePresence,omitempty"`
}

func countSet(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// Kind returns the name of the single populated field, or an error if zero
// or more than one are set.
func (m ServerMessage) Kind() (string, error) {
	set := countSet(m.SetSiteID != nil, m.CrdtEvents != nil, m.SitePresence != nil,
		m.SiteDisconnected != nil, m.Heartbit != nil, m.CompactionRequired != nil)
	switch {
	case set == 0:
		return "", fmt.Errorf("wire: server message has no populated key")
	case set > 1:
		return "", fmt.Errorf("wire: server message has %d populated keys, want exactly 1", set)
	}
	switch {
	case m.SetSiteID != nil:
		return "setSiteId", nil
	case m.CrdtEvents != nil:
		return "crdtEvents", nil
	case m.SitePresence != nil:
		return "sitePresence", nil
	case m.SiteDisconnected != nil:
		return "siteDisconnected", nil
	case m.Heartbit != nil:
		return "heartbit", nil
	default:
		return "compactionRequired", nil
	}
}

// Kind returns the name of the single populated field, or an error if zero
// or more than one are set.
func (m ClientMessage) Kind() (string, error) {
	set := countSet(m.CrdtEvents != nil, m.SitePresence != nil)
	switch {
	case set == 0:
		return "", fmt.Errorf("wire: client message has no populated key")
	case set > 1:
		return "", fmt.Errorf("wire: client message has %d populated keys, want exactly 1", set)
	}
	if m.CrdtEvents != nil {
		return "crdtEvents", nil
	}
	return "sitePresence", nil
}

// MarshalServerMessage validates the envelope before encoding it, so a
// malformed outbound message is caught at the codec boundary rather than
// silently shipped.
func MarshalServerMessage(m ServerMessage) ([]byte, error) {
	if _, err := m.Kind(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// UnmarshalServerMessage decodes and validates a server envelope.
func UnmarshalServerMessage(data []byte) (ServerMessage, error) {
	var m ServerMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ServerMessage{}, fmt.Errorf("wire: decode server message: %w", err)
	}
	if _, err := m.Kind(); err != nil {
		return ServerMessage{}, err
	}
	return m, nil
}

// MarshalClientMessage validates the envelope before encoding it.
func MarshalClientMessage(m ClientMessage) ([]byte, error) {
	if _, err := m.Kind(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// UnmarshalClientMessage decodes and validates a client envelope.
func UnmarshalClientMessage(data []byte) (ClientMessage, error) {
	var m ClientMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return ClientMessage{}, fmt.Errorf("wire: decode client message: %w", err)
	}
	if _, err := m.Kind(); err != nil {
		return ClientMessage{}, err
	}
	return m, nil
}

// Helpers that build a ready-to-send ServerMessage for each variant, mirroring
// the one-dict-with-one-key shape the room mailbox constructs on every
// broadcast.

func SetSiteIDMessage(siteID int64) ServerMessage {
	return ServerMessage{SetSiteID: &SetSiteID{SiteID: siteID}}
}

func CrdtEventsServerMessage(events []Operation) ServerMessage {
	return ServerMessage{CrdtEvents: &CrdtEvents{Events: events}}
}

func SitePresenceServerMessage(siteID int64, name string, visible bool) ServerMessage {
	return ServerMessage{SitePresence: &SitePresence{SiteID: siteID, Name: name, Visible: visible}}
}

func SiteDisconnectedMessage(siteID int64) ServerMessage {
	return ServerMessage{SiteDisconnected: &SiteDisconnected{SiteID: siteID}}
}

func HeartbitMessage() ServerMessage {
	return ServerMessage{Heartbit: &Heartbit{}}
}

func CompactionRequiredMessage() ServerMessage {
	return ServerMessage{CompactionRequired: &CompactionRequired{}}
}

func CrdtEventsClientMessage(events []Operation) ClientMessage {
	return ClientMessage{CrdtEvents: &CrdtEvents{Events: events}}
}

func SitePresenceClientMessage(siteID int64, name string, visible bool) ClientMessage {
	return ClientMessage{SitePresence: &SitePresence{SiteID: siteID, Name: name, Visible: visible}}
}
