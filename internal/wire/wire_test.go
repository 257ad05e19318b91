package wire

import (
	"testing"

	"github.com/marnikitta/livecoding/internal/crdt"
)

func TestOperationRoundTrip(t *testing.T) {
	after := crdt.GlobalID{Counter: 1, SiteID: 1}
	op := crdt.InsertOp(crdt.GlobalID{Counter: 2, SiteID: 1}, 'x', &after)

	w := FromInternal(op)
	data, err := MarshalServerMessage(CrdtEventsServerMessage([]Operation{w}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	decoded, err := UnmarshalServerMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.CrdtEvents == nil || len(decoded.CrdtEvents.Events) != 1 {
		t.Fatalf("expected one event, got %+v", decoded)
	}

	back, err := decoded.CrdtEvents.Events[0].ToInternal()
	if err != nil {
		t.Fatalf("ToInternal: %v", err)
	}
	if back.Kind != op.Kind || back.Gid != op.Gid || back.Char != op.Char ||
		back.AfterGid == nil || *back.AfterGid != *op.AfterGid {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, op)
	}
}

func TestDeleteOperationHasNoChar(t *testing.T) {
	op := crdt.DeleteOp(crdt.GlobalID{Counter: 5, SiteID: 2})
	w := FromInternal(op)
	if w.Char != nil {
		t.Fatalf("expected nil char on delete, got %v", *w.Char)
	}
	back, err := w.ToInternal()
	if err != nil {
		t.Fatalf("ToInternal: %v", err)
	}
	if back != op {
		t.Fatalf("round trip mismatch: %+v vs %+v", back, op)
	}
}

func TestUnknownOperationTypeRejected(t *testing.T) {
	w := Operation{Type: "move"}
	if _, err := w.ToInternal(); err == nil {
		t.Fatalf("expected error for unknown operation type")
	}
}

func TestServerMessageRejectsNoKey(t *testing.T) {
	if _, err := MarshalServerMessage(ServerMessage{}); err == nil {
		t.Fatalf("expected error for empty envelope")
	}
}

func TestServerMessageRejectsMultipleKeys(t *testing.T) {
	m := ServerMessage{
		Heartbit:   &Heartbit{},
		SetSiteID:  &SetSiteID{SiteID: 1},
	}
	if _, err := MarshalServerMessage(m); err == nil {
		t.Fatalf("expected error for multi-key envelope")
	}
}

func TestUnmarshalServerMessageRejectsAmbiguousPayload(t *testing.T) {
	data := []byte(`{"heartbit":{},"setSiteId":{"siteId":1}}`)
	if _, err := UnmarshalServerMessage(data); err == nil {
		t.Fatalf("expected error for ambiguous payload")
	}
}

func TestUnmarshalServerMessageRejectsEmptyPayload(t *testing.T) {
	data := []byte(`{}`)
	if _, err := UnmarshalServerMessage(data); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestClientMessageKindSinglePayload(t *testing.T) {
	m := CrdtEventsClientMessage(nil)
	kind, err := m.Kind()
	if err != nil {
		t.Fatalf("Kind: %v", err)
	}
	if kind != "crdtEvents" {
		t.Fatalf("expected crdtEvents, got %q", kind)
	}
}

func TestInsertOperationMissingCharRejected(t *testing.T) {
	w := Operation{Type: OpInsert}
	if _, err := w.ToInternal(); err == nil {
		t.Fatalf("expected error for insert without char")
	}
}

func TestInsertOperationMultiRuneCharRejected(t *testing.T) {
	s := "ab"
	w := Operation{Type: OpInsert, Char: &s}
	if _, err := w.ToInternal(); err == nil {
		t.Fatalf("expected error for multi-rune char")
	}
}
