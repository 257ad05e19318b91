// Package wire defines the JSON envelope shared by every client-server
// message and the conversions between wire payloads and internal types.
package wire

import (
	"fmt"

	"github.com/marnikitta/livecoding/internal/crdt"
)

// OpType is the wire discriminant for Operation.Type.
type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
)

// GlobalID is the wire shape of crdt.GlobalID.
type GlobalID struct {
	Counter int64 `json:"counter"`
	SiteID  int64 `json:"siteId"`
}

func globalIDToWire(g crdt.GlobalID) GlobalID {
	return GlobalID{Counter: g.Counter, SiteID: g.SiteID}
}

func (g GlobalID) toInternal() crdt.GlobalID {
	return crdt.GlobalID{Counter: g.Counter, SiteID: g.SiteID}
}

// Operation is the wire shape of crdt.Operation: {type, gid, char, afterGid}.
// Char is a string rather than a rune so a Delete (which carries none) can
// omit it; at decode time it is validated to hold exactly one rune when
// present.
type Operation struct {
	Type     OpType    `json:"type"`
	Gid      GlobalID  `json:"gid"`
	Char     *string   `json:"char,omitempty"`
	AfterGid *GlobalID `json:"afterGid,omitempty"`
}

// FromInternal converts a crdt.Operation to its wire shape.
func FromInternal(op crdt.Operation) Operation {
	w := Operation{Gid: globalIDToWire(op.Gid)}
	switch op.Kind {
	case crdt.Insert:
		w.Type = OpInsert
		c := string(op.Char)
		w.Char = &c
		if op.AfterGid != nil {
			g := globalIDToWire(*op.AfterGid)
			w.AfterGid = &g
		}
	case crdt.Delete:
		w.Type = OpDelete
	}
	return w
}

// ToInternal converts a wire Operation back to crdt.Operation, rejecting
// any type other than the two the codec knows about and any Insert whose
// char isn't exactly one rune.
func (w Operation) ToInternal() (crdt.Operation, error) {
	switch w.Type {
	case OpInsert:
		if w.Char == nil {
			return crdt.Operation{}, fmt.Errorf("wire: insert operation missing char")
		}
		runes := []rune(*w.Char)
		if len(runes) != 1 {
			return crdt.Operation{}, fmt.Errorf("wire: insert char must be exactly one rune, got %q", *w.Char)
		}
		var afterGid *crdt.GlobalID
		if w.AfterGid != nil {
			g := w.AfterGid.toInternal()
			afterGid = &g
		}
		return crdt.InsertOp(w.Gid.toInternal(), runes[0], afterGid), nil
	case OpDelete:
		return crdt.DeleteOp(w.Gid.toInternal()), nil
	default:
		return crdt.Operation{}, fmt.Errorf("wire: unknown operation type %q", w.Type)
	}
}

// FromInternalBatch converts a slice of crdt.Operation to their wire shapes.
func FromInternalBatch(ops []crdt.Operation) []Operation {
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = FromInternal(op)
	}
	return out
}

// ToInternalBatch converts a slice of wire Operations, failing on the first
// invalid one.
func ToInternalBatch(ops []Operation) ([]crdt.Operation, error) {
	out := make([]crdt.Operation, len(ops))
	for i, op := range ops {
		internal, err := op.ToInternal()
		if err != nil {
			return nil, err
		}
		out[i] = internal
	}
	return out, nil
}
