// Package roomlog implements the append-only per-room operation log: dense
// offset-indexed storage plus the byte/count bookkeeping the Hub consults
// to decide when to compact.
package roomlog

import (
	json "github.com/goccy/go-json"

	"github.com/marnikitta/livecoding/internal/crdt"
	"github.com/marnikitta/livecoding/internal/wire"
)

// Log does no locking of its own: it trusts its caller (the Room mailbox
// goroutine, §5) to be the only thing ever touching it.
type Log struct {
	ops   []crdt.Operation
	bytes int
}

// New returns an empty Log.
func New() *Log {
	return &Log{}
}

// Append records op at the next offset and returns that offset. The log's
// byte total is updated incrementally from the operation's wire-encoded
// size rather than re-marshaling the whole log.
func (l *Log) Append(op crdt.Operation) (int, error) {
	size, err := operationSize(op)
	if err != nil {
		return 0, err
	}
	offset := len(l.ops)
	l.ops = append(l.ops, op)
	l.bytes += size
	return offset, nil
}

// AppendBatch appends every op in order, returning the offset of the first
// one appended.
func (l *Log) AppendBatch(ops []crdt.Operation) (int, error) {
	first := len(l.ops)
	for _, op := range ops {
		if _, err := l.Append(op); err != nil {
			return 0, err
		}
	}
	return first, nil
}

// Since returns every operation at or after offset. An offset beyond the
// end of the log yields an empty (not nil) slice, matching the original's
// "replay from an offset that hasn't happened yet" behavior at connect time.
func (l *Log) Since(offset int) []crdt.Operation {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(l.ops) {
		return []crdt.Operation{}
	}
	out := make([]crdt.Operation, len(l.ops)-offset)
	copy(out, l.ops[offset:])
	return out
}

// Len returns the number of operations currently in the log.
func (l *Log) Len() int {
	return len(l.ops)
}

// Bytes returns the incrementally tracked serialized size of the log, used
// against the configured byte-size compaction threshold.
func (l *Log) Bytes() int {
	return l.bytes
}

// Replace swaps the log's contents for ops wholesale, recomputing the byte
// total from scratch. Used by compaction to install the minimal operation
// set computed from the replayed Replica.
func (l *Log) Replace(ops []crdt.Operation) error {
	total := 0
	for _, op := range ops {
		size, err := operationSize(op)
		if err != nil {
			return err
		}
		total += size
	}
	l.ops = ops
	l.bytes = total
	return nil
}

// All returns every operation in the log, in append order.
func (l *Log) All() []crdt.Operation {
	return l.Since(0)
}

func operationSize(op crdt.Operation) (int, error) {
	data, err := json.Marshal(wire.FromInternal(op))
	if err != nil {
		return 0, err
	}
	return len(data), nil
}
