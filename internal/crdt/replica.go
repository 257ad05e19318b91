package crdt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// charEntry is one element of a replica's backing sequence. Entries form a
// singly linked list rather than a slice because insertion is addressed by
// the identity of a neighboring entry (afterGid), which a slice would force
// into an O(n) shift per insert.
type charEntry struct {
	gid     GlobalID
	char    rune
	visible bool
	next    *charEntry
}

// posCache memoizes the number of visible entries strictly before "entry",
// anchored at the most recently touched entry. It is always safe to use as
// a forward-scan starting point: countVisibleUntil only trusts the stored
// "before" count for the anchor itself, and re-derives every count past it
// from live visibility flags. If a lookup target isn't reachable scanning
// forward from the anchor, the cache is dropped and the scan restarts from
// the head.
type posCache struct {
	entry  *charEntry
	before int
}

// Replica is a replicated growable array of characters. The zero value is
// not usable; construct with NewReplica.
type Replica struct {
	head       *charEntry
	byGid      map[GlobalID]*charEntry
	applied    map[appliedKey]struct{}
	maxCounter int64
	cache      *posCache
}

// NewReplica returns an empty Replica.
func NewReplica() *Replica {
	return &Replica{
		byGid:   make(map[GlobalID]*charEntry),
		applied: make(map[appliedKey]struct{}),
	}
}

// ReplicaFromText builds a Replica whose visible text equals text, stamping
// every character as an Insert from UtilSiteID chained in order, with
// counters starting at 0.
func ReplicaFromText(text string) *Replica {
	r := NewReplica()
	var prev *GlobalID
	counter := int64(0)
	for _, c := range text {
		gid := GlobalID{Counter: counter, SiteID: UtilSiteID}
		// ApplyRemote never fails on a freshly built, internally consistent
		// chain of inserts.
		if _, err := r.ApplyRemote([]Operation{InsertOp(gid, c, prev)}); err != nil {
			panic(fmt.Sprintf("crdt: ReplicaFromText: %v", err))
		}
		prev = &gid
		counter++
	}
	return r
}

// MaxCounter returns the highest counter this replica has observed, across
// every site. ApplyLocal stamps each new character with maxCounter+1.
func (r *Replica) MaxCounter() int64 {
	return r.maxCounter
}

// Text returns the concatenation of every visible entry's character, in
// sequence order.
func (r *Replica) Text() string {
	var b strings.Builder
	for e := r.head; e != nil; e = e.next {
		if e.visible {
			b.WriteRune(e.char)
		}
	}
	return b.String()
}

func (r *Replica) visibleLen() int {
	return r.countVisibleUntil(nil)
}

// scanForward walks the list from "from" (which has fromBefore visible
// entries strictly before it) counting visible entries until it reaches
// target. A nil target means "count everything" (used to compute the total
// visible length), which always succeeds.
func scanForward(from *charEntry, fromBefore int, target *charEntry) (before int, ok bool) {
	count := fromBefore
	for cur := from; cur != nil; cur = cur.next {
		if cur == target {
			return count, true
		}
		if cur.visible {
			count++
		}
	}
	if target == nil {
		return count, true
	}
	return 0, false
}

// countVisibleUntil returns the number of visible entries strictly before
// target (or the total visible length, when target is nil).
func (r *Replica) countVisibleUntil(target *charEntry) int {
	if r.cache != nil {
		if before, ok := scanForward(r.cache.entry, r.cache.before, target); ok {
			return before
		}
		r.cache = nil
	}
	before, _ := scanForward(r.head, 0, target)
	return before
}

// visibleEntryAt returns the offset-th (0-indexed) visible entry, or nil if
// offset is out of range.
func (r *Replica) visibleEntryAt(offset int) *charEntry {
	seen := 0
	for e := r.head; e != nil; e = e.next {
		if !e.visible {
			continue
		}
		if seen == offset {
			return e
		}
		seen++
	}
	return nil
}

func nextVisible(e *charEntry) *charEntry {
	for e != nil && !e.visible {
		e = e.next
	}
	return e
}

// ApplyRemote integrates a batch of foreign Operations, in order, returning
// the positional text changes a local view must apply. Operations already
// present in the applied set are ignored. A Delete of an unknown gid, or an
// Insert whose afterGid is unknown, fails with ErrStateCorrupted and
// returns no updates; operations earlier in the batch than the failing one
// stay applied.
func (r *Replica) ApplyRemote(events []Operation) ([]PlainUpdate, error) {
	var updates []PlainUpdate
	for _, ev := range events {
		var update *PlainUpdate
		var err error
		switch ev.Kind {
		case Insert:
			update, err = r.integrateInsert(ev)
		case Delete:
			update, err = r.integrateDelete(ev)
		default:
			err = fmt.Errorf("crdt: unknown operation kind %d", ev.Kind)
		}
		if err != nil {
			return nil, err
		}
		if update != nil {
			updates = append(updates, *update)
		}
	}
	return compactUpdates(updates), nil
}

func (r *Replica) integrateInsert(ev Operation) (*PlainUpdate, error) {
	key := appliedKeyFor(ev)
	if _, ok := r.applied[key]; ok {
		return nil, nil
	}

	var prev *charEntry
	if ev.AfterGid != nil {
		var ok bool
		prev, ok = r.byGid[*ev.AfterGid]
		if !ok {
			return nil, fmt.Errorf("%w: insert %+v references unknown afterGid %+v", ErrStateCorrupted, ev.Gid, *ev.AfterGid)
		}
	}

	var next *charEntry
	if prev != nil {
		next = prev.next
	} else {
		next = r.head
	}
	// RGA tie-break: among concurrent inserts sharing the same afterGid,
	// higher GlobalIds sort earlier.
	for next != nil && next.gid.Greater(ev.Gid) {
		prev = next
		next = next.next
	}

	entry := &charEntry{gid: ev.Gid, char: ev.Char, visible: true, next: next}
	if prev == nil {
		r.head = entry
	} else {
		prev.next = entry
	}

	r.byGid[ev.Gid] = entry
	r.applied[key] = struct{}{}
	if ev.Gid.Counter > r.maxCounter {
		r.maxCounter = ev.Gid.Counter
	}

	before := r.countVisibleUntil(entry)
	r.cache = &posCache{entry: entry, before: before}

	return &PlainUpdate{From: before, To: before, Value: string(ev.Char)}, nil
}

func (r *Replica) integrateDelete(ev Operation) (*PlainUpdate, error) {
	key := appliedKeyFor(ev)
	if _, ok := r.applied[key]; ok {
		return nil, nil
	}

	entry, ok := r.byGid[ev.Gid]
	if !ok {
		return nil, fmt.Errorf("%w: delete references unknown gid %+v", ErrStateCorrupted, ev.Gid)
	}

	r.applied[key] = struct{}{}
	if !entry.visible {
		return nil, nil
	}

	before := r.countVisibleUntil(entry)
	entry.visible = false
	r.cache = &posCache{entry: entry, before: before}

	return &PlainUpdate{From: before, To: before + 1, Value: ""}, nil
}

// compactUpdates merges consecutive plain updates that are textually
// adjacent: the second starts exactly where the first's replacement text
// ended.
func compactUpdates(updates []PlainUpdate) []PlainUpdate {
	if len(updates) == 0 {
		return updates
	}
	out := make([]PlainUpdate, 0, len(updates))
	out = append(out, updates[0])
	for _, u := range updates[1:] {
		last := &out[len(out)-1]
		if u.From == last.From+utf8.RuneCountInString(last.Value) {
			last.To += u.To - u.From
			last.Value += u.Value
		} else {
			out = append(out, u)
		}
	}
	return out
}

// ApplyLocal translates a positional edit (delete the visible substring
// [from, to), insert value at from) into Operations stamped for siteID,
// applies them locally, and returns the Operations so the caller can send
// them to the server. Fails with ErrInvalidRange if from > to or the range
// exceeds the visible length.
func (r *Replica) ApplyLocal(from, to int, value string, siteID int64) ([]Operation, error) {
	visLen := r.visibleLen()
	if from < 0 || from > to || to > visLen {
		return nil, fmt.Errorf("%w: from=%d to=%d visibleLen=%d", ErrInvalidRange, from, to, visLen)
	}

	var ops []Operation

	var left *charEntry
	if from > 0 {
		left = r.visibleEntryAt(from - 1)
	}

	cur := r.visibleEntryAt(from)
	for i := 0; i < to-from; i++ {
		op := DeleteOp(cur.gid)
		ops = append(ops, op)
		if _, err := r.integrateDelete(op); err != nil {
			return nil, err
		}
		cur = nextVisible(cur.next)
	}

	var afterGid *GlobalID
	if left != nil {
		gid := left.gid
		afterGid = &gid
	}

	for _, c := range value {
		r.maxCounter++
		gid := GlobalID{Counter: r.maxCounter, SiteID: siteID}
		op := InsertOp(gid, c, afterGid)
		ops = append(ops, op)
		if _, err := r.integrateInsert(op); err != nil {
			return nil, err
		}
		afterGid = &gid
	}

	return ops, nil
}
