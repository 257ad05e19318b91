package crdt

import "errors"

// ErrStateCorrupted is returned by ApplyRemote when an incoming Operation
// references a GlobalID that the Replica has never seen: a Delete of an
// unknown gid, or an Insert whose afterGid is unknown.
var ErrStateCorrupted = errors.New("crdt: state corrupted")

// ErrInvalidRange is returned by ApplyLocal when the requested [from, to)
// range is impossible against the replica's current visible text.
var ErrInvalidRange = errors.New("crdt: invalid range")
