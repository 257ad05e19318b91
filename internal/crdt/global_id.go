package crdt

// UtilSiteID is reserved for server-synthesized operations (e.g. rebuilding
// a Replica from a plain string during compaction or restore) and is never
// assigned to a connected participant; real sites start at 1.
const UtilSiteID int64 = 0

// GlobalID is the total-ordered identifier for one character: a pair
// (Counter, SiteID), compared lexicographically.
type GlobalID struct {
	Counter int64
	SiteID  int64
}

// Less reports whether g sorts strictly before other.
func (g GlobalID) Less(other GlobalID) bool {
	if g.Counter != other.Counter {
		return g.Counter < other.Counter
	}
	return g.SiteID < other.SiteID
}

// Greater reports whether g sorts strictly after other.
func (g GlobalID) Greater(other GlobalID) bool {
	return other.Less(g)
}
