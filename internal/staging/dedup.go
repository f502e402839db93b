package staging

// Deduplicator remembers the SOP Instance UIDs materialized during one run.
// It is not safe for concurrent use; a run stages sequentially.
type Deduplicator struct {
	seen map[string]struct{}
}

// NewDeduplicator returns an empty deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// ShouldWrite reports whether uid is seen for the first time, and marks it.
func (d *Deduplicator) ShouldWrite(uid string) bool {
	if _, ok := d.seen[uid]; ok {
		return false
	}
	d.seen[uid] = struct{}{}
	return true
}

// Len is the number of distinct UIDs seen.
func (d *Deduplicator) Len() int {
	return len(d.seen)
}
