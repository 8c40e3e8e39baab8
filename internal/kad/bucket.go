package kad

import "time"

// DefaultK is the default bucket capacity.
const DefaultK = 8

// Bucket is an ordered, capacity-bounded list of entries. The tail holds the
// most recently touched entry. A Bucket does no locking of its own; the
// RoutingTable that owns it serialises access.
type Bucket struct {
	k       int
	entries []Entry
	now     func() time.Time
}

func NewBucket(k int) *Bucket {
	if k <= 0 {
		k = DefaultK
	}
	return &Bucket{
		k:       k,
		entries: make([]Entry, 0, k),
		now:     time.Now,
	}
}

func (b *Bucket) indexOf(id NodeID) int {
	for i := range b.entries {
		if b.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (b *Bucket) Contains(id NodeID) bool {
	return b.indexOf(id) != -1
}

func (b *Bucket) Get(id NodeID) (Entry, bool) {
	i := b.indexOf(id)
	if i == -1 {
		return Entry{}, false
	}
	return b.entries[i], true
}

// Add records id at addr.
//
//   - Known id: the address is replaced, LastSeen reset to now, FailedCount
//     cleared and the entry moved to the tail.
//   - Unknown id with room: appended at the tail.
//   - Unknown id, bucket full: nothing changes and Add returns false.
//
// Nothing is ever evicted to make room.
func (b *Bucket) Add(id NodeID, addr Address) bool {
	now := b.now()
	if i := b.indexOf(id); i != -1 {
		e := b.entries[i]
		e.Addr = addr
		e.LastSeen = now
		e.FailedCount = 0
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		b.entries = append(b.entries, e)
		return true
	}
	if len(b.entries) >= b.k {
		return false
	}
	b.entries = append(b.entries, Entry{
		ID:       id,
		Addr:     addr,
		LastSeen: now,
	})
	return true
}

func (b *Bucket) Remove(id NodeID) bool {
	i := b.indexOf(id)
	if i == -1 {
		return false
	}
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	return true
}

// markFailed bumps the failure counter in place; position is unchanged.
func (b *Bucket) markFailed(id NodeID) (int, bool) {
	i := b.indexOf(id)
	if i == -1 {
		return 0, false
	}
	b.entries[i].FailedCount++
	return b.entries[i].FailedCount, true
}

// List returns a copy of the entries in recency order, oldest touch first.
func (b *Bucket) List() []Entry {
	snapshot := make([]Entry, len(b.entries))
	copy(snapshot, b.entries)
	return snapshot
}

// Oldest returns the entry with the earliest LastSeen. On ties the first in
// list order wins.
func (b *Bucket) Oldest() (Entry, bool) {
	if len(b.entries) == 0 {
		return Entry{}, false
	}
	oldest := b.entries[0]
	for _, e := range b.entries[1:] {
		if e.LastSeen.Before(oldest.LastSeen) {
			oldest = e
		}
	}
	return oldest, true
}

func (b *Bucket) Len() int {
	return len(b.entries)
}

func (b *Bucket) Cap() int {
	return b.k
}

func (b *Bucket) Full() bool {
	return len(b.entries) >= b.k
}
