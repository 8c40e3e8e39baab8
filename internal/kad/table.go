package kad

import (
	"sort"
	"sync"
	"time"
)

// RoutingTable holds IDBits buckets. Bucket i covers XOR distances to the
// local ID in [2^i, 2^(i+1)):
//   - Bucket 0:   distance 1            (closest)
//   - Bucket 159: distance [2^159, 2^160) (furthest)
//
// Buckets never split; a full bucket refuses newcomers until the caller
// removes something.
type RoutingTable struct {
	local   NodeID
	k       int
	buckets [IDBits]*Bucket
	mu      sync.RWMutex
}

func NewRoutingTable(local NodeID, k int) *RoutingTable {
	if k <= 0 {
		k = DefaultK
	}
	rt := &RoutingTable{
		local: local,
		k:     k,
	}
	for i := range rt.buckets {
		rt.buckets[i] = NewBucket(k)
	}
	return rt
}

func (rt *RoutingTable) Local() NodeID {
	return rt.local
}

func (rt *RoutingTable) K() int {
	return rt.k
}

// setClock replaces the time source of every bucket.
func (rt *RoutingTable) setClock(now func() time.Time) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, b := range rt.buckets {
		b.now = now
	}
}

// BucketIndex returns the bucket that target belongs in, or -1 when target
// is the local ID, which has no bucket.
func (rt *RoutingTable) BucketIndex(target NodeID) int {
	n := rt.local.Distance(target).BitLen()
	if n == 0 {
		return -1
	}
	return min(n-1, IDBits-1)
}

// Add routes id to its bucket. It returns false for the local ID and when
// the bucket is full.
func (rt *RoutingTable) Add(id NodeID, addr Address) bool {
	i := rt.BucketIndex(id)
	if i == -1 {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.buckets[i].Add(id, addr)
}

func (rt *RoutingTable) Remove(id NodeID) bool {
	i := rt.BucketIndex(id)
	if i == -1 {
		return false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.buckets[i].Remove(id)
}

// MarkFailed increments the failure count of a known entry and returns the
// new count. The entry keeps its position.
func (rt *RoutingTable) MarkFailed(id NodeID) (int, bool) {
	i := rt.BucketIndex(id)
	if i == -1 {
		return 0, false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.buckets[i].markFailed(id)
}

func (rt *RoutingTable) Get(id NodeID) (Entry, bool) {
	i := rt.BucketIndex(id)
	if i == -1 {
		return Entry{}, false
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.buckets[i].Get(id)
}

func (rt *RoutingTable) Contains(id NodeID) bool {
	_, ok := rt.Get(id)
	return ok
}

// Closest returns up to k entries ordered by XOR distance to target. Equal
// distances keep the order in which the buckets were walked.
func (rt *RoutingTable) Closest(target NodeID, k int) []Entry {
	if k <= 0 {
		return []Entry{}
	}
	all := rt.Entries()
	SortByDistance(all, target)
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// Entries returns every entry, walking buckets from 0 to 159.
func (rt *RoutingTable) Entries() []Entry {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	all := make([]Entry, 0, rt.size())
	for _, b := range rt.buckets {
		all = append(all, b.entries...)
	}
	return all
}

// BucketEntries returns a copy of bucket i, or nil for an index outside [0, 159].
func (rt *RoutingTable) BucketEntries(i int) []Entry {
	if i < 0 || i >= IDBits {
		return nil
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.buckets[i].List()
}

// Oldest returns the least recently seen entry of bucket i.
func (rt *RoutingTable) Oldest(i int) (Entry, bool) {
	if i < 0 || i >= IDBits {
		return Entry{}, false
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.buckets[i].Oldest()
}

func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.size()
}

func (rt *RoutingTable) size() int {
	total := 0
	for _, b := range rt.buckets {
		total += b.Len()
	}
	return total
}

// Census maps bucket index to entry count for non-empty buckets.
func (rt *RoutingTable) Census() map[int]int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	census := make(map[int]int)
	for i, b := range rt.buckets {
		if n := b.Len(); n > 0 {
			census[i] = n
		}
	}
	return census
}

// SortByDistance orders entries by XOR distance to target, in place and stable.
func SortByDistance(entries []Entry, target NodeID) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ID.Distance(target).Less(entries[j].ID.Distance(target))
	})
}
