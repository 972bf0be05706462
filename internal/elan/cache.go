package elan

import (
	"cmp"
	"hash/maphash"
	"maps"
	"net/netip"
	"slices"
	"sync"

	"github.com/sasha-s/go-deadlock"
)

// -------------------------------------------------------------------------
// ElectionCache: in-memory mirror of persisted elections
// -------------------------------------------------------------------------

// ElectionCache mirrors the persisted election records. Reads are
// lock-free with respect to each other; writers replace single entries.
type ElectionCache struct {
	mu      sync.RWMutex
	records map[TunnelDomain]SwitchID
}

// NewElectionCache creates an empty cache.
func NewElectionCache() *ElectionCache {
	return &ElectionCache{records: make(map[TunnelDomain]SwitchID)}
}

// Get returns the record for key.
func (c *ElectionCache) Get(key TunnelDomain) (SwitchID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sw, ok := c.records[key]
	return sw, ok
}

// Put stores a record, InvalidSwitch included.
func (c *ElectionCache) Put(key TunnelDomain, sw SwitchID) {
	c.mu.Lock()
	c.records[key] = sw
	c.mu.Unlock()
}

// Delete removes the record for key.
func (c *ElectionCache) Delete(key TunnelDomain) {
	c.mu.Lock()
	delete(c.records, key)
	c.mu.Unlock()
}

// Replace swaps the whole content, used when reloading from the store.
func (c *ElectionCache) Replace(records map[TunnelDomain]SwitchID) {
	fresh := maps.Clone(records)
	if fresh == nil {
		fresh = make(map[TunnelDomain]SwitchID)
	}
	c.mu.Lock()
	c.records = fresh
	c.mu.Unlock()
}

// Snapshot returns a copy of every record.
func (c *ElectionCache) Snapshot() map[TunnelDomain]SwitchID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.records)
}

// KeysFor returns, in stable order, the keys designated to sw.
func (c *ElectionCache) KeysFor(sw SwitchID) []TunnelDomain {
	return c.keysWhere(func(_ TunnelDomain, v SwitchID) bool { return v == sw })
}

// KeysForTunnel returns, in stable order, the keys on a tunnel endpoint.
func (c *ElectionCache) KeysForTunnel(tunnelIP netip.Addr) []TunnelDomain {
	return c.keysWhere(func(k TunnelDomain, _ SwitchID) bool { return k.TunnelIP == tunnelIP })
}

// KeysForDomain returns, in stable order, the keys of a domain.
func (c *ElectionCache) KeysForDomain(domain string) []TunnelDomain {
	return c.keysWhere(func(k TunnelDomain, _ SwitchID) bool { return k.Domain == domain })
}

// IsDesignee reports whether sw is designated for any key.
func (c *ElectionCache) IsDesignee(sw SwitchID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, v := range c.records {
		if v == sw {
			return true
		}
	}
	return false
}

// Assignments counts valid designations per switch.
func (c *ElectionCache) Assignments() map[SwitchID]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[SwitchID]int)
	for _, v := range c.records {
		if v.Valid() {
			out[v]++
		}
	}
	return out
}

// Len returns the number of records.
func (c *ElectionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

func (c *ElectionCache) keysWhere(pred func(TunnelDomain, SwitchID) bool) []TunnelDomain {
	c.mu.RLock()
	var out []TunnelDomain
	for k, v := range c.records {
		if pred(k, v) {
			out = append(out, k)
		}
	}
	c.mu.RUnlock()

	sortKeys(out)
	return out
}

// sortKeys orders keys by tunnel address, then domain.
func sortKeys(keys []TunnelDomain) {
	slices.SortFunc(keys, func(a, b TunnelDomain) int {
		if c := a.TunnelIP.Compare(b.TunnelIP); c != 0 {
			return c
		}
		return cmp.Compare(a.Domain, b.Domain)
	})
}

// -------------------------------------------------------------------------
// MembershipCache: (tunnel, domain) -> member MACs
// -------------------------------------------------------------------------

// MembershipCache tracks the member MACs reachable through each
// hardware-gateway tunnel of a domain. It lets flows be rebuilt after a
// re-election without asking the directory. Compound updates must hold
// the key's KeyedLocker entry.
type MembershipCache struct {
	mu      sync.RWMutex
	members map[TunnelDomain]map[MAC]struct{}
}

// NewMembershipCache creates an empty cache.
func NewMembershipCache() *MembershipCache {
	return &MembershipCache{members: make(map[TunnelDomain]map[MAC]struct{})}
}

// Ensure creates an empty member set for key if none exists.
func (c *MembershipCache) Ensure(key TunnelDomain) {
	c.mu.Lock()
	if _, ok := c.members[key]; !ok {
		c.members[key] = make(map[MAC]struct{})
	}
	c.mu.Unlock()
}

// Add inserts mac and reports whether it was new.
func (c *MembershipCache) Add(key TunnelDomain, mac MAC) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.members[key]
	if !ok {
		set = make(map[MAC]struct{})
		c.members[key] = set
	}
	if _, dup := set[mac]; dup {
		return false
	}
	set[mac] = struct{}{}
	return true
}

// Remove deletes mac and returns the number of members left. The key
// itself stays until DeleteKey.
func (c *MembershipCache) Remove(key TunnelDomain, mac MAC) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.members[key]
	if !ok {
		return 0
	}
	delete(set, mac)
	return len(set)
}

// DeleteKey drops the member set of key.
func (c *MembershipCache) DeleteKey(key TunnelDomain) {
	c.mu.Lock()
	delete(c.members, key)
	c.mu.Unlock()
}

// Members returns the members of key in address order.
func (c *MembershipCache) Members(key TunnelDomain) []MAC {
	c.mu.RLock()
	out := slices.Collect(maps.Keys(c.members[key]))
	c.mu.RUnlock()

	slices.SortFunc(out, func(a, b MAC) int { return slices.Compare(a[:], b[:]) })
	return out
}

// Keys returns every key with a member set, in stable order.
func (c *MembershipCache) Keys() []TunnelDomain {
	c.mu.RLock()
	out := slices.Collect(maps.Keys(c.members))
	c.mu.RUnlock()

	sortKeys(out)
	return out
}

// Replace swaps the whole content, used when reloading from the store.
func (c *MembershipCache) Replace(bindings map[TunnelDomain][]MAC) {
	fresh := make(map[TunnelDomain]map[MAC]struct{}, len(bindings))
	for k, macs := range bindings {
		set := make(map[MAC]struct{}, len(macs))
		for _, m := range macs {
			set[m] = struct{}{}
		}
		fresh[k] = set
	}
	c.mu.Lock()
	c.members = fresh
	c.mu.Unlock()
}

// -------------------------------------------------------------------------
// KeyedLocker: sharded per-key locks
// -------------------------------------------------------------------------

// lockShards is the number of lock stripes. Distinct keys may share a
// stripe; a stripe is never held across another stripe's acquisition.
const lockShards = 64

// KeyedLocker serializes read-modify-write sequences on the caches by
// TunnelDomain. Locks are striped by key hash. The mutexes report
// lock-order inversions and long waits through go-deadlock.
type KeyedLocker struct {
	seed   maphash.Seed
	shards [lockShards]deadlock.Mutex
}

// NewKeyedLocker creates a lock table.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{seed: maphash.MakeSeed()}
}

// Lock acquires the stripe of key and returns its unlock function.
func (l *KeyedLocker) Lock(key TunnelDomain) (unlock func()) {
	m := &l.shards[l.shard(key)]
	m.Lock()
	return m.Unlock
}

func (l *KeyedLocker) shard(key TunnelDomain) uint64 {
	return maphash.Comparable(l.seed, key) % lockShards
}
