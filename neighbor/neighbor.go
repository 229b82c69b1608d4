// Package neighbor maintains the live set of one-hop peers: HELLO beacons in,
// a time-bounded membership table out.
package neighbor

import (
	"net"
	"sync"
	"time"

	"github.com/MOACChain/MoacLib/log"
	gocache "github.com/patrickmn/go-cache"

	"github.com/dugdmitry/adhoc-routing/metrics"
)

// Neighbor is a read snapshot of one peer; other components only ever see
// copies of this, never the table's internal entry.
type Neighbor struct {
	MAC      net.HardwareAddr
	IPv4     net.IP
	IPv6     net.IP
	LastSeen time.Time
}

// Table owns the neighbor set exclusively; it is the single writer, owned
// by the neighbor-discovery component.
type Table struct {
	ttl   time.Duration
	cache *gocache.Cache

	mu       sync.RWMutex
	onExpire func(mac net.HardwareAddr)
}

// NewTable builds a neighbor table with the given liveness TTL. go-cache's
// own janitor performs the background sweep; OnEvicted
// lets the owning daemon cascade a neighbor's departure into routing-table
// cleanup without Table having to know about routing at all.
func NewTable(ttl time.Duration) *Table {
	t := &Table{
		ttl:   ttl,
		cache: gocache.New(ttl, ttl/2),
	}
	t.cache.OnEvicted(func(key string, item interface{}) {
		n := item.(Neighbor)
		t.mu.RLock()
		cb := t.onExpire
		t.mu.RUnlock()
		if cb != nil {
			cb(n.MAC)
		}
		log.Debugf("neighbor: expired mac=%s", n.MAC)
	})
	return t
}

// OnExpire registers a callback invoked (from the cache's janitor goroutine)
// whenever a neighbor's TTL lapses. Only one callback is supported; the
// daemon wires the routing table's cleanup here at construction time.
func (t *Table) OnExpire(cb func(mac net.HardwareAddr)) {
	t.mu.Lock()
	t.onExpire = cb
	t.mu.Unlock()
}

// Upsert records a HELLO observation: a neighbor is created on first sight
// and refreshed (last-seen reset, advertised IPs replaced) on every
// subsequent one.
func (t *Table) Upsert(mac net.HardwareAddr, ipv4, ipv6 net.IP) {
	key := mac.String()
	n := Neighbor{MAC: append(net.HardwareAddr(nil), mac...), LastSeen: time.Now()}
	if existing, ok := t.cache.Get(key); ok {
		old := existing.(Neighbor)
		n.IPv4, n.IPv6 = old.IPv4, old.IPv6
	}
	if ipv4 != nil {
		n.IPv4 = append(net.IP(nil), ipv4...)
	}
	if ipv6 != nil {
		n.IPv6 = append(net.IP(nil), ipv6...)
	}
	t.cache.Set(key, n, t.ttl)
	metrics.NeighborCount.Update(int64(t.cache.ItemCount()))
}

// IsAlive reports whether mac is currently a live neighbor: alive iff
// now - last_seen <= NEIGHBOR_TTL.
func (t *Table) IsAlive(mac net.HardwareAddr) bool {
	_, ok := t.cache.Get(mac.String())
	return ok
}

// Get returns the current snapshot for mac, if it is live.
func (t *Table) Get(mac net.HardwareAddr) (Neighbor, bool) {
	v, ok := t.cache.Get(mac.String())
	if !ok {
		return Neighbor{}, false
	}
	return v.(Neighbor), true
}

// Neighbors returns a snapshot of every currently live neighbor.
func (t *Table) Neighbors() []Neighbor {
	items := t.cache.Items()
	out := make([]Neighbor, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(Neighbor))
	}
	return out
}

// FindByIP returns the neighbor advertising ip as one of its bound
// addresses, used when a directly-bound neighbor announces a destination.
func (t *Table) FindByIP(ip net.IP) (Neighbor, bool) {
	for _, n := range t.Neighbors() {
		if n.IPv4 != nil && n.IPv4.Equal(ip) {
			return n, true
		}
		if n.IPv6 != nil && n.IPv6.Equal(ip) {
			return n, true
		}
	}
	return Neighbor{}, false
}
