// Package routing implements the RL-driven routing table: for each
// destination IP, a value estimate per candidate neighbor, and the softmax
// policy derived from it.
package routing

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/dugdmitry/adhoc-routing/metrics"
	"github.com/dugdmitry/adhoc-routing/neighbor"
	"github.com/dugdmitry/adhoc-routing/rlagent"
)

// entry is a pure value record; it never exposes its underlying mapping
// structure directly — the routing table exposes only
// BestAction/Update/AddRoute/HasRoute/Snapshot.
type entry struct {
	// mac string -> value estimate
	values map[string]float64
	// mac string -> neighbor's IP, filled in by Update from the neighbor
	// table the first time (dst, mac) is updated; AddRoute leaves it alone
	// and nothing reads it back.
	ips map[string]net.IP
}

// Table maps destination IP -> per-neighbor value estimates. It is the
// single owner of this state; it is constructed once and passed by
// reference into every worker that needs it; there is no process-wide
// singleton.
type Table struct {
	mu    sync.RWMutex
	rng   *rand.Rand
	rngMu sync.Mutex

	alpha float64
	tau   float64
	vinit float64

	neighbors *neighbor.Table
	entries   map[string]*entry // dst ip string -> entry
}

// NewTable builds an empty routing table bound to the given neighbor table
// (used to restrict action selection and invariant-check entries to
// currently live neighbors) and learning-rule constants.
func NewTable(neighbors *neighbor.Table, alpha, tau, vinit float64) *Table {
	t := &Table{
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		alpha:     alpha,
		tau:       tau,
		vinit:     vinit,
		neighbors: neighbors,
		entries:   make(map[string]*entry),
	}
	neighbors.OnExpire(t.dropNeighbor)
	return t
}

func ipKey(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.To16().String()
}

// dropNeighbor removes a departed neighbor from every destination entry
// that referenced it, so the policy renormalizes over the remaining live
// neighbors.
func (t *Table) dropNeighbor(mac net.HardwareAddr) {
	key := mac.String()
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		delete(e.values, key)
		delete(e.ips, key)
	}
}

// BestAction samples a neighbor from the softmax distribution over dst's
// value estimates, restricted to currently-alive neighbors. It returns
// (nil, false) if the entry is empty or every referenced neighbor has
// expired.
func (t *Table) BestAction(dst net.IP) (net.HardwareAddr, bool) {
	key := ipKey(dst)

	t.mu.RLock()
	e, ok := t.entries[key]
	var values map[string]float64
	if ok {
		values = make(map[string]float64, len(e.values))
		for mac, v := range e.values {
			if t.neighbors.IsAlive(macFromString(mac)) {
				values[mac] = v
			}
		}
	}
	t.mu.RUnlock()

	if !ok || len(values) == 0 {
		return nil, false
	}

	probs := rlagent.Softmax(values, t.tau)
	t.rngMu.Lock()
	r := t.rng.Float64()
	t.rngMu.Unlock()

	chosen, ok := rlagent.Select(probs, r)
	if !ok {
		return nil, false
	}
	return macFromString(chosen), true
}

// Update applies the incremental-mean rule v <- v + alpha*(reward - v),
// initializing v = V_INIT if (dst, mac) was not previously present.
func (t *Table) Update(dst net.IP, mac net.HardwareAddr, reward float64) {
	key := ipKey(dst)
	macKey := mac.String()

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{values: make(map[string]float64), ips: make(map[string]net.IP)}
		t.entries[key] = e
	}
	current, ok := e.values[macKey]
	if !ok {
		current = t.vinit
	}
	e.values[macKey] = rlagent.UpdateValue(current, reward, t.alpha)
	if _, ok := e.ips[macKey]; !ok {
		if n, ok := t.neighbors.Get(mac); ok {
			if n.IPv4 != nil {
				e.ips[macKey] = n.IPv4
			} else {
				e.ips[macKey] = n.IPv6
			}
		}
	}
	metrics.RouteEntryCount.Update(int64(len(t.entries)))
}

// AddRoute ensures an entry exists for (dst, mac), initializing v = V_INIT
// if absent. Called when an RREP is heard or a direct neighbor advertises
// dst.
func (t *Table) AddRoute(dst net.IP, mac net.HardwareAddr) {
	key := ipKey(dst)
	macKey := mac.String()

	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		e = &entry{values: make(map[string]float64), ips: make(map[string]net.IP)}
		t.entries[key] = e
	}
	if _, ok := e.values[macKey]; !ok {
		e.values[macKey] = t.vinit
	}
	metrics.RouteEntryCount.Update(int64(len(t.entries)))
}

// HasRoute reports whether any entry (alive or not) exists for dst; used by
// the data handler to decide between "forward directly" and "invoke path
// discovery".
func (t *Table) HasRoute(dst net.IP) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[ipKey(dst)]
	return ok
}

// DestEntry is one row of Snapshot's atomic read view.
type DestEntry struct {
	Dst    net.IP
	Values map[string]float64 // mac string -> value
}

// Snapshot returns an atomic, independent copy of the whole table for
// inspection (e.g. the local IPC "dump routing table" command).
func (t *Table) Snapshot() []DestEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]DestEntry, 0, len(t.entries))
	for key, e := range t.entries {
		values := make(map[string]float64, len(e.values))
		for k, v := range e.values {
			values[k] = v
		}
		out = append(out, DestEntry{Dst: net.ParseIP(key), Values: values})
	}
	return out
}

func macFromString(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil
	}
	return mac
}
