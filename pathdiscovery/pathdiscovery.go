// Package pathdiscovery implements reactive route discovery: RREQ flooding
// with de-duplication, RREP unicast replies along the reverse path, and
// buffering of datagrams that arrive before a route does.
package pathdiscovery

import (
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/MOACChain/MoacLib/log"

	"github.com/dugdmitry/adhoc-routing/codec"
	"github.com/dugdmitry/adhoc-routing/metrics"
	"github.com/dugdmitry/adhoc-routing/routing"
	"github.com/dugdmitry/adhoc-routing/seq"
	"github.com/dugdmitry/adhoc-routing/transport"
)

// seenSetSize bounds the de-duplication set; entries beyond this many
// live (originator, rreq_id) pairs evict least-recently-used.
const seenSetSize = 4096

// PendingRoute tracks a destination currently under RREQ: the buffered
// outbound datagrams, the RREQ id issued, and the deadline after which
// they're dropped.
type PendingRoute struct {
	Dst      net.IP
	Queue    [][]byte
	RREQID   uint32
	Issued   time.Time
	Deadline time.Time
}

// Manager owns PendingRoute state and the RREQ dedup set. It never holds a
// reference to the data handler; instead the daemon wires onResolved at
// construction time via a typed callback.
type Manager struct {
	localMAC net.HardwareAddr
	localIP4 net.IP
	localIP6 net.IP

	queueMax int
	deadline time.Duration

	table     *routing.Table
	tx        transport.Transport
	rreqSeq   seq.Counter
	bcastSeq  seq.Counter

	seen *lru.Cache

	mu         sync.Mutex
	pending    map[string]*PendingRoute
	reverseHop map[string]net.HardwareAddr // requester-ip-key -> neighbor heard their RREQ from
	hopCounts  map[string]int              // dst-ip-key -> hop distance learned when our own pending route resolved

	onResolved func(dst net.IP, payload []byte)
}

// New builds a path discovery manager. localIP4/localIP6 identify this
// node's own bound addresses (may be nil if the node doesn't bind that
// family); onResolved is invoked once per buffered datagram, in order, as
// soon as a route to its destination is installed.
func New(localMAC net.HardwareAddr, localIP4, localIP6 net.IP, queueMax int, deadline time.Duration,
	table *routing.Table, tx transport.Transport, onResolved func(net.IP, []byte)) *Manager {

	seen, err := lru.New(seenSetSize)
	if err != nil {
		panic(err) // only fails for a non-positive size, which is a programming error
	}
	return &Manager{
		localMAC:   localMAC,
		localIP4:   localIP4,
		localIP6:   localIP6,
		queueMax:   queueMax,
		deadline:   deadline,
		table:      table,
		tx:         tx,
		seen:       seen,
		pending:    make(map[string]*PendingRoute),
		reverseHop: make(map[string]net.HardwareAddr),
		hopCounts:  make(map[string]int),
		onResolved: onResolved,
	}
}

func ipKey(ip net.IP) string {
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.To16().String()
}

func (m *Manager) isLocal(ip net.IP) bool {
	return (m.localIP4 != nil && m.localIP4.Equal(ip)) || (m.localIP6 != nil && m.localIP6.Equal(ip))
}

// RequestRoute is the Absent/Pending transition of the route-discovery state
// machine: if no PendingRoute exists yet for dst, one is created and an RREQ is
// broadcast; otherwise the datagram is appended to (or dropped from, if
// full) the existing queue.
func (m *Manager) RequestRoute(dst net.IP, payload []byte) {
	key := ipKey(dst)

	m.mu.Lock()
	p, exists := m.pending[key]
	if exists {
		if len(p.Queue) >= m.queueMax {
			m.mu.Unlock()
			metrics.PendingQueueDropped.Inc(1)
			log.Debugf("pathdiscovery: queue full for %s, dropping packet", dst)
			return
		}
		p.Queue = append(p.Queue, payload)
		m.mu.Unlock()
		return
	}

	rreqID := m.rreqSeq.Next()
	now := time.Now()
	m.pending[key] = &PendingRoute{
		Dst:      dst,
		Queue:    [][]byte{payload},
		RREQID:   rreqID,
		Issued:   now,
		Deadline: now.Add(m.deadline),
	}
	m.mu.Unlock()

	m.sendRREQ(dst, rreqID, 0)
}

func (m *Manager) srcIP(v6 bool) net.IP {
	if v6 {
		return m.localIP6
	}
	return m.localIP4
}

func (m *Manager) sendRREQ(dst net.IP, rreqID uint32, hopCount byte) {
	v6 := dst.To4() == nil
	h := &codec.RREQHeader{
		V6:       v6,
		HopCount: hopCount,
		DstIP:    dst,
		SrcIP:    m.srcIP(v6),
		RREQID:   rreqID,
		BcastID:  m.bcastSeq.Next(),
	}
	buf, err := codec.Encode(h)
	if err != nil {
		log.Error("pathdiscovery: encode RREQ", "err", err)
		return
	}
	// Record our own broadcast so a copy that comes back to us (a
	// physical NIC that echoes its own broadcasts, or a neighbor's
	// rebroadcast) is not reprocessed as a fresh request.
	m.seen.Add(dedupKey(h.SrcIP, h.RREQID), struct{}{})
	if err := m.tx.SendBroadcast(buf); err != nil {
		metrics.TransportSendErrors.Inc(1)
		log.Debug("pathdiscovery: broadcast RREQ", "err", err)
		return
	}
	metrics.RREQSent.Inc(1)
}

func dedupKey(originator net.IP, rreqID uint32) string {
	return fmt.Sprintf("%s/%d", ipKey(originator), rreqID)
}

// HandleRREQ implements the flooding rule: drop duplicates, install a
// reverse route to the requester, then reply if we are the destination or
// otherwise rebroadcast with an incremented hop count.
func (m *Manager) HandleRREQ(fromMAC net.HardwareAddr, h *codec.RREQHeader) {
	key := dedupKey(h.SrcIP, h.RREQID)
	if _, ok := m.seen.Get(key); ok {
		metrics.RREQDuplicate.Inc(1)
		return
	}
	m.seen.Add(key, struct{}{})

	// A node never forwards (or replies to) its own RREQ.
	if m.isLocal(h.SrcIP) {
		return
	}

	m.table.AddRoute(h.SrcIP, fromMAC)
	m.mu.Lock()
	m.reverseHop[ipKey(h.SrcIP)] = fromMAC
	m.mu.Unlock()

	if m.isLocal(h.DstIP) {
		m.sendRREP(h.DstIP, h.SrcIP, h.V6, 0, fromMAC)
		return
	}

	h2 := *h
	h2.HopCount++
	buf, err := codec.Encode(&h2)
	if err != nil {
		log.Error("pathdiscovery: encode forwarded RREQ", "err", err)
		return
	}
	if err := m.tx.SendBroadcast(buf); err != nil {
		metrics.TransportSendErrors.Inc(1)
		return
	}
	metrics.RREQForwarded.Inc(1)
}

func (m *Manager) sendRREP(replierIP, requesterIP net.IP, v6 bool, hopCount byte, toMAC net.HardwareAddr) {
	h := &codec.RREPHeader{
		V6:       v6,
		HopCount: hopCount,
		DstIP:    requesterIP,
		SrcIP:    replierIP,
		TxMAC:    m.localMAC,
	}
	buf, err := codec.Encode(h)
	if err != nil {
		log.Error("pathdiscovery: encode RREP", "err", err)
		return
	}
	if err := m.tx.Send(toMAC, buf); err != nil {
		metrics.TransportSendErrors.Inc(1)
		return
	}
	metrics.RREPSent.Inc(1)
}

// HandleRREP installs (or refreshes) a forward route to the RREP's source
// and either resolves our own pending discovery or forwards the reply
// toward the original requester along the reverse path.
func (m *Manager) HandleRREP(fromMAC net.HardwareAddr, h *codec.RREPHeader) {
	m.table.AddRoute(h.SrcIP, fromMAC)

	if m.isLocal(h.DstIP) {
		m.mu.Lock()
		m.hopCounts[ipKey(h.SrcIP)] = int(h.HopCount)
		m.mu.Unlock()
		m.resolve(h.SrcIP, fromMAC)
		return
	}

	m.mu.Lock()
	nextHop, ok := m.reverseHop[ipKey(h.DstIP)]
	m.mu.Unlock()
	if !ok {
		log.Debugf("pathdiscovery: no reverse route to forward RREP toward %s", h.DstIP)
		return
	}
	m.sendRREP(h.SrcIP, h.DstIP, h.V6, h.HopCount+1, nextHop)
}

// resolve transitions Pending -> Resolved for dst: the route is already in
// the table (HandleRREP just added it), so every buffered datagram is
// handed back to the data handler's outbound path in order.
func (m *Manager) resolve(dst net.IP, via net.HardwareAddr) {
	key := ipKey(dst)
	m.mu.Lock()
	p, ok := m.pending[key]
	if ok {
		delete(m.pending, key)
	}
	cb := m.onResolved
	m.mu.Unlock()
	if !ok || cb == nil {
		return
	}
	for _, payload := range p.Queue {
		cb(dst, payload)
	}
}

// Sweep drops any PendingRoute whose deadline has passed, discarding its
// buffered datagrams silently (IP semantics — no discovery failure is ever
// surfaced to the application).
func (m *Manager) Sweep(now time.Time) {
	m.mu.Lock()
	var expired []string
	for key, p := range m.pending {
		if now.After(p.Deadline) {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(m.pending, key)
	}
	count := len(m.pending)
	m.mu.Unlock()

	if len(expired) > 0 {
		metrics.PendingTimeouts.Inc(int64(len(expired)))
	}
	metrics.PendingRouteCount.Update(int64(count))
}

// PendingCount reports the number of destinations currently under
// discovery, for the status/inspection surface.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// SetOnResolved (re)binds the callback invoked once a buffered destination's
// route resolves. It exists for two-phase construction: the daemon builds
// the Manager before the data handler that ultimately drains resolved
// datagrams, then wires the two together once both exist.
func (m *Manager) SetOnResolved(cb func(dst net.IP, payload []byte)) {
	m.mu.Lock()
	m.onResolved = cb
	m.mu.Unlock()
}

// ReverseHop returns the neighbor an RREQ originated by src was last heard
// from, if any. The reward layer reuses this reverse-path record to send
// REWARD messages backwards toward a packet's ultimate source.
func (m *Manager) ReverseHop(src net.IP) (net.HardwareAddr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mac, ok := m.reverseHop[ipKey(src)]
	return mac, ok
}

// HopCountTo returns this node's own hop distance to dst, as learned the
// last time a pending route to it resolved via an RREP. It reports false if
// this node has never itself resolved a route to dst — e.g. it only ever
// relayed other nodes' traffic there — in which case callers fall back to
// crediting full forward progress.
func (m *Manager) HopCountTo(dst net.IP) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hc, ok := m.hopCounts[ipKey(dst)]
	return hc, ok
}
