package transport

import (
	"context"
	"net"
	"sync"
)

// bus is a process-wide named registry of virtual segments, letting several
// in-process VirtualTransports address each other by segment name without
// any real socket — the concrete mechanism behind "in-process loopback for
// tests".
type bus struct {
	mu    sync.Mutex
	nodes map[string]map[string]*VirtualTransport // segment -> mac string -> node
}

var defaultBus = &bus{nodes: make(map[string]map[string]*VirtualTransport)}

// VirtualTransport is an in-memory Transport: Send/SendBroadcast fan data
// out to every other VirtualTransport registered on the same segment,
// simulating a shared wireless medium for multi-node tests on one host.
type VirtualTransport struct {
	segment string
	mac     net.HardwareAddr

	mu      sync.Mutex
	inbox   chan Frame
	closed  chan struct{}
	closeOnce sync.Once

	// dropNext, if non-nil, is consulted before each delivery and lets
	// tests simulate lossy links (used by ARQ scenarios S3/S4).
	dropNext func(from, to net.HardwareAddr) bool
}

// NewVirtualTransport registers a new node with the given MAC on segment
// and returns a Transport handle for it. Every node already on the segment
// can now reach it, and it can reach them.
func NewVirtualTransport(segment string, mac net.HardwareAddr) *VirtualTransport {
	vt := &VirtualTransport{
		segment: segment,
		mac:     mac,
		inbox:   make(chan Frame, 256),
		closed:  make(chan struct{}),
	}
	defaultBus.mu.Lock()
	if defaultBus.nodes[segment] == nil {
		defaultBus.nodes[segment] = make(map[string]*VirtualTransport)
	}
	defaultBus.nodes[segment][mac.String()] = vt
	defaultBus.mu.Unlock()
	return vt
}

// SetLossFunc installs a predicate used to simulate dropped frames; nil (the
// default) never drops.
func (vt *VirtualTransport) SetLossFunc(f func(from, to net.HardwareAddr) bool) {
	vt.mu.Lock()
	vt.dropNext = f
	vt.mu.Unlock()
}

func (vt *VirtualTransport) LocalMAC() net.HardwareAddr { return vt.mac }

func (vt *VirtualTransport) deliverTo(peer *VirtualTransport, payload []byte) {
	vt.mu.Lock()
	drop := vt.dropNext
	vt.mu.Unlock()
	if drop != nil && drop(vt.mac, peer.mac) {
		return
	}
	frame := Frame{
		SrcMAC:  vt.mac,
		DstMAC:  peer.mac,
		Payload: append([]byte(nil), payload...),
	}
	select {
	case peer.inbox <- frame:
	case <-peer.closed:
	default:
		// Bounded inbox; an unresponsive peer sees drops like any real
		// radio contention would produce.
	}
}

func (vt *VirtualTransport) Send(dst net.HardwareAddr, payload []byte) error {
	defaultBus.mu.Lock()
	peer := defaultBus.nodes[vt.segment][dst.String()]
	defaultBus.mu.Unlock()
	if peer == nil {
		return nil
	}
	vt.deliverTo(peer, payload)
	return nil
}

func (vt *VirtualTransport) SendBroadcast(payload []byte) error {
	defaultBus.mu.Lock()
	peers := make([]*VirtualTransport, 0, len(defaultBus.nodes[vt.segment]))
	for mac, peer := range defaultBus.nodes[vt.segment] {
		if mac == vt.mac.String() {
			continue
		}
		peers = append(peers, peer)
	}
	defaultBus.mu.Unlock()
	for _, peer := range peers {
		vt.deliverTo(peer, payload)
	}
	return nil
}

func (vt *VirtualTransport) Recv(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-vt.closed:
		return Frame{}, ErrClosed
	case f := <-vt.inbox:
		return f, nil
	}
}

func (vt *VirtualTransport) Close() error {
	vt.closeOnce.Do(func() {
		close(vt.closed)
		defaultBus.mu.Lock()
		delete(defaultBus.nodes[vt.segment], vt.mac.String())
		defaultBus.mu.Unlock()
	})
	return nil
}

var _ Transport = (*VirtualTransport)(nil)
