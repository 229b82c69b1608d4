// Package datahandler is the pipeline glue: it orchestrates the neighbor,
// routing, path-discovery, ARQ and reward components around one logical
// operation per direction — an IP datagram appeared locally, or a frame
// arrived from the physical interface.
package datahandler

import (
	"net"
	"sync"

	"github.com/MOACChain/MoacLib/log"

	"github.com/dugdmitry/adhoc-routing/arq"
	"github.com/dugdmitry/adhoc-routing/codec"
	"github.com/dugdmitry/adhoc-routing/metrics"
	"github.com/dugdmitry/adhoc-routing/msgid"
	"github.com/dugdmitry/adhoc-routing/neighbor"
	"github.com/dugdmitry/adhoc-routing/pathdiscovery"
	"github.com/dugdmitry/adhoc-routing/reward"
	"github.com/dugdmitry/adhoc-routing/routing"
	"github.com/dugdmitry/adhoc-routing/seq"
	"github.com/dugdmitry/adhoc-routing/transport"
	"github.com/dugdmitry/adhoc-routing/tunnel"
)

// Handler wires D (routing) through H (reward) around the tunnel and
// transport. It holds no state of its own beyond the monotonic msg-id
// counter; every other piece of state belongs to the component that owns
// it.
type Handler struct {
	localMAC net.HardwareAddr
	localIP4 net.IP
	localIP6 net.IP

	reliableSizeThreshold int

	tun tunnel.Device
	tx  transport.Transport

	neighbors *neighbor.Table
	routes    *routing.Table
	paths     *pathdiscovery.Manager
	reliable  *arq.Manager
	rewards   *reward.Manager

	msgSeq seq.Counter

	writeMu sync.Mutex
}

// Config bundles the collaborators a Handler is built from.
type Config struct {
	LocalMAC              net.HardwareAddr
	LocalIP4, LocalIP6    net.IP
	ReliableSizeThreshold int
	Tunnel                tunnel.Device
	Transport             transport.Transport
	Neighbors             *neighbor.Table
	Routes                *routing.Table
	Paths                 *pathdiscovery.Manager
	Reliable              *arq.Manager
	Rewards               *reward.Manager
}

// New builds a Handler from its collaborators.
func New(cfg Config) *Handler {
	return &Handler{
		localMAC:              cfg.LocalMAC,
		localIP4:              cfg.LocalIP4,
		localIP6:              cfg.LocalIP6,
		reliableSizeThreshold: cfg.ReliableSizeThreshold,
		tun:                   cfg.Tunnel,
		tx:                    cfg.Transport,
		neighbors:             cfg.Neighbors,
		routes:                cfg.Routes,
		paths:                 cfg.Paths,
		reliable:              cfg.Reliable,
		rewards:               cfg.Rewards,
	}
}

func (h *Handler) isLocal(ip net.IP) bool {
	return (h.localIP4 != nil && h.localIP4.Equal(ip)) || (h.localIP6 != nil && h.localIP6.Equal(ip))
}

// HandleOutbound implements the outbound sequence for a single IP datagram
// read from the tunnel: parse, check for local delivery, look up a
// neighbor/route, enqueue for discovery on a miss, then forward.
func (h *Handler) HandleOutbound(pkt []byte) {
	src, dst, _, ok := parseIPDatagram(pkt)
	if !ok {
		metrics.MalformedHeaders.Inc(1)
		return
	}

	if h.isLocal(dst) {
		h.writeTunnel(pkt)
		return
	}

	neigh, ok := h.neighbors.FindByIP(dst)
	var nextHop net.HardwareAddr
	if ok {
		nextHop = neigh.MAC
	} else if h.routes.HasRoute(dst) {
		nextHop, ok = h.routes.BestAction(dst)
	}
	if !ok {
		h.paths.RequestRoute(dst, pkt)
		return
	}

	h.forward(src, dst, nextHop, pkt)
}

// forward encapsulates and transmits pkt toward nextHop, choosing
// RELIABLE_DATA or plain UNICAST per the configured size threshold,
// registering with ARQ and opening a RewardPending entry as appropriate.
func (h *Handler) forward(src, dst net.IP, nextHop net.HardwareAddr, pkt []byte) {
	reliable := h.reliableSizeThreshold > 0 && len(pkt) >= h.reliableSizeThreshold
	id := msgid.Hash32(src, dst, h.msgSeq.Next())

	if reliable {
		if err := h.reliable.Send(id, nextHop, h.localMAC, pkt); err != nil {
			metrics.TransportSendErrors.Inc(1)
			log.Debug("datahandler: reliable send failed", "err", err)
			return
		}
	} else {
		uh := &codec.UnicastHeader{TTL: 32, DstMAC: nextHop, SrcMAC: h.localMAC, Payload: pkt}
		buf, err := codec.Encode(uh)
		if err != nil {
			log.Error("datahandler: encode unicast", "err", err)
			return
		}
		if err := h.tx.Send(nextHop, buf); err != nil {
			metrics.TransportSendErrors.Inc(1)
			h.routes.Update(dst, nextHop, -1.0)
			return
		}
	}

	if prevHop, ok := h.paths.ReverseHop(src); ok && h.rewards != nil {
		h.rewards.OpenWait(id, dst, nextHop)
		hopCount, _ := h.paths.HopCountTo(dst)
		if err := h.rewards.EmitForward(prevHop, id, nextHop, hopCount); err != nil {
			log.Debug("datahandler: emit forward reward", "err", err)
		}
	}
}

// HandleResolved re-enters the outbound path for a datagram that was
// buffered in path discovery and whose destination now has a route; it is
// the callback pathdiscovery.Manager.SetOnResolved is wired to.
func (h *Handler) HandleResolved(dst net.IP, payload []byte) {
	nextHop, ok := h.routes.BestAction(dst)
	if !ok {
		return
	}
	src, _, _, ok := parseIPDatagram(payload)
	if !ok {
		return
	}
	h.forward(src, dst, nextHop, payload)
}

func (h *Handler) writeTunnel(pkt []byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.tun.Write(pkt); err != nil {
		log.Error("datahandler: tunnel write", "err", err)
	}
}

// HandleInboundFrame decodes a physical-interface frame and dispatches it
// by kind to the owning component, or onto the local/forwarding path for
// data-carrying kinds.
func (h *Handler) HandleInboundFrame(frame transport.Frame) {
	hdr, err := codec.Decode(frame.Payload)
	if err != nil {
		if err == codec.ErrUnknownKind {
			metrics.UnknownKinds.Inc(1)
		} else {
			metrics.MalformedHeaders.Inc(1)
		}
		metrics.FramesDropped.Inc(1)
		return
	}

	switch v := hdr.(type) {
	case *codec.HelloHeader:
		h.neighbors.HandleHello(frame.SrcMAC, v)
		// A direct neighbor is a zero-hop route to its own advertised
		// address; install it so it shows up in the routing table
		// snapshot, not just the neighbor table.
		if v.IPv4 != nil {
			h.routes.AddRoute(v.IPv4, frame.SrcMAC)
		}
		if v.IPv6 != nil {
			h.routes.AddRoute(v.IPv6, frame.SrcMAC)
		}
	case *codec.RREQHeader:
		h.paths.HandleRREQ(frame.SrcMAC, v)
	case *codec.RREPHeader:
		h.paths.HandleRREP(frame.SrcMAC, v)
	case *codec.AckHeader:
		h.reliable.HandleAck(v)
	case *codec.RewardHeader:
		if dst, ok := h.destFor(v.NeighborMAC); ok {
			h.rewards.HandleReward(v, dst)
		}
	case *codec.UnicastHeader:
		h.handleUnicast(v)
	case *codec.ReliableDataHeader:
		h.handleReliableData(frame.SrcMAC, v)
	}
}

// destFor resolves the destination IP a REWARD's NeighborMAC contribution
// applies to: the neighbor's own currently-advertised address, since a
// REWARD always credits a one-hop relationship to a destination the
// routing table already has an entry for.
func (h *Handler) destFor(neighborMAC net.HardwareAddr) (net.IP, bool) {
	n, ok := h.neighbors.Get(neighborMAC)
	if !ok {
		return nil, false
	}
	if n.IPv4 != nil {
		return n.IPv4, true
	}
	return n.IPv6, n.IPv6 != nil
}

func (h *Handler) handleUnicast(u *codec.UnicastHeader) {
	if u.DstMAC.String() == h.localMAC.String() {
		h.writeTunnel(u.Payload)
		return
	}
	h.HandleOutbound(u.Payload)
}

func (h *Handler) handleReliableData(fromMAC net.HardwareAddr, rd *codec.ReliableDataHeader) {
	deliver := h.reliable.HandleReliableData(fromMAC, rd)
	if !deliver {
		return
	}
	if rd.DstMAC.String() == h.localMAC.String() {
		h.writeTunnel(rd.Payload)
		return
	}
	h.HandleOutbound(rd.Payload)
}
