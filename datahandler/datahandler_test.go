package datahandler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dugdmitry/adhoc-routing/arq"
	"github.com/dugdmitry/adhoc-routing/neighbor"
	"github.com/dugdmitry/adhoc-routing/pathdiscovery"
	"github.com/dugdmitry/adhoc-routing/reward"
	"github.com/dugdmitry/adhoc-routing/routing"
	"github.com/dugdmitry/adhoc-routing/transport"
	"github.com/dugdmitry/adhoc-routing/tunnel"
)

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func recvCtx(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

type testNode struct {
	mac net.HardwareAddr
	ip  net.IP
	tun *tunnel.FakeDevice
	tx  *transport.VirtualTransport
	h   *Handler
}

func newTestNode(t *testing.T, segment, macStr, ipStr string) *testNode {
	mac := mustMAC(macStr)
	ip := net.ParseIP(ipStr).To4()

	nt := neighbor.NewTable(time.Minute)
	rt := routing.NewTable(nt, 0.3, 0.5, 0.0)
	tx := transport.NewVirtualTransport(segment, mac)
	tun := tunnel.NewFakeDevice("adhoc0")

	paths := pathdiscovery.New(mac, ip, nil, 8, 200*time.Millisecond, rt, tx, nil)
	rwd := reward.New(rt, tx, time.Second, -1.0)
	reliable := arq.New(3, 50*time.Millisecond, -10, tx, func(neighborMAC net.HardwareAddr, r float64) {
		// ARQ outcomes are folded straight into the routing table, same
		// as an inbound REWARD would be, keyed by whatever destination
		// the neighbor itself currently advertises.
		if n, ok := nt.Get(neighborMAC); ok && n.IPv4 != nil {
			rt.Update(n.IPv4, neighborMAC, r)
		}
	})

	h := New(Config{
		LocalMAC:  mac,
		LocalIP4:  ip,
		Tunnel:    tun,
		Transport: tx,
		Neighbors: nt,
		Routes:    rt,
		Paths:     paths,
		Reliable:  reliable,
		Rewards:   rwd,
	})

	paths.SetOnResolved(h.HandleResolved)

	n := &testNode{mac: mac, ip: ip, tun: tun, tx: tx, h: h}
	return n
}

func (n *testNode) recvLoop(t *testing.T, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		ctx, cancel := recvCtx(30 * time.Millisecond)
		f, err := n.tx.Recv(ctx)
		cancel()
		if err != nil {
			continue
		}
		n.h.HandleInboundFrame(f)
	}
}

func ipv4Packet(src, dst string, payload byte) []byte {
	pkt := make([]byte, 20)
	pkt[0] = 0x45 // version 4, IHL 5
	srcIP := net.ParseIP(src).To4()
	dstIP := net.ParseIP(dst).To4()
	copy(pkt[12:16], srcIP)
	copy(pkt[16:20], dstIP)
	pkt = append(pkt, payload)
	return pkt
}

func TestTwoNodePing(t *testing.T) {
	segment := t.Name()
	n1 := newTestNode(t, segment, "aa:aa:aa:aa:aa:01", "10.0.0.1")
	n2 := newTestNode(t, segment, "aa:aa:aa:aa:aa:02", "10.0.0.2")

	stop := make(chan struct{})
	defer close(stop)
	go n2.recvLoop(t, stop)

	n1.h.neighbors.Upsert(n2.mac, n2.ip, nil)

	pkt := ipv4Packet("10.0.0.1", "10.0.0.2", 0x42)
	n1.h.HandleOutbound(pkt)

	require.Eventually(t, func() bool {
		return len(n2.tun.Written()) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, pkt, n2.tun.Written()[0])
}

func TestHelloInstallsDirectRouteToNeighbor(t *testing.T) {
	segment := t.Name()
	n1 := newTestNode(t, segment, "aa:aa:aa:aa:aa:01", "10.0.0.1")
	n2 := newTestNode(t, segment, "aa:aa:aa:aa:aa:02", "10.0.0.2")

	stop := make(chan struct{})
	defer close(stop)
	go n1.recvLoop(t, stop)

	advertiser := neighbor.NewAdvertiser(2, n2.ip, nil, 20*time.Millisecond, n2.tx)
	advertiser.Start()
	defer advertiser.Stop()

	require.Eventually(t, func() bool {
		return n1.h.routes.HasRoute(n2.ip)
	}, time.Second, 10*time.Millisecond)

	mac, ok := n1.h.routes.BestAction(n2.ip)
	require.True(t, ok)
	require.Equal(t, n2.mac.String(), mac.String())
}

func TestReliableDeliveryRecoversAfterDrops(t *testing.T) {
	segment := t.Name()
	n1 := newTestNode(t, segment, "aa:aa:aa:aa:aa:01", "10.0.0.1")
	n2 := newTestNode(t, segment, "aa:aa:aa:aa:aa:02", "10.0.0.2")

	var attempts int
	n1.tx.SetLossFunc(func(from, to net.HardwareAddr) bool {
		attempts++
		return attempts <= 2
	})

	stop := make(chan struct{})
	defer close(stop)
	go n2.recvLoop(t, stop)
	go n1.recvLoop(t, stop) // to receive the ACK

	n1.h.neighbors.Upsert(n2.mac, n2.ip, nil)
	n1.h.reliableSizeThreshold = 1

	pkt := ipv4Packet("10.0.0.1", "10.0.0.2", 0x99)
	n1.h.HandleOutbound(pkt)

	retransmitter := arq.NewRetransmitter(n1.h.reliable, 20*time.Millisecond)
	retransmitter.Start()
	defer retransmitter.Stop()

	require.Eventually(t, func() bool {
		return len(n2.tun.Written()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, pkt, n2.tun.Written()[0])

	require.Eventually(t, func() bool {
		return n1.h.reliable.PendingCount() == 0
	}, time.Second, 10*time.Millisecond)
}
