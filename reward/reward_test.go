package reward

import (
	"context"
	"math"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dugdmitry/adhoc-routing/codec"
	"github.com/dugdmitry/adhoc-routing/neighbor"
	"github.com/dugdmitry/adhoc-routing/routing"
	"github.com/dugdmitry/adhoc-routing/transport"
)

func recvCtx(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func newRoutingTable() (*routing.Table, *neighbor.Table) {
	nt := neighbor.NewTable(time.Minute)
	rt := routing.NewTable(nt, 0.3, 0.5, 0.0)
	return rt, nt
}

// valueFor returns the routing table's value estimate for (dst, mac).
func valueFor(rt *routing.Table, dst net.IP, mac net.HardwareAddr) (float64, bool) {
	for _, e := range rt.Snapshot() {
		if e.Dst.Equal(dst) {
			v, ok := e.Values[mac.String()]
			return v, ok
		}
	}
	return 0, false
}

func TestHandleRewardAppliesToTable(t *testing.T) {
	segment := t.Name()
	mac := mustMAC("aa:aa:aa:aa:aa:01")
	tx := transport.NewVirtualTransport(segment, mac)
	rt, nt := newRoutingTable()
	nt.Upsert(mac, net.ParseIP("10.0.0.2").To4(), nil)
	dst := net.ParseIP("10.0.0.99")
	rt.AddRoute(dst, mac)

	m := New(rt, tx, time.Hour, -1.0)
	m.OpenWait(5, dst, mac)
	require.Equal(t, 1, m.PendingCount())

	m.HandleReward(&codec.RewardHeader{RewardValue: 2.0, MsgHash: 5, NeighborMAC: mac}, dst)
	require.Equal(t, 0, m.PendingCount())

	// V_INIT 0 moved toward the reward 2.0 with alpha 0.3, and no timeout
	// penalty applied on top.
	v, ok := valueFor(rt, dst, mac)
	require.True(t, ok)
	require.InDelta(t, 0.6, v, 1e-9)

	chosen, ok := rt.BestAction(dst)
	require.True(t, ok)
	require.Equal(t, mac.String(), chosen.String())
}

func TestWaitTimeoutAppliesHopRewardTimeout(t *testing.T) {
	segment := t.Name()
	mac := mustMAC("aa:aa:aa:aa:aa:01")
	tx := transport.NewVirtualTransport(segment, mac)
	rt, nt := newRoutingTable()
	nt.Upsert(mac, net.ParseIP("10.0.0.2").To4(), nil)
	dst := net.ParseIP("10.0.0.99")
	rt.AddRoute(dst, mac)

	m := New(rt, tx, 30*time.Millisecond, -5.0)
	m.OpenWait(7, dst, mac)

	require.Eventually(t, func() bool {
		return m.PendingCount() == 0
	}, time.Second, 10*time.Millisecond)

	// One HOP_REWARD_TIMEOUT of -5.0 from V_INIT 0 with alpha 0.3.
	require.Eventually(t, func() bool {
		v, ok := valueFor(rt, dst, mac)
		return ok && math.Abs(v+1.5) < 1e-9
	}, time.Second, 10*time.Millisecond)
}

func TestEmitForwardScalesByHopCount(t *testing.T) {
	segment := t.Name()
	macA := mustMAC("aa:aa:aa:aa:aa:01")
	macB := mustMAC("aa:aa:aa:aa:aa:02")
	txA := transport.NewVirtualTransport(segment, macA)
	rxB := transport.NewVirtualTransport(segment, macB)
	rt, _ := newRoutingTable()

	m := New(rt, txA, time.Hour, -1.0)
	require.NoError(t, m.EmitForward(macB, 11, macA, 1))

	ctx, cancel := recvCtx(200 * time.Millisecond)
	defer cancel()
	f, err := rxB.Recv(ctx)
	require.NoError(t, err)

	h, err := codec.Decode(f.Payload)
	require.NoError(t, err)
	rh, ok := h.(*codec.RewardHeader)
	require.True(t, ok)
	require.InDelta(t, 0.5, rh.RewardValue, 1e-6)
}
