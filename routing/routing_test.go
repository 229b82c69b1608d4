package routing

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dugdmitry/adhoc-routing/neighbor"
)

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func TestBestActionEmptyEntry(t *testing.T) {
	nt := neighbor.NewTable(time.Second)
	rt := NewTable(nt, 0.3, 0.5, 0.0)
	_, ok := rt.BestAction(net.ParseIP("10.0.0.9"))
	require.False(t, ok)
}

func TestAddRouteThenBestAction(t *testing.T) {
	nt := neighbor.NewTable(time.Second)
	macA := mustMAC("aa:aa:aa:aa:aa:01")
	nt.Upsert(macA, net.ParseIP("10.0.0.1").To4(), nil)

	rt := NewTable(nt, 0.3, 0.5, 0.0)
	dst := net.ParseIP("10.0.0.99")
	rt.AddRoute(dst, macA)

	chosen, ok := rt.BestAction(dst)
	require.True(t, ok)
	require.Equal(t, macA.String(), chosen.String())
}

func TestBestActionExcludesDeadNeighbors(t *testing.T) {
	nt := neighbor.NewTable(time.Second)
	macA := mustMAC("aa:aa:aa:aa:aa:01")
	nt.Upsert(macA, net.ParseIP("10.0.0.1").To4(), nil)

	rt := NewTable(nt, 0.3, 0.5, 0.0)
	dst := net.ParseIP("10.0.0.99")
	rt.AddRoute(dst, macA) // only neighbor in entry, and it's alive

	macB := mustMAC("aa:aa:aa:aa:aa:02") // never added to neighbor table
	rt.Update(dst, macB, 5.0)

	// Even with a higher value, macB is not alive and must never be chosen.
	for i := 0; i < 100; i++ {
		chosen, ok := rt.BestAction(dst)
		require.True(t, ok)
		require.Equal(t, macA.String(), chosen.String())
	}
}

func TestPolicyMonotonicityPositive(t *testing.T) {
	nt := neighbor.NewTable(time.Second)
	mac := mustMAC("aa:aa:aa:aa:aa:01")
	nt.Upsert(mac, net.ParseIP("10.0.0.1").To4(), nil)
	rt := NewTable(nt, 0.3, 0.5, 0.0)
	dst := net.ParseIP("10.0.0.99")

	prev := rt.vinit
	for i := 0; i < 20; i++ {
		rt.Update(dst, mac, 1.0)
		e := rt.entries[ipKey(dst)]
		cur := e.values[mac.String()]
		require.Greater(t, cur, prev)
		prev = cur
	}
}

func TestPolicyMonotonicityNegative(t *testing.T) {
	nt := neighbor.NewTable(time.Second)
	mac := mustMAC("aa:aa:aa:aa:aa:01")
	nt.Upsert(mac, net.ParseIP("10.0.0.1").To4(), nil)
	rt := NewTable(nt, 0.3, 0.5, 0.0)
	dst := net.ParseIP("10.0.0.99")

	prev := rt.vinit
	for i := 0; i < 20; i++ {
		rt.Update(dst, mac, -1.0)
		e := rt.entries[ipKey(dst)]
		cur := e.values[mac.String()]
		require.Less(t, cur, prev)
		prev = cur
	}
}

func TestDropNeighborRenormalizes(t *testing.T) {
	nt := neighbor.NewTable(40 * time.Millisecond)
	macA := mustMAC("aa:aa:aa:aa:aa:01")
	macB := mustMAC("aa:aa:aa:aa:aa:02")
	nt.Upsert(macA, net.ParseIP("10.0.0.1").To4(), nil)
	nt.Upsert(macB, net.ParseIP("10.0.0.2").To4(), nil)

	rt := NewTable(nt, 0.3, 0.5, 0.0)
	dst := net.ParseIP("10.0.0.99")
	rt.AddRoute(dst, macA)
	rt.AddRoute(dst, macB)

	// Let macB expire while macA keeps getting refreshed.
	refresh := time.NewTicker(10 * time.Millisecond)
	defer refresh.Stop()
	deadline := time.After(1 * time.Second)
	for {
		select {
		case <-refresh.C:
			nt.Upsert(macA, net.ParseIP("10.0.0.1").To4(), nil)
			if !nt.IsAlive(macB) {
				goto expired
			}
		case <-deadline:
			t.Fatal("macB never expired")
		}
	}
expired:
	chosen, ok := rt.BestAction(dst)
	require.True(t, ok)
	require.Equal(t, macA.String(), chosen.String())
}
