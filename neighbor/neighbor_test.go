package neighbor

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func TestUpsertAndIsAlive(t *testing.T) {
	tbl := NewTable(50 * time.Millisecond)
	mac := mustMAC("aa:aa:aa:aa:aa:01")

	require.False(t, tbl.IsAlive(mac))
	tbl.Upsert(mac, net.ParseIP("10.0.0.1").To4(), nil)
	require.True(t, tbl.IsAlive(mac))

	n, ok := tbl.Get(mac)
	require.True(t, ok)
	require.True(t, n.IPv4.Equal(net.ParseIP("10.0.0.1")))
}

func TestExpiry(t *testing.T) {
	tbl := NewTable(30 * time.Millisecond)
	mac := mustMAC("aa:aa:aa:aa:aa:02")
	var expired net.HardwareAddr
	done := make(chan struct{})
	tbl.OnExpire(func(m net.HardwareAddr) {
		expired = m
		close(done)
	})

	tbl.Upsert(mac, net.ParseIP("10.0.0.2").To4(), nil)
	require.True(t, tbl.IsAlive(mac))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("neighbor never expired")
	}
	require.Equal(t, mac.String(), expired.String())
	require.False(t, tbl.IsAlive(mac))
}

func TestFindByIP(t *testing.T) {
	tbl := NewTable(time.Second)
	mac := mustMAC("aa:aa:aa:aa:aa:03")
	tbl.Upsert(mac, net.ParseIP("10.0.0.3").To4(), nil)

	n, ok := tbl.FindByIP(net.ParseIP("10.0.0.3"))
	require.True(t, ok)
	require.Equal(t, mac.String(), n.MAC.String())

	_, ok = tbl.FindByIP(net.ParseIP("10.0.0.99"))
	require.False(t, ok)
}
