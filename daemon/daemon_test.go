package daemon

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dugdmitry/adhoc-routing/config"
	"github.com/dugdmitry/adhoc-routing/transport"
	"github.com/dugdmitry/adhoc-routing/tunnel"
)

// failingTunnel always errors on Read with something other than
// tunnel.ErrClosed, to drive readTunnelLoop past maxWorkerRestarts without
// ever going through a real Stop-initiated close.
type failingTunnel struct{}

func (failingTunnel) Read([]byte) (int, error)    { return 0, errors.New("tunnel: simulated I/O error") }
func (failingTunnel) Write(p []byte) (int, error) { return len(p), nil }
func (failingTunnel) Close() error                { return nil }
func (failingTunnel) Name() string                { return "adhoc0" }

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.LocalIPCPath = t.TempDir() + "/adhocd.sock"
	cfg.HelloInterval = 20 * time.Millisecond
	cfg.NeighborTTL = time.Second
	return cfg
}

func TestDaemonStartStopDeliversUnicast(t *testing.T) {
	segment := t.Name()
	cfg1 := testConfig(t)
	cfg2 := testConfig(t)

	mac1 := mustMAC("aa:aa:aa:aa:aa:01")
	mac2 := mustMAC("aa:aa:aa:aa:aa:02")
	ip1 := net.ParseIP("10.0.0.1").To4()
	ip2 := net.ParseIP("10.0.0.2").To4()

	tx1 := transport.NewVirtualTransport(segment, mac1)
	tx2 := transport.NewVirtualTransport(segment, mac2)
	tun1 := tunnel.NewFakeDevice("adhoc0")
	tun2 := tunnel.NewFakeDevice("adhoc0")

	d1, err := New(cfg1, tun1, tx1, 1, ip1, nil)
	require.NoError(t, err)
	d2, err := New(cfg2, tun2, tx2, 2, ip2, nil)
	require.NoError(t, err)

	d1.Start()
	d2.Start()
	defer d1.Stop()
	defer d2.Stop()

	require.Eventually(t, func() bool {
		_, ok := d1.neighbors.Get(mac2)
		return ok
	}, 2*time.Second, 20*time.Millisecond)

	pkt := make([]byte, 20)
	pkt[0] = 0x45
	copy(pkt[12:16], ip1)
	copy(pkt[16:20], ip2)
	tun1.In <- pkt

	require.Eventually(t, func() bool {
		return len(tun2.Written()) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDaemonDoneClosesAfterWorkerExhaustsRestarts(t *testing.T) {
	cfg := testConfig(t)
	tx := transport.NewVirtualTransport(t.Name(), mustMAC("aa:aa:aa:aa:aa:03"))

	d, err := New(cfg, failingTunnel{}, tx, 3, net.ParseIP("10.0.0.3").To4(), nil)
	require.NoError(t, err)

	d.Start()

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done did not close after the tunnel worker exhausted its restart budget")
	}
	require.Error(t, d.Err())

	require.NoError(t, d.Stop())
}
