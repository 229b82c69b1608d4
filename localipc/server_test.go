package localipc

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dugdmitry/adhoc-routing/datahandler"
	"github.com/dugdmitry/adhoc-routing/neighbor"
	"github.com/dugdmitry/adhoc-routing/routing"
	"github.com/dugdmitry/adhoc-routing/transport"
	"github.com/dugdmitry/adhoc-routing/tunnel"
)

func TestDumpNeighbors(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "adhocd.sock")
	endpoint, err := transport.ListenLocalEndpoint(sockPath)
	require.NoError(t, err)

	nt := neighbor.NewTable(time.Minute)
	mac, _ := net.ParseMAC("aa:aa:aa:aa:aa:01")
	nt.Upsert(mac, net.ParseIP("10.0.0.1").To4(), nil)
	rt := routing.NewTable(nt, 0.3, 0.5, 0.0)

	tx := transport.NewVirtualTransport(t.Name(), mustMAC("aa:aa:aa:aa:aa:02"))
	h := datahandler.New(datahandler.Config{
		LocalMAC:  mustMAC("aa:aa:aa:aa:aa:02"),
		LocalIP4:  net.ParseIP("10.0.0.2").To4(),
		Tunnel:    tunnel.NewFakeDevice("adhoc0"),
		Transport: tx,
		Neighbors: nt,
		Routes:    rt,
	})

	srv := New(endpoint, nt, rt, h)
	srv.Start()
	defer srv.Stop()

	conn, err := transport.Dial(sockPath)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("neighbors\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	// tablewriter draws a top border line before the header row.
	_, err = reader.ReadString('\n')
	require.NoError(t, err)
	headerLine, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, headerLine, "MAC")
}

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}
