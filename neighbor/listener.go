package neighbor

import (
	"net"

	"github.com/dugdmitry/adhoc-routing/codec"
	"github.com/dugdmitry/adhoc-routing/metrics"
)

// HandleHello upserts the sender into the table from a decoded HELLO
// header; fromMAC comes from the underlying frame's source address, not
// from anything the header itself claims.
func (t *Table) HandleHello(fromMAC net.HardwareAddr, h *codec.HelloHeader) {
	t.Upsert(fromMAC, h.IPv4, h.IPv6)
	metrics.HelloReceived.Inc(1)
}
