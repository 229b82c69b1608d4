// Package transport provides the link-layer send/receive capability the
// routing daemon rides on: a raw variant bound to a physical interface, and
// an in-process virtual variant for multi-node tests on a single host.
package transport

import (
	"context"
	"errors"
	"net"
)

// EtherType is the custom EtherType this protocol family's frames carry.
// Only frames tagged with it are handed to the daemon; everything else on
// the physical interface is ignored at the BPF/filter level.
const EtherType = 0x7777

// ErrClosed is returned by Recv once the transport has been shut down.
var ErrClosed = errors.New("transport: closed")

// Frame is a received link-layer frame addressed to our EtherType, stripped
// of the Ethernet header proper.
type Frame struct {
	SrcMAC  net.HardwareAddr
	DstMAC  net.HardwareAddr
	Payload []byte
}

// Broadcast is the all-ones Ethernet broadcast address, used for HELLO and
// RREQ flooding.
var Broadcast = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Transport is the capability the rest of the daemon depends on; it is
// deliberately narrow so RawTransport and VirtualTransport are
// interchangeable in tests.
type Transport interface {
	// LocalMAC returns this node's own link-layer address.
	LocalMAC() net.HardwareAddr
	// Send transmits payload as a unicast frame to dst.
	Send(dst net.HardwareAddr, payload []byte) error
	// SendBroadcast transmits payload to the broadcast address.
	SendBroadcast(payload []byte) error
	// Recv blocks for the next frame carrying our EtherType, or returns
	// ErrClosed once Close has been called.
	Recv(ctx context.Context) (Frame, error)
	// Close releases the underlying socket/channel and unblocks Recv.
	Close() error
}
