package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/MOACChain/MoacLib/log"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

const (
	snaplen = 2048
	// bpfFilter restricts capture to frames of our EtherType; the kernel
	// (or libpcap's BPF VM) does the filtering, not our Go code.
	bpfFilter = "ether proto 0x7777"
)

// RawTransport binds a raw link-layer socket to a named physical interface
// and speaks our EtherType over it.
type RawTransport struct {
	iface   string
	localMA net.HardwareAddr

	handle *pcap.Handle
	source *gopacket.PacketSource

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRawTransport opens a promiscuous capture/injection handle on iface and
// restricts it to our protocol's EtherType.
func NewRawTransport(iface string) (*RawTransport, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("transport: lookup interface %s: %w", iface, err)
	}

	handle, err := pcap.OpenLive(iface, snaplen, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", iface, err)
	}
	if err := handle.SetBPFFilter(bpfFilter); err != nil {
		handle.Close()
		return nil, fmt.Errorf("transport: set filter on %s: %w", iface, err)
	}

	rt := &RawTransport{
		iface:   iface,
		localMA: ifi.HardwareAddr,
		handle:  handle,
		source:  gopacket.NewPacketSource(handle, handle.LinkType()),
		closed:  make(chan struct{}),
	}
	log.Infof("transport: bound raw socket to %s (mac=%s)", iface, rt.localMA)
	return rt, nil
}

func (rt *RawTransport) LocalMAC() net.HardwareAddr { return rt.localMA }

func (rt *RawTransport) frame(dst net.HardwareAddr, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       rt.localMA,
		DstMAC:       dst,
		EthernetType: layers.EthernetType(EtherType),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (rt *RawTransport) Send(dst net.HardwareAddr, payload []byte) error {
	raw, err := rt.frame(dst, payload)
	if err != nil {
		return fmt.Errorf("transport: frame: %w", err)
	}
	if err := rt.handle.WritePacketData(raw); err != nil {
		return fmt.Errorf("transport: write %s: %w", rt.iface, err)
	}
	return nil
}

func (rt *RawTransport) SendBroadcast(payload []byte) error {
	return rt.Send(Broadcast, payload)
}

func (rt *RawTransport) Recv(ctx context.Context) (Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-rt.closed:
			return Frame{}, ErrClosed
		case pkt, ok := <-rt.source.Packets():
			if !ok {
				return Frame{}, ErrClosed
			}
			ethLayer := pkt.Layer(layers.LayerTypeEthernet)
			if ethLayer == nil {
				continue
			}
			eth, _ := ethLayer.(*layers.Ethernet)
			if eth == nil || uint16(eth.EthernetType) != EtherType {
				continue
			}
			return Frame{
				SrcMAC:  append(net.HardwareAddr(nil), eth.SrcMAC...),
				DstMAC:  append(net.HardwareAddr(nil), eth.DstMAC...),
				Payload: append([]byte(nil), eth.Payload...),
			}, nil
		}
	}
}

func (rt *RawTransport) Close() error {
	rt.closeOnce.Do(func() {
		close(rt.closed)
		rt.handle.Close()
	})
	return nil
}

var _ Transport = (*RawTransport)(nil)
