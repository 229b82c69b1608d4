// Package codec implements the wire format of the adhoc-routing protocol
// family: a closed set of little-endian, fixed-layout headers distinguished
// by a one-byte type tag, plus whatever variable-length tail each kind
// carries.
package codec

import (
	"encoding/binary"
	"errors"
	"net"
)

// Kind is the one-byte type tag every header leads with.
type Kind byte

const (
	KindHello Kind = iota + 1
	KindBroadcast
	KindUnicast
	KindReliableData
	KindAck
	KindReward
	KindRREQv4
	KindRREQv6
	KindRREPv4
	KindRREPv6
)

// HELLO carries two optional IP suffixes; their presence is signalled by
// flag bits above the low nibble of the type tag rather than by a separate
// kind per combination.
const (
	kindMask    = 0x0F
	helloFlagV4 = 0x10
	helloFlagV6 = 0x20
)

var (
	// ErrMalformedHeader is returned when a buffer is shorter than the
	// minimum length its kind requires.
	ErrMalformedHeader = errors.New("codec: malformed header")
	// ErrUnknownKind is returned for a type tag this codec does not know.
	ErrUnknownKind = errors.New("codec: unknown kind")
)

// Header is implemented by every decoded wire message.
type Header interface {
	Kind() Kind
	MarshalBinary() ([]byte, error)
}

const (
	macLen  = 6
	ipv4Len = 4
	ipv6Len = 16
)

// HelloHeader advertises this node's presence and its bound IP addresses.
type HelloHeader struct {
	NodeID  uint32
	TxCount uint32
	IPv4    net.IP // nil if not advertised, else 4-byte form
	IPv6    net.IP // nil if not advertised, else 16-byte form
}

func (h *HelloHeader) Kind() Kind { return KindHello }

func (h *HelloHeader) MarshalBinary() ([]byte, error) {
	tag := byte(KindHello)
	hasV4 := len(h.IPv4) == ipv4Len
	hasV6 := len(h.IPv6) == ipv6Len
	if hasV4 {
		tag |= helloFlagV4
	}
	if hasV6 {
		tag |= helloFlagV6
	}
	buf := make([]byte, 1+4+4, 1+4+4+ipv4Len+ipv6Len)
	buf[0] = tag
	binary.LittleEndian.PutUint32(buf[1:5], h.NodeID)
	binary.LittleEndian.PutUint32(buf[5:9], h.TxCount)
	if hasV4 {
		buf = append(buf, h.IPv4.To4()...)
	}
	if hasV6 {
		buf = append(buf, h.IPv6.To16()...)
	}
	return buf, nil
}

func decodeHello(tag byte, buf []byte) (*HelloHeader, error) {
	const minLen = 1 + 4 + 4
	if len(buf) < minLen {
		return nil, ErrMalformedHeader
	}
	h := &HelloHeader{
		NodeID:  binary.LittleEndian.Uint32(buf[1:5]),
		TxCount: binary.LittleEndian.Uint32(buf[5:9]),
	}
	rest := buf[minLen:]
	if tag&helloFlagV4 != 0 {
		if len(rest) < ipv4Len {
			return nil, ErrMalformedHeader
		}
		h.IPv4 = net.IP(append([]byte(nil), rest[:ipv4Len]...))
		rest = rest[ipv4Len:]
	}
	if tag&helloFlagV6 != 0 {
		if len(rest) < ipv6Len {
			return nil, ErrMalformedHeader
		}
		h.IPv6 = net.IP(append([]byte(nil), rest[:ipv6Len]...))
	}
	return h, nil
}

// BroadcastHeader wraps a flooded IP datagram during route discovery-adjacent
// broadcasts (HELLO uses its own kind; this is the generic broadcast tail
// used by RREQ rebroadcasts at the transport framing level is represented by
// the RREQ headers themselves — BroadcastHeader exists for payload-bearing
// broadcasts such as the original network-wide flood primitive).
type BroadcastHeader struct {
	BroadcastID uint32
	TTL         byte
	SrcNodeID   uint32
	Payload     []byte
}

func (h *BroadcastHeader) Kind() Kind { return KindBroadcast }

func (h *BroadcastHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 1+4+1+4+len(h.Payload))
	buf[0] = byte(KindBroadcast)
	binary.LittleEndian.PutUint32(buf[1:5], h.BroadcastID)
	buf[5] = h.TTL
	binary.LittleEndian.PutUint32(buf[6:10], h.SrcNodeID)
	copy(buf[10:], h.Payload)
	return buf, nil
}

func decodeBroadcast(buf []byte) (*BroadcastHeader, error) {
	const minLen = 1 + 4 + 1 + 4
	if len(buf) < minLen {
		return nil, ErrMalformedHeader
	}
	h := &BroadcastHeader{
		BroadcastID: binary.LittleEndian.Uint32(buf[1:5]),
		TTL:         buf[5],
		SrcNodeID:   binary.LittleEndian.Uint32(buf[6:10]),
	}
	if len(buf) > minLen {
		h.Payload = append([]byte(nil), buf[minLen:]...)
	}
	return h, nil
}

// UnicastHeader carries a single-hop-addressed IP datagram between
// neighbors. TTL is carried on the wire but not interpreted: the data
// handler stamps every frame it sends with the same value, and forwarders
// neither check nor change it.
type UnicastHeader struct {
	TTL     byte
	DstMAC  net.HardwareAddr
	SrcMAC  net.HardwareAddr
	Payload []byte
}

func (h *UnicastHeader) Kind() Kind { return KindUnicast }

func (h *UnicastHeader) MarshalBinary() ([]byte, error) {
	if len(h.DstMAC) != macLen || len(h.SrcMAC) != macLen {
		return nil, ErrMalformedHeader
	}
	buf := make([]byte, 1+1+macLen+macLen+len(h.Payload))
	buf[0] = byte(KindUnicast)
	buf[1] = h.TTL
	copy(buf[2:2+macLen], h.DstMAC)
	copy(buf[2+macLen:2+2*macLen], h.SrcMAC)
	copy(buf[2+2*macLen:], h.Payload)
	return buf, nil
}

func decodeUnicast(buf []byte) (*UnicastHeader, error) {
	const minLen = 1 + 1 + macLen + macLen
	if len(buf) < minLen {
		return nil, ErrMalformedHeader
	}
	h := &UnicastHeader{
		TTL:    buf[1],
		DstMAC: net.HardwareAddr(append([]byte(nil), buf[2:2+macLen]...)),
		SrcMAC: net.HardwareAddr(append([]byte(nil), buf[2+macLen:2+2*macLen]...)),
	}
	if len(buf) > minLen {
		h.Payload = append([]byte(nil), buf[minLen:]...)
	}
	return h, nil
}

// ReliableDataHeader is the ARQ-tracked counterpart of UnicastHeader.
type ReliableDataHeader struct {
	MsgID   uint32
	DstMAC  net.HardwareAddr
	SrcMAC  net.HardwareAddr
	Payload []byte
}

func (h *ReliableDataHeader) Kind() Kind { return KindReliableData }

func (h *ReliableDataHeader) MarshalBinary() ([]byte, error) {
	if len(h.DstMAC) != macLen || len(h.SrcMAC) != macLen {
		return nil, ErrMalformedHeader
	}
	buf := make([]byte, 1+4+macLen+macLen+len(h.Payload))
	buf[0] = byte(KindReliableData)
	binary.LittleEndian.PutUint32(buf[1:5], h.MsgID)
	copy(buf[5:5+macLen], h.DstMAC)
	copy(buf[5+macLen:5+2*macLen], h.SrcMAC)
	copy(buf[5+2*macLen:], h.Payload)
	return buf, nil
}

func decodeReliableData(buf []byte) (*ReliableDataHeader, error) {
	const minLen = 1 + 4 + macLen + macLen
	if len(buf) < minLen {
		return nil, ErrMalformedHeader
	}
	h := &ReliableDataHeader{
		MsgID:  binary.LittleEndian.Uint32(buf[1:5]),
		DstMAC: net.HardwareAddr(append([]byte(nil), buf[5:5+macLen]...)),
		SrcMAC: net.HardwareAddr(append([]byte(nil), buf[5+macLen:5+2*macLen]...)),
	}
	if len(buf) > minLen {
		h.Payload = append([]byte(nil), buf[minLen:]...)
	}
	return h, nil
}

// AckHeader acknowledges a ReliableDataHeader by msg_id.
type AckHeader struct {
	MsgID uint32
	TxMAC net.HardwareAddr
}

func (h *AckHeader) Kind() Kind { return KindAck }

func (h *AckHeader) MarshalBinary() ([]byte, error) {
	if len(h.TxMAC) != macLen {
		return nil, ErrMalformedHeader
	}
	buf := make([]byte, 1+4+macLen)
	buf[0] = byte(KindAck)
	binary.LittleEndian.PutUint32(buf[1:5], h.MsgID)
	copy(buf[5:5+macLen], h.TxMAC)
	return buf, nil
}

func decodeAck(buf []byte) (*AckHeader, error) {
	const minLen = 1 + 4 + macLen
	if len(buf) < minLen {
		return nil, ErrMalformedHeader
	}
	return &AckHeader{
		MsgID: binary.LittleEndian.Uint32(buf[1:5]),
		TxMAC: net.HardwareAddr(append([]byte(nil), buf[5:5+macLen]...)),
	}, nil
}

// RewardHeader feeds a scalar reward back to an upstream node for a
// forwarding decision it made on NeighborMAC's behalf.
type RewardHeader struct {
	RewardValue float32
	MsgHash     uint32
	NeighborMAC net.HardwareAddr
}

func (h *RewardHeader) Kind() Kind { return KindReward }

func (h *RewardHeader) MarshalBinary() ([]byte, error) {
	if len(h.NeighborMAC) != macLen {
		return nil, ErrMalformedHeader
	}
	buf := make([]byte, 1+4+4+macLen)
	buf[0] = byte(KindReward)
	binary.LittleEndian.PutUint32(buf[1:5], float32bits(h.RewardValue))
	binary.LittleEndian.PutUint32(buf[5:9], h.MsgHash)
	copy(buf[9:9+macLen], h.NeighborMAC)
	return buf, nil
}

func decodeReward(buf []byte) (*RewardHeader, error) {
	const minLen = 1 + 4 + 4 + macLen
	if len(buf) < minLen {
		return nil, ErrMalformedHeader
	}
	return &RewardHeader{
		RewardValue: float32frombits(binary.LittleEndian.Uint32(buf[1:5])),
		MsgHash:     binary.LittleEndian.Uint32(buf[5:9]),
		NeighborMAC: net.HardwareAddr(append([]byte(nil), buf[9:9+macLen]...)),
	}, nil
}

// RREQHeader is a reactive route request; the V6 flag (carried implicitly
// by Kind) selects 4- or 16-byte IP encoding.
type RREQHeader struct {
	V6       bool
	HopCount byte
	DstIP    net.IP
	SrcIP    net.IP
	RREQID   uint32
	BcastID  uint32
}

func (h *RREQHeader) Kind() Kind {
	if h.V6 {
		return KindRREQv6
	}
	return KindRREQv4
}

func (h *RREQHeader) MarshalBinary() ([]byte, error) {
	ipLen := ipv4Len
	dst, src := h.DstIP.To4(), h.SrcIP.To4()
	if h.V6 {
		ipLen = ipv6Len
		dst, src = h.DstIP.To16(), h.SrcIP.To16()
	}
	if len(dst) != ipLen || len(src) != ipLen {
		return nil, ErrMalformedHeader
	}
	buf := make([]byte, 1+1+ipLen+ipLen+4+4)
	buf[0] = byte(h.Kind())
	buf[1] = h.HopCount
	off := 2
	copy(buf[off:off+ipLen], dst)
	off += ipLen
	copy(buf[off:off+ipLen], src)
	off += ipLen
	binary.LittleEndian.PutUint32(buf[off:off+4], h.RREQID)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], h.BcastID)
	return buf, nil
}

func decodeRREQ(v6 bool, buf []byte) (*RREQHeader, error) {
	ipLen := ipv4Len
	if v6 {
		ipLen = ipv6Len
	}
	minLen := 1 + 1 + ipLen + ipLen + 4 + 4
	if len(buf) < minLen {
		return nil, ErrMalformedHeader
	}
	off := 2
	dst := append([]byte(nil), buf[off:off+ipLen]...)
	off += ipLen
	src := append([]byte(nil), buf[off:off+ipLen]...)
	off += ipLen
	rreqID := binary.LittleEndian.Uint32(buf[off : off+4])
	off += 4
	bcastID := binary.LittleEndian.Uint32(buf[off : off+4])
	return &RREQHeader{
		V6:       v6,
		HopCount: buf[1],
		DstIP:    net.IP(dst),
		SrcIP:    net.IP(src),
		RREQID:   rreqID,
		BcastID:  bcastID,
	}, nil
}

// RREPHeader is the reactive route reply, unicast back along the reverse
// path that RREQ forwarding installed.
type RREPHeader struct {
	V6       bool
	HopCount byte
	DstIP    net.IP
	SrcIP    net.IP
	TxMAC    net.HardwareAddr
}

func (h *RREPHeader) Kind() Kind {
	if h.V6 {
		return KindRREPv6
	}
	return KindRREPv4
}

func (h *RREPHeader) MarshalBinary() ([]byte, error) {
	ipLen := ipv4Len
	dst, src := h.DstIP.To4(), h.SrcIP.To4()
	if h.V6 {
		ipLen = ipv6Len
		dst, src = h.DstIP.To16(), h.SrcIP.To16()
	}
	if len(dst) != ipLen || len(src) != ipLen || len(h.TxMAC) != macLen {
		return nil, ErrMalformedHeader
	}
	buf := make([]byte, 1+1+ipLen+ipLen+macLen)
	buf[0] = byte(h.Kind())
	buf[1] = h.HopCount
	off := 2
	copy(buf[off:off+ipLen], dst)
	off += ipLen
	copy(buf[off:off+ipLen], src)
	off += ipLen
	copy(buf[off:off+macLen], h.TxMAC)
	return buf, nil
}

func decodeRREP(v6 bool, buf []byte) (*RREPHeader, error) {
	ipLen := ipv4Len
	if v6 {
		ipLen = ipv6Len
	}
	minLen := 1 + 1 + ipLen + ipLen + macLen
	if len(buf) < minLen {
		return nil, ErrMalformedHeader
	}
	off := 2
	dst := append([]byte(nil), buf[off:off+ipLen]...)
	off += ipLen
	src := append([]byte(nil), buf[off:off+ipLen]...)
	off += ipLen
	mac := append([]byte(nil), buf[off:off+macLen]...)
	return &RREPHeader{
		V6:       v6,
		HopCount: buf[1],
		DstIP:    net.IP(dst),
		SrcIP:    net.IP(src),
		TxMAC:    net.HardwareAddr(mac),
	}, nil
}

// Decode dispatches on the type tag in buf[0]. Truncated buffers fail with
// ErrMalformedHeader; unrecognized tags fail with ErrUnknownKind. It never
// panics on arbitrary input.
func Decode(buf []byte) (Header, error) {
	if len(buf) < 1 {
		return nil, ErrMalformedHeader
	}
	tag := buf[0]
	switch Kind(tag & kindMask) {
	case KindHello:
		return decodeHello(tag, buf)
	case KindBroadcast:
		return decodeBroadcast(buf)
	case KindUnicast:
		return decodeUnicast(buf)
	case KindReliableData:
		return decodeReliableData(buf)
	case KindAck:
		return decodeAck(buf)
	case KindReward:
		return decodeReward(buf)
	case KindRREQv4:
		return decodeRREQ(false, buf)
	case KindRREQv6:
		return decodeRREQ(true, buf)
	case KindRREPv4:
		return decodeRREP(false, buf)
	case KindRREPv6:
		return decodeRREP(true, buf)
	default:
		return nil, ErrUnknownKind
	}
}

// Encode is a thin convenience wrapper so callers needn't remember which
// headers can fail to marshal.
func Encode(h Header) ([]byte, error) {
	return h.MarshalBinary()
}
