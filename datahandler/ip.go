package datahandler

import "net"

// parseIPDatagram reads just enough of a raw IP datagram's header to learn
// its source and destination addresses; the payload itself is never
// interpreted, consistent with a router's treatment of IP traffic.
func parseIPDatagram(pkt []byte) (src, dst net.IP, v6 bool, ok bool) {
	if len(pkt) < 1 {
		return nil, nil, false, false
	}
	version := pkt[0] >> 4
	switch version {
	case 4:
		if len(pkt) < 20 {
			return nil, nil, false, false
		}
		src = net.IP(append([]byte(nil), pkt[12:16]...))
		dst = net.IP(append([]byte(nil), pkt[16:20]...))
		return src, dst, false, true
	case 6:
		if len(pkt) < 40 {
			return nil, nil, true, false
		}
		src = net.IP(append([]byte(nil), pkt[8:24]...))
		dst = net.IP(append([]byte(nil), pkt[24:40]...))
		return src, dst, true, true
	default:
		return nil, nil, false, false
	}
}
