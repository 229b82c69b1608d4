// Package msgid allocates the message identifiers the protocol carries on
// the wire as plain uint32s (msg_id, reused as a REWARD's msg_hash) by
// hashing {src ip, dst ip, monotonic counter} rather than sending the bare
// counter value. The hash is deterministic, so once the counter starts over
// after a restart the same (src, dst) pair yields the same ids again.
// RREQ ids do not come from this package.
package msgid

import (
	"encoding/binary"
	"net"

	"golang.org/x/crypto/blake2b"
)

// Hash32 derives a 32-bit identifier from src, dst and a monotonically
// increasing counter. The low 4 bytes of a blake2b-256 digest are used, so
// two different inputs can still produce the same identifier.
func Hash32(src, dst net.IP, counter uint32) uint32 {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // only fails for an invalid key, and we pass none
	}
	h.Write(src)
	h.Write(dst)
	var c [4]byte
	binary.LittleEndian.PutUint32(c[:], counter)
	h.Write(c[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint32(sum[:4])
}
