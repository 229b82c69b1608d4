// Package seq provides the monotonic atomic sequence counters used for
// rreq_id, broadcast_id, and reliable msg_id allocation.
package seq

import "sync/atomic"

// Counter is a process-local monotonically increasing uint32 generator.
// Each protocol identifier space (RREQ ids, broadcast ids, msg ids) owns its
// own Counter rather than sharing one, so that none of them can starve or
// interfere with another's id space.
type Counter struct {
	v uint32
}

// Next returns the next value in the sequence, starting at 1 (0 is reserved
// so a zero-valued id always reads as "unset").
func (c *Counter) Next() uint32 {
	return atomic.AddUint32(&c.v, 1)
}
