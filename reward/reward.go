// Package reward implements the two-sided reward feedback loop: emitting
// REWARD messages for observed forward progress, and collecting the
// RewardPending records that turn a peer's REWARD (or its timeout) into a
// routing-table update.
package reward

import (
	"fmt"
	"net"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/MOACChain/MoacLib/log"

	"github.com/dugdmitry/adhoc-routing/codec"
	"github.com/dugdmitry/adhoc-routing/metrics"
	"github.com/dugdmitry/adhoc-routing/routing"
	"github.com/dugdmitry/adhoc-routing/transport"
)

// pendingRecord is the value stored per (msg_hash, neighbor) awaiting a
// downstream REWARD.
type pendingRecord struct {
	Dst      net.IP
	Neighbor net.HardwareAddr
	// Answered marks a record consumed by HandleReward, whose removal is
	// not a wait timeout.
	Answered bool
}

// Manager owns the wait-side RewardPending set and knows how to compute the
// send-side forward-progress reward. It applies learned outcomes directly
// to the routing table it is constructed with — the routing table is the
// single serialization point the reward loop feeds into.
type Manager struct {
	table            *routing.Table
	tx               transport.Transport
	hopRewardTimeout float64

	pending *gocache.Cache
}

// New builds a reward manager. wait is REWARD_WAIT; on expiry without a
// matching REWARD, hopRewardTimeout is applied to the pending (dst,
// neighbor) pair.
func New(table *routing.Table, tx transport.Transport, wait time.Duration, hopRewardTimeout float64) *Manager {
	m := &Manager{
		table:            table,
		tx:               tx,
		hopRewardTimeout: hopRewardTimeout,
		pending:          gocache.New(wait, wait/2),
	}
	m.pending.OnEvicted(func(key string, item interface{}) {
		rec := item.(pendingRecord)
		if rec.Answered {
			return
		}
		metrics.RewardTimeouts.Inc(1)
		m.table.Update(rec.Dst, rec.Neighbor, m.hopRewardTimeout)
		log.Debugf("reward: wait timeout dst=%s neighbor=%s", rec.Dst, rec.Neighbor)
	})
	return m
}

func key(msgHash uint32, neighbor net.HardwareAddr) string {
	return fmt.Sprintf("%d/%s", msgHash, neighbor.String())
}

// OpenWait registers a RewardPending entry for a unicast we have just
// forwarded to neighbor on dst's behalf, awaiting a downstream REWARD keyed
// by msgHash.
func (m *Manager) OpenWait(msgHash uint32, dst net.IP, neighbor net.HardwareAddr) {
	m.pending.SetDefault(key(msgHash, neighbor), pendingRecord{Dst: dst, Neighbor: neighbor})
}

// HandleReward applies an inbound REWARD to the matching RewardPending
// entry, if any, and cancels its timeout.
func (m *Manager) HandleReward(h *codec.RewardHeader, dst net.IP) {
	k := key(h.MsgHash, h.NeighborMAC)
	if _, ok := m.pending.Get(k); !ok {
		// No matching wait record — still a legitimate observation
		// (the wait may already have timed out and been applied), so
		// the reward is still folded into the table.
		metrics.RewardsReceived.Inc(1)
		m.table.Update(dst, h.NeighborMAC, float64(h.RewardValue))
		return
	}
	// go-cache runs OnEvicted on Delete as well as on expiry; mark the
	// record answered first so its removal is not applied as a timeout.
	m.pending.Set(k, pendingRecord{Answered: true}, gocache.NoExpiration)
	m.pending.Delete(k)
	metrics.RewardsReceived.Inc(1)
	m.table.Update(dst, h.NeighborMAC, float64(h.RewardValue))
}

// EmitForward sends a REWARD message backwards to prevHop attributing a
// forwarding decision to neighbor, scaled by 1/(hopCount+1) as specified
// for an intermediate node that has a route to the destination.
func (m *Manager) EmitForward(prevHop net.HardwareAddr, msgHash uint32, neighbor net.HardwareAddr, hopCount int) error {
	value := 1.0 / float64(hopCount+1)
	h := &codec.RewardHeader{
		RewardValue: float32(value),
		MsgHash:     msgHash,
		NeighborMAC: neighbor,
	}
	buf, err := codec.Encode(h)
	if err != nil {
		return err
	}
	if err := m.tx.Send(prevHop, buf); err != nil {
		metrics.TransportSendErrors.Inc(1)
		return err
	}
	metrics.RewardsEmitted.Inc(1)
	return nil
}

// PendingCount reports the number of RewardPending records currently open.
func (m *Manager) PendingCount() int {
	return m.pending.ItemCount()
}

