package neighbor

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/MOACChain/MoacLib/log"

	"github.com/dugdmitry/adhoc-routing/codec"
	"github.com/dugdmitry/adhoc-routing/metrics"
	"github.com/dugdmitry/adhoc-routing/transport"
)

// Advertiser periodically broadcasts this node's HELLO beacon. It is a
// typed long-lived task with an explicit Stop signal and a join at
// shutdown, composed rather than inherited.
type Advertiser struct {
	nodeID   uint32
	ipv4     net.IP
	ipv6     net.IP
	interval time.Duration
	tx       transport.Transport

	txCount uint32 // monotonic, bumped with atomic.AddUint32

	stop chan struct{}
	done chan struct{}
}

// NewAdvertiser builds an Advertiser for this node's identity and bound
// addresses; it does not start running until Start is called.
func NewAdvertiser(nodeID uint32, ipv4, ipv6 net.IP, interval time.Duration, tx transport.Transport) *Advertiser {
	return &Advertiser{
		nodeID:   nodeID,
		ipv4:     ipv4,
		ipv6:     ipv6,
		interval: interval,
		tx:       tx,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the periodic beacon loop in its own goroutine.
func (a *Advertiser) Start() {
	go a.loop()
}

func (a *Advertiser) loop() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.beacon()
		}
	}
}

func (a *Advertiser) beacon() {
	hello := &codec.HelloHeader{
		NodeID:  a.nodeID,
		TxCount: atomic.AddUint32(&a.txCount, 1),
		IPv4:    a.ipv4,
		IPv6:    a.ipv6,
	}
	buf, err := codec.Encode(hello)
	if err != nil {
		log.Error("neighbor: encode HELLO", "err", err)
		return
	}
	if err := a.tx.SendBroadcast(buf); err != nil {
		log.Debug("neighbor: send HELLO", "err", err)
		metrics.TransportSendErrors.Inc(1)
		return
	}
	metrics.HelloSent.Inc(1)
}

// Stop signals the loop to exit and waits for it to finish.
func (a *Advertiser) Stop() {
	close(a.stop)
	<-a.done
}
