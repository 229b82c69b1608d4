// Package daemon assembles every component into one running process:
// tunnel and transport bring-up, worker startup, and graceful (or
// watchdog-forced) shutdown.
package daemon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MOACChain/MoacLib/log"

	"github.com/dugdmitry/adhoc-routing/arq"
	"github.com/dugdmitry/adhoc-routing/config"
	"github.com/dugdmitry/adhoc-routing/datahandler"
	"github.com/dugdmitry/adhoc-routing/localipc"
	"github.com/dugdmitry/adhoc-routing/neighbor"
	"github.com/dugdmitry/adhoc-routing/pathdiscovery"
	"github.com/dugdmitry/adhoc-routing/reward"
	"github.com/dugdmitry/adhoc-routing/routing"
	"github.com/dugdmitry/adhoc-routing/transport"
	"github.com/dugdmitry/adhoc-routing/tunnel"
)

// maxWorkerRestarts bounds how many times the lifecycle manager will
// restart a tunnel/physical reader before giving up and exiting the whole
// daemon non-zero.
const maxWorkerRestarts = 5

// Daemon owns every long-lived resource and worker the routing stack needs.
type Daemon struct {
	cfg *config.Config

	tun tunnel.Device
	tx  transport.Transport

	neighbors *neighbor.Table
	routes    *routing.Table
	paths     *pathdiscovery.Manager
	reliable  *arq.Manager
	rewards   *reward.Manager
	handler   *datahandler.Handler

	advertiser    *neighbor.Advertiser
	sweeper       *pathdiscovery.Sweeper
	retransmitter *arq.Retransmitter
	ipc           *localipc.Server
	endpoint      *transport.LocalEndpoint

	shutdown int32 // atomic flag, checked after every blocking wait
	stopTun  chan struct{}
	stopPhy  chan struct{}
	doneTun  chan struct{}
	donePhy  chan struct{}

	fatal     chan struct{} // closed once a worker exhausts its restart budget
	fatalOnce sync.Once
	fatalMu   sync.Mutex
	fatalErr  error
}

// New assembles a Daemon from cfg, an already-open tunnel device, a bound
// transport, and this node's identity. Besides building the components, it
// starts listening on the local IPC endpoint at cfg.LocalIPCPath.
func New(cfg *config.Config, tun tunnel.Device, tx transport.Transport, nodeID uint32, localIP4, localIP6 net.IP) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	neighbors := neighbor.NewTable(cfg.NeighborTTL)
	routes := routing.NewTable(neighbors, cfg.Alpha, cfg.Tau, cfg.VInit)
	paths := pathdiscovery.New(tx.LocalMAC(), localIP4, localIP6, cfg.PendingQueueMax, cfg.RREQDeadline, routes, tx, nil)
	rewards := reward.New(routes, tx, cfg.RewardWait, cfg.HopRewardTimeout)

	reliable := arq.New(cfg.ArqMaxRetries, cfg.ArqRetryInterval, cfg.ArqFailReward, tx, func(n net.HardwareAddr, r float64) {
		if neigh, ok := neighbors.Get(n); ok {
			dst := neigh.IPv4
			if dst == nil {
				dst = neigh.IPv6
			}
			if dst != nil {
				routes.Update(dst, n, r)
			}
		}
	})

	handler := datahandler.New(datahandler.Config{
		LocalMAC:              tx.LocalMAC(),
		LocalIP4:              localIP4,
		LocalIP6:              localIP6,
		ReliableSizeThreshold: cfg.ReliableSizeThreshold,
		Tunnel:                tun,
		Transport:             tx,
		Neighbors:             neighbors,
		Routes:                routes,
		Paths:                 paths,
		Reliable:              reliable,
		Rewards:               rewards,
	})
	paths.SetOnResolved(handler.HandleResolved)

	endpoint, err := transport.ListenLocalEndpoint(cfg.LocalIPCPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: listen local endpoint: %w", err)
	}

	d := &Daemon{
		cfg:           cfg,
		tun:           tun,
		tx:            tx,
		neighbors:     neighbors,
		routes:        routes,
		paths:         paths,
		reliable:      reliable,
		rewards:       rewards,
		handler:       handler,
		advertiser:    neighbor.NewAdvertiser(nodeID, localIP4, localIP6, cfg.HelloInterval, tx),
		sweeper:       pathdiscovery.NewSweeper(paths, cfg.RREQDeadline),
		retransmitter: arq.NewRetransmitter(reliable, cfg.ArqRetryInterval),
		endpoint:      endpoint,
		stopTun:       make(chan struct{}),
		stopPhy:       make(chan struct{}),
		doneTun:       make(chan struct{}),
		donePhy:       make(chan struct{}),
		fatal:         make(chan struct{}),
	}
	d.ipc = localipc.New(endpoint, neighbors, routes, handler)
	return d, nil
}

// Start brings every worker up: C, F, G, H run as periodic tasks; the
// tunnel and physical readers run as long-lived loops; the init order is
// already satisfied by the caller having opened the tunnel and bound the
// transport before calling New.
func (d *Daemon) Start() {
	d.advertiser.Start()
	d.sweeper.Start()
	d.retransmitter.Start()
	d.ipc.Start()
	go d.readTunnelLoop()
	go d.readPhysicalLoop()
}

// Stop flags shutdown, closes the tunnel and the transport so the blocked
// readers return, waits for both readers to join, then stops the periodic
// workers and the IPC server.
func (d *Daemon) Stop() error {
	atomic.StoreInt32(&d.shutdown, 1)
	close(d.stopTun)
	close(d.stopPhy)
	_ = d.tun.Close()
	_ = d.tx.Close()
	<-d.doneTun
	<-d.donePhy

	d.advertiser.Stop()
	d.sweeper.Stop()
	d.retransmitter.Stop()
	d.ipc.Stop()
	return nil
}

// fail records err as the daemon's terminal cause, flags shutdown, and
// closes Done exactly once; later callers (including a second exhausted
// worker) are no-ops.
func (d *Daemon) fail(err error) {
	d.fatalOnce.Do(func() {
		d.fatalMu.Lock()
		d.fatalErr = err
		d.fatalMu.Unlock()
		atomic.StoreInt32(&d.shutdown, 1)
		close(d.fatal)
	})
}

// Done returns a channel that is closed once a worker has exhausted its
// restart budget and the daemon must be torn down and the process exited
// non-zero. It never closes on a normal Stop.
func (d *Daemon) Done() <-chan struct{} { return d.fatal }

// Err returns the error that caused Done to close, or nil if the daemon
// has not failed.
func (d *Daemon) Err() error {
	d.fatalMu.Lock()
	defer d.fatalMu.Unlock()
	return d.fatalErr
}

func (d *Daemon) readTunnelLoop() {
	defer close(d.doneTun)
	restarts := 0
	buf := make([]byte, 65536)
	for {
		if atomic.LoadInt32(&d.shutdown) == 1 {
			return
		}
		n, err := d.tun.Read(buf)
		if err != nil {
			select {
			case <-d.stopTun:
				return
			default:
			}
			restarts++
			log.Error("daemon: tunnel read error", "err", err, "restarts", restarts)
			if restarts > maxWorkerRestarts {
				log.Error("daemon: tunnel worker exhausted restarts, terminating")
				d.fail(fmt.Errorf("tunnel worker exhausted %d restarts: %w", maxWorkerRestarts, err))
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		pkt := append([]byte(nil), buf[:n]...)
		d.handler.HandleOutbound(pkt)
	}
}

func (d *Daemon) readPhysicalLoop() {
	defer close(d.donePhy)
	restarts := 0
	for {
		if atomic.LoadInt32(&d.shutdown) == 1 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		frame, err := d.tx.Recv(ctx)
		cancel()
		if err != nil {
			if err == transport.ErrClosed {
				return
			}
			if err == context.DeadlineExceeded {
				continue
			}
			restarts++
			log.Error("daemon: physical read error", "err", err, "restarts", restarts)
			if restarts > maxWorkerRestarts {
				log.Error("daemon: physical worker exhausted restarts, terminating")
				d.fail(fmt.Errorf("physical worker exhausted %d restarts: %w", maxWorkerRestarts, err))
				return
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		d.handler.HandleInboundFrame(frame)
	}
}

// Neighbors exposes a read-only view for the status CLI subcommand.
func (d *Daemon) Neighbors() []neighbor.Neighbor { return d.neighbors.Neighbors() }

// Routes exposes a read-only view for the status CLI subcommand.
func (d *Daemon) Routes() []routing.DestEntry { return d.routes.Snapshot() }
