// Package metrics exposes the daemon's counters and gauges through
// rcrowley/go-metrics.
package metrics

import gometrics "github.com/rcrowley/go-metrics"

// Registry is the process-wide metrics registry. A single instance is
// shared by every component; apart from the virtual transport's in-process
// segment bus, none of them own process-global state besides this registry.
var Registry = gometrics.NewRegistry()

func counter(name string) gometrics.Counter {
	return gometrics.GetOrRegisterCounter(name, Registry)
}

func gauge(name string) gometrics.Gauge {
	return gometrics.GetOrRegisterGauge(name, Registry)
}

var (
	FramesDropped       = counter("adhoc/frames_dropped")
	MalformedHeaders    = counter("adhoc/malformed_headers")
	UnknownKinds        = counter("adhoc/unknown_kinds")
	HelloSent           = counter("adhoc/hello_sent")
	HelloReceived       = counter("adhoc/hello_received")
	RREQSent            = counter("adhoc/rreq_sent")
	RREQForwarded       = counter("adhoc/rreq_forwarded")
	RREQDuplicate       = counter("adhoc/rreq_duplicate")
	RREPSent            = counter("adhoc/rrep_sent")
	PendingQueueDropped = counter("adhoc/pending_queue_dropped")
	PendingTimeouts     = counter("adhoc/pending_timeouts")
	ArqRetries          = counter("adhoc/arq_retries")
	ArqExhausted        = counter("adhoc/arq_exhausted")
	ArqAcked            = counter("adhoc/arq_acked")
	DuplicateDelivery   = counter("adhoc/duplicate_delivery_suppressed")
	RewardsEmitted      = counter("adhoc/rewards_emitted")
	RewardsReceived     = counter("adhoc/rewards_received")
	RewardTimeouts      = counter("adhoc/reward_timeouts")
	TransportSendErrors = counter("adhoc/transport_send_errors")

	NeighborCount   = gauge("adhoc/neighbor_count")
	RouteEntryCount = gauge("adhoc/route_entry_count")
	PendingRouteCount = gauge("adhoc/pending_route_count")
)
