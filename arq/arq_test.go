package arq

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dugdmitry/adhoc-routing/codec"
	"github.com/dugdmitry/adhoc-routing/transport"
)

func recvCtx(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func TestAckCancelsRecordAndRewardsPositively(t *testing.T) {
	segment := t.Name()
	macA := mustMAC("aa:aa:aa:aa:aa:01")
	macB := mustMAC("aa:aa:aa:aa:aa:02")
	txA := transport.NewVirtualTransport(segment, macA)
	transport.NewVirtualTransport(segment, macB)

	var rewards []float64
	m := New(5, time.Hour, -10, txA, func(n net.HardwareAddr, r float64) {
		rewards = append(rewards, r)
	})

	require.NoError(t, m.Send(1, macB, macA, []byte("hi")))
	require.Equal(t, 1, m.PendingCount())

	m.HandleAck(&codec.AckHeader{MsgID: 1, TxMAC: macB})
	require.Equal(t, 0, m.PendingCount())
	require.Equal(t, []float64{1.0}, rewards)

	// A second, stray ACK for the same id must be a no-op.
	m.HandleAck(&codec.AckHeader{MsgID: 1, TxMAC: macB})
	require.Equal(t, []float64{1.0}, rewards)
}

func TestSweepRetransmitsThenExhausts(t *testing.T) {
	segment := t.Name()
	macA := mustMAC("aa:aa:aa:aa:aa:01")
	macB := mustMAC("aa:aa:aa:aa:aa:02")
	txA := transport.NewVirtualTransport(segment, macA)
	rxB := transport.NewVirtualTransport(segment, macB)

	var rewards []float64
	m := New(2, time.Millisecond, -10, txA, func(n net.HardwareAddr, r float64) {
		rewards = append(rewards, r)
	})
	require.NoError(t, m.Send(42, macB, macA, []byte("hi")))

	deliveries := 0
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) && m.PendingCount() > 0 {
		m.Sweep(time.Now())
		ctx, cancel := recvCtx(5 * time.Millisecond)
		if _, err := rxB.Recv(ctx); err == nil {
			deliveries++
		}
		cancel()
		time.Sleep(2 * time.Millisecond)
	}

	require.Equal(t, 0, m.PendingCount())
	require.Equal(t, []float64{-10}, rewards)
	// The original send plus 2 retries put 3 frames on the wire toward B;
	// this checks only that B observed at least one of them.
	require.GreaterOrEqual(t, deliveries, 1)
}

func TestHandleReliableDataSuppressesDuplicates(t *testing.T) {
	segment := t.Name()
	macA := mustMAC("aa:aa:aa:aa:aa:01")
	macB := mustMAC("aa:aa:aa:aa:aa:02")
	txA := transport.NewVirtualTransport(segment, macA)
	transport.NewVirtualTransport(segment, macB)

	m := New(5, time.Hour, -10, txA, nil)
	h := &codec.ReliableDataHeader{MsgID: 9, DstMAC: macA, SrcMAC: macB, Payload: []byte("x")}

	require.True(t, m.HandleReliableData(macB, h))
	require.False(t, m.HandleReliableData(macB, h))
}
