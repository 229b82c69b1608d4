package msgid

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHash32DiffersByCounter(t *testing.T) {
	src := net.ParseIP("10.0.0.1").To4()
	dst := net.ParseIP("10.0.0.2").To4()
	a := Hash32(src, dst, 1)
	b := Hash32(src, dst, 2)
	require.NotEqual(t, a, b)
}

func TestHash32Deterministic(t *testing.T) {
	src := net.ParseIP("10.0.0.1").To4()
	dst := net.ParseIP("10.0.0.2").To4()
	require.Equal(t, Hash32(src, dst, 7), Hash32(src, dst, 7))
}
