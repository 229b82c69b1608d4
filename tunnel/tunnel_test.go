package tunnel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeDeviceReadWrite(t *testing.T) {
	d := NewFakeDevice("adhoc0")
	d.In <- []byte("hello")

	buf := make([]byte, 64)
	n, err := d.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))

	_, err = d.Write([]byte("world"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("world")}, d.Written())
}

func TestFakeDeviceCloseUnblocksRead(t *testing.T) {
	d := NewFakeDevice("adhoc0")
	require.NoError(t, d.Close())

	buf := make([]byte, 64)
	_, err := d.Read(buf)
	require.ErrorIs(t, err, ErrClosed)

	_, err = d.Write([]byte("x"))
	require.ErrorIs(t, err, ErrClosed)
}
