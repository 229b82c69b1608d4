// Package tunnel wraps the point-to-point virtual IP interface the daemon
// reads application datagrams from and writes delivered/forwarded
// datagrams back to.
package tunnel

import (
	"io"

	"github.com/songgao/water"
)

// Device is the capability the rest of the daemon depends on, so a fake
// in-memory device can stand in for tests without a real TUN interface.
type Device interface {
	io.ReadWriteCloser
	Name() string
}

// realDevice adapts water.Interface to Device.
type realDevice struct {
	*water.Interface
}

func (d *realDevice) Name() string { return d.Interface.Name() }

// Open creates (or attaches to) a TUN interface named ifaceName. The kernel
// assigns the concrete device name unless the platform honors the
// requested one; callers should use the returned Device's Name().
func Open(ifaceName string) (Device, error) {
	cfg := water.Config{DeviceType: water.TUN}
	cfg.Name = ifaceName
	iface, err := water.New(cfg)
	if err != nil {
		return nil, err
	}
	return &realDevice{Interface: iface}, nil
}
