package transport

import (
	"net"
	"os"
)

// LocalEndpoint is the filesystem-path-addressed duplex byte stream used
// for operator inspection. It is a thin wrapper over a Unix domain socket
// listener; it is never on the routing hot path.
type LocalEndpoint struct {
	path     string
	listener *net.UnixListener
}

// ListenLocalEndpoint removes any stale socket file at path and starts
// listening on it.
func ListenLocalEndpoint(path string) (*LocalEndpoint, error) {
	_ = os.Remove(path)
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	l, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	return &LocalEndpoint{path: path, listener: l}, nil
}

// Accept blocks for the next operator connection.
func (e *LocalEndpoint) Accept() (net.Conn, error) {
	return e.listener.Accept()
}

// Close stops accepting connections and removes the socket file.
func (e *LocalEndpoint) Close() error {
	err := e.listener.Close()
	_ = os.Remove(e.path)
	return err
}

// Dial connects to a LocalEndpoint from the client side (the CLI's "status"
// command and localipc.RunConsole).
func Dial(path string) (net.Conn, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, err
	}
	return net.DialUnix("unix", nil, addr)
}
