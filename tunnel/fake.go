package tunnel

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Read/Write on a FakeDevice once Close has run.
var ErrClosed = errors.New("tunnel: closed")

// FakeDevice is an in-memory Device for tests: writes to In are read back
// by Read, and bytes passed to Write are recorded for assertions via
// Written.
type FakeDevice struct {
	name string

	mu     sync.Mutex
	closed bool
	out    [][]byte

	In chan []byte
}

// NewFakeDevice builds a ready-to-use fake tunnel device.
func NewFakeDevice(name string) *FakeDevice {
	return &FakeDevice{name: name, In: make(chan []byte, 64)}
}

func (f *FakeDevice) Name() string { return f.name }

// Read blocks until a datagram is pushed onto In, or the device is closed.
func (f *FakeDevice) Read(p []byte) (int, error) {
	buf, ok := <-f.In
	if !ok {
		return 0, ErrClosed
	}
	n := copy(p, buf)
	return n, nil
}

// Write records the datagram for later inspection via Written().
func (f *FakeDevice) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	f.out = append(f.out, append([]byte(nil), p...))
	return len(p), nil
}

// Written returns every datagram written so far, in order.
func (f *FakeDevice) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.out))
	copy(out, f.out)
	return out
}

func (f *FakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.In)
	return nil
}

var _ Device = (*FakeDevice)(nil)
