package socket

import (
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// LinkHook sits between a channel socket and its peer. It receives each
// outbound datagram and decides how often, and when, deliver runs; not
// calling deliver drops the datagram. deliver is safe to call from
// other goroutines, which late reordered deliveries do.
type LinkHook func(buf []byte, deliver func([]byte))

type channelAddr string

func (a channelAddr) Network() string { return "mem" }
func (a channelAddr) String() string  { return string(a) }

// ChannelTransportSocket is an in-process datagram link over Go
// channels, used by tests and the local example. Its queue drops on
// overflow just like a real socket buffer.
type ChannelTransportSocket struct {
	name channelAddr
	in   chan []byte
	out  chan []byte
	hook LinkHook

	mu       sync.Mutex
	deadline time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannelPair wires two endpoints back to back with a perfect link.
func NewChannelPair() (*ChannelTransportSocket, *ChannelTransportSocket) {
	return NewImpairedChannelPair(nil, nil)
}

// NewImpairedChannelPair wires two endpoints with a LinkHook per
// direction. A nil hook leaves that direction perfect.
func NewImpairedChannelPair(aToB, bToA LinkHook) (*ChannelTransportSocket, *ChannelTransportSocket) {
	ab := make(chan []byte, 1024)
	ba := make(chan []byte, 1024)
	a := &ChannelTransportSocket{name: "mem:a", in: ba, out: ab, hook: aToB, closed: make(chan struct{})}
	b := &ChannelTransportSocket{name: "mem:b", in: ab, out: ba, hook: bToA, closed: make(chan struct{})}
	return a, b
}

func (cts *ChannelTransportSocket) Listen(addr string) error {
	return nil
}

func (cts *ChannelTransportSocket) Dial(localAddr, remoteAddr string) error {
	return nil
}

func (cts *ChannelTransportSocket) Write(buf []byte) (int, error) {
	select {
	case <-cts.closed:
		return 0, errors.New("write on closed channel socket")
	default:
	}
	b := make([]byte, len(buf))
	copy(b, buf)
	if cts.hook != nil {
		cts.hook(b, cts.deliver)
	} else {
		cts.deliver(b)
	}
	return len(buf), nil
}

func (cts *ChannelTransportSocket) deliver(b []byte) {
	select {
	case cts.out <- b:
	default:
		// queue overflow behaves like any other datagram loss
	}
}

func (cts *ChannelTransportSocket) Read(buf []byte) (int, error) {
	var timerC <-chan time.Time
	cts.mu.Lock()
	deadline := cts.deadline
	cts.mu.Unlock()
	if !deadline.IsZero() {
		wait := time.Until(deadline)
		if wait <= 0 {
			return 0, errors.New("read deadline exceeded")
		}
		timerC = time.After(wait)
	}
	select {
	case b := <-cts.in:
		return copy(buf, b), nil
	case <-timerC:
		return 0, errors.New("read deadline exceeded")
	case <-cts.closed:
		return 0, errors.New("read on closed channel socket")
	}
}

func (cts *ChannelTransportSocket) SetReadDeadline(t time.Time) error {
	cts.mu.Lock()
	cts.deadline = t
	cts.mu.Unlock()
	return nil
}

func (cts *ChannelTransportSocket) LocalAddr() net.Addr {
	return cts.name
}

func (cts *ChannelTransportSocket) Close() error {
	cts.closeOnce.Do(func() { close(cts.closed) })
	return nil
}
