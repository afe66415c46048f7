package socket

import (
	"net"
	"time"
)

// TransportSocket is the datagram boundary the reliability engine sits
// on. Implementations promise nothing about ordering, delivery or
// integrity; everything above recovers from whatever happens below.
type TransportSocket interface {
	Listen(addr string) error
	Dial(localAddr, remoteAddr string) error
	Write(buf []byte) (int, error)
	Read(buf []byte) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	Close() error
}

// TransportSocketConstructor creates an unbound transport socket.
type TransportSocketConstructor func() TransportSocket

// NewTransportSocket returns a socket for the given network name. The
// default is UDP.
func NewTransportSocket(network string) TransportSocket {
	switch network {
	case "scion":
		return NewSCIONTransportSocket()
	default:
		return NewUDPTransportSocket()
	}
}
