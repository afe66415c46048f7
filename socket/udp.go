package socket

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// UDPTransportSocket carries datagrams over plain UDP. The conn is left
// unconnected so replies relayed through an intermediary hop are still
// readable.
type UDPTransportSocket struct {
	Conn       *net.UDPConn
	localAddr  *net.UDPAddr
	remoteAddr *net.UDPAddr
}

func NewUDPTransportSocket() *UDPTransportSocket {
	return &UDPTransportSocket{}
}

func (uts *UDPTransportSocket) Listen(addr string) error {
	if addr == "" {
		addr = ":0"
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	uts.Conn = conn
	uts.localAddr = conn.LocalAddr().(*net.UDPAddr)
	return nil
}

func (uts *UDPTransportSocket) Dial(localAddr, remoteAddr string) error {
	if err := uts.Listen(localAddr); err != nil {
		return err
	}
	udpAddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return err
	}
	uts.remoteAddr = udpAddr
	return nil
}

func (uts *UDPTransportSocket) Write(buf []byte) (int, error) {
	return uts.Conn.WriteToUDP(buf, uts.remoteAddr)
}

func (uts *UDPTransportSocket) Read(buf []byte) (int, error) {
	return uts.Conn.Read(buf)
}

// ReadFromUDP exposes the datagram's source, which a demultiplexing
// listener needs to route it to the right session.
func (uts *UDPTransportSocket) ReadFromUDP(buf []byte) (int, *net.UDPAddr, error) {
	return uts.Conn.ReadFromUDP(buf)
}

func (uts *UDPTransportSocket) SetRemoteAddr(addr *net.UDPAddr) {
	uts.remoteAddr = addr
}

func (uts *UDPTransportSocket) SetReadDeadline(t time.Time) error {
	return uts.Conn.SetReadDeadline(t)
}

func (uts *UDPTransportSocket) LocalAddr() net.Addr {
	if uts.Conn == nil {
		return nil
	}
	return uts.Conn.LocalAddr()
}

func (uts *UDPTransportSocket) Close() error {
	if uts.Conn == nil {
		return nil
	}
	return uts.Conn.Close()
}

// PeerSocket is one peer's write-only view of a shared UDP listener. A
// demultiplexing server hands each session a PeerSocket for replies and
// injects inbound datagrams into the session directly, so Read is never
// served here. Closing it leaves the shared conn alone.
type PeerSocket struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
}

func NewPeerSocket(conn *net.UDPConn, remote *net.UDPAddr) *PeerSocket {
	return &PeerSocket{conn: conn, remoteAddr: remote}
}

func (ps *PeerSocket) Listen(addr string) error {
	return errors.New("peer socket is already bound")
}

func (ps *PeerSocket) Dial(localAddr, remoteAddr string) error {
	return errors.New("peer socket is already bound")
}

func (ps *PeerSocket) Write(buf []byte) (int, error) {
	return ps.conn.WriteToUDP(buf, ps.remoteAddr)
}

func (ps *PeerSocket) Read(buf []byte) (int, error) {
	return 0, errors.New("peer socket reads are served by the listener")
}

func (ps *PeerSocket) SetReadDeadline(t time.Time) error {
	return nil
}

func (ps *PeerSocket) LocalAddr() net.Addr {
	return ps.conn.LocalAddr()
}

func (ps *PeerSocket) RemoteAddr() *net.UDPAddr {
	return ps.remoteAddr
}

func (ps *PeerSocket) Close() error {
	return nil
}
