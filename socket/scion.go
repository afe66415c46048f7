package socket

import (
	"net"
	"time"

	optimizedconn "github.com/johannwagner/scion-optimized-connection/pkg"
	"github.com/netsec-ethz/scion-apps/pkg/appnet"
	"github.com/scionproto/scion/go/lib/snet"
	log "github.com/sirupsen/logrus"
)

// SCIONTransportSocket carries datagrams over a SCION path. Both
// endpoints configure local and remote addresses explicitly, so servers
// behind it run pinned to a single peer.
type SCIONTransportSocket struct {
	Conn       *optimizedconn.OptimizedSCIONConn
	localAddr  *snet.UDPAddr
	remoteAddr *snet.UDPAddr
	listenAddr *net.UDPAddr
}

func NewSCIONTransportSocket() *SCIONTransportSocket {
	return &SCIONTransportSocket{}
}

func (sts *SCIONTransportSocket) Listen(addr string) error {
	listenAddr, err := snet.ParseUDPAddr(addr)
	if err != nil {
		return err
	}
	sts.localAddr = listenAddr
	sts.listenAddr = listenAddr.Host
	conn, err := optimizedconn.Listen(sts.listenAddr)
	if err != nil {
		return err
	}
	sts.Conn = conn
	log.Infof("SCION listen on %s", addr)
	return nil
}

func (sts *SCIONTransportSocket) Dial(localAddr, remoteAddr string) error {
	listenAddr, err := snet.ParseUDPAddr(localAddr)
	if err != nil {
		return err
	}
	sts.localAddr = listenAddr
	sts.listenAddr = listenAddr.Host

	remote, err := snet.ParseUDPAddr(remoteAddr)
	if err != nil {
		return err
	}
	if err := appnet.SetDefaultPath(remote); err != nil {
		return err
	}
	sts.remoteAddr = remote

	conn, err := optimizedconn.Dial(sts.listenAddr, remote)
	if err != nil {
		return err
	}
	sts.Conn = conn
	log.Infof("SCION dial %s from %s", remoteAddr, localAddr)
	return nil
}

func (sts *SCIONTransportSocket) Write(buf []byte) (int, error) {
	return sts.Conn.Write(buf)
}

func (sts *SCIONTransportSocket) Read(buf []byte) (int, error) {
	return sts.Conn.Read(buf)
}

func (sts *SCIONTransportSocket) SetReadDeadline(t time.Time) error {
	return sts.Conn.SetReadDeadline(t)
}

func (sts *SCIONTransportSocket) LocalAddr() net.Addr {
	if sts.localAddr == nil {
		return nil
	}
	return sts.localAddr
}

func (sts *SCIONTransportSocket) Close() error {
	if sts.Conn == nil {
		return nil
	}
	return sts.Conn.Close()
}
