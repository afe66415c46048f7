package filetransfer

import (
	"fmt"
	"io/ioutil"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/martenwallewein/rft/arq"
	"github.com/martenwallewein/rft/shared"
	"github.com/martenwallewein/rft/socket"
	"github.com/martenwallewein/rft/utils"
)

const DefaultIdleTimeout = 60 * time.Second

// Server answers GET and PUT requests from a directory. One UDP
// listener carries any number of concurrent clients; datagrams are
// demultiplexed by source address into per-client sessions.
type Server struct {
	Dir         string
	Options     arq.SessionOptions
	IdleTimeout time.Duration

	listener *socket.UDPTransportSocket

	mu       sync.Mutex
	sessions map[string]*serverSession
	closed   bool
}

type serverSession struct {
	sess *arq.Session

	mu       sync.Mutex
	lastSeen time.Time
}

func (ss *serverSession) touch() {
	ss.mu.Lock()
	ss.lastSeen = time.Now()
	ss.mu.Unlock()
}

func (ss *serverSession) idle() time.Duration {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return time.Since(ss.lastSeen)
}

func NewServer(dir string, opts arq.SessionOptions) *Server {
	return &Server{
		Dir:         dir,
		Options:     opts,
		IdleTimeout: DefaultIdleTimeout,
		sessions:    make(map[string]*serverSession),
	}
}

func (srv *Server) Listen(addr string) error {
	srv.listener = socket.NewUDPTransportSocket()
	if err := srv.listener.Listen(addr); err != nil {
		return errors.Wrapf(err, "binding %s", addr)
	}
	log.Infof("filetransfer: serving %s on %s", srv.Dir, srv.listener.LocalAddr())
	return nil
}

// Addr returns the bound listener address, useful after listening
// on port 0.
func (srv *Server) Addr() net.Addr {
	return srv.listener.LocalAddr()
}

func ListenAndServe(addr, dir string, opts arq.SessionOptions) error {
	srv := NewServer(dir, opts)
	if err := srv.Listen(addr); err != nil {
		return err
	}
	return srv.Serve()
}

// Serve reads datagrams until the listener closes. Frames from unknown
// sources open a fresh session handled on its own goroutine.
func (srv *Server) Serve() error {
	stopReaper := make(chan struct{})
	defer close(stopReaper)
	go srv.reap(stopReaper)

	buf := make([]byte, 65535)
	for {
		n, raddr, err := srv.listener.ReadFromUDP(buf)
		if err != nil {
			srv.mu.Lock()
			closed := srv.closed
			srv.mu.Unlock()
			if closed {
				return nil
			}
			return errors.Wrap(err, "listener read")
		}
		srv.dispatch(raddr, buf[:n])
	}
}

func (srv *Server) dispatch(raddr *net.UDPAddr, frame []byte) {
	key := raddr.String()
	srv.mu.Lock()
	ss, ok := srv.sessions[key]
	if !ok {
		sess, err := arq.NewSession(socket.NewPeerSocket(srv.listener.Conn, raddr), srv.Options)
		if err != nil {
			srv.mu.Unlock()
			log.Errorf("filetransfer: session for %s: %v", key, err)
			return
		}
		ss = &serverSession{sess: sess, lastSeen: time.Now()}
		srv.sessions[key] = ss
		log.Infof("filetransfer: new client %s", key)
		go func() {
			defer srv.forget(key)
			srv.serveSession(sess)
		}()
	}
	srv.mu.Unlock()
	ss.touch()
	ss.sess.HandleDatagram(frame)
}

// ServeConn answers a single connection on an already bound transport.
// Transports without per-datagram source addresses are served this way,
// one connection at a time.
func (srv *Server) ServeConn(sock socket.TransportSocket) error {
	sess, err := arq.NewSession(sock, srv.Options)
	if err != nil {
		return err
	}
	sess.StartReader()
	srv.serveSession(sess)
	return nil
}

func (srv *Server) serveSession(sess *arq.Session) {
	req, err := sess.Receive()
	if err != nil {
		log.Warnf("filetransfer: receiving request: %v", err)
		sess.Abort()
		return
	}
	resp := srv.respond(req)
	if err := sess.Send(resp); err != nil {
		log.Warnf("filetransfer: sending response: %v", err)
		return
	}
	if err := sess.Close(); err != nil {
		log.Warnf("filetransfer: closing: %v", err)
	}
}

func (srv *Server) respond(req []byte) []byte {
	cmd, name, body, err := shared.ParseRequest(req)
	if err != nil {
		log.Infof("filetransfer: bad request: %v", err)
		return shared.ErrResponse(err.Error())
	}
	// strip any directory part the client sent
	path := filepath.Join(srv.Dir, filepath.Base(name))
	switch cmd {
	case shared.CmdGet:
		data, err := ioutil.ReadFile(path)
		if err != nil {
			log.Infof("filetransfer: GET %s: %v", name, err)
			return shared.ErrResponse(fmt.Sprintf("cannot read %s", name))
		}
		log.Infof("filetransfer: GET %s, %s", name, utils.ByteCountSI(int64(len(data))))
		return shared.OkResponse(fmt.Sprintf("%d bytes", len(data)), data)
	case shared.CmdPut:
		if err := ioutil.WriteFile(path, body, 0644); err != nil {
			log.Infof("filetransfer: PUT %s: %v", name, err)
			return shared.ErrResponse(fmt.Sprintf("cannot write %s", name))
		}
		log.Infof("filetransfer: PUT %s, %s", name, utils.ByteCountSI(int64(len(body))))
		return shared.OkResponse(fmt.Sprintf("stored %d bytes", len(body)), nil)
	}
	return shared.ErrResponse("unsupported command")
}

// reap aborts sessions whose client went silent, so half-open
// connections cannot pile up.
func (srv *Server) reap(stop chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		srv.mu.Lock()
		var stale []*serverSession
		for key, ss := range srv.sessions {
			if ss.idle() > srv.IdleTimeout {
				log.Infof("filetransfer: reaping idle client %s", key)
				stale = append(stale, ss)
			}
		}
		srv.mu.Unlock()
		for _, ss := range stale {
			ss.sess.Abort()
		}
	}
}

func (srv *Server) forget(key string) {
	srv.mu.Lock()
	delete(srv.sessions, key)
	srv.mu.Unlock()
}

func (srv *Server) Close() {
	srv.mu.Lock()
	if srv.closed {
		srv.mu.Unlock()
		return
	}
	srv.closed = true
	var active []*serverSession
	for _, ss := range srv.sessions {
		active = append(active, ss)
	}
	srv.mu.Unlock()

	if srv.listener != nil {
		srv.listener.Close()
	}
	for _, ss := range active {
		ss.sess.Abort()
	}
}
