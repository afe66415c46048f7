package arq

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/martenwallewein/rft/packet"
	"github.com/martenwallewein/rft/socket"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateEstablishing
	StateActive
	StateClosing
	StateClosed
	StateFailed
)

func (st SessionState) String() string {
	switch st {
	case StateIdle:
		return "IDLE"
	case StateEstablishing:
		return "ESTABLISHING"
	case StateActive:
		return "ACTIVE"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateFailed:
		return "FAILED"
	}
	return fmt.Sprintf("SessionState(%d)", int(st))
}

type submitRequest struct {
	data  []byte
	close bool
	done  chan error
}

// Session drives one duplex connection: a sender and a receiver tied
// together by a single event loop that owns all window state. The loop
// suspends on the next of {incoming datagram, earliest retransmission
// deadline, application request}; the blocking Send/Close/Receive API
// reaches it through channels only, so no lock guards the windows.
type Session struct {
	sock  socket.TransportSocket
	opts  SessionOptions
	clock Clock
	snd   *Sender
	rcv   *Receiver
	rate  *RateControl
	name  string

	mu      sync.Mutex
	state   SessionState
	failure error

	datagrams chan []byte
	submits   chan *submitRequest
	abortCh   chan error
	recvDone  chan struct{}
	closed    chan struct{}

	// loop-owned
	recvBuf        bytes.Buffer
	recvFin        bool
	closeRequested bool
	submitWaiters  []chan error
	closeWaiters   []chan error

	metrics *Metrics
}

// NewSession starts the event loop for one connection over sock. The
// socket must already be bound; the session owns it from here on and
// closes it on teardown. Callers that hold the only reference to the
// socket's inbound datagrams start the reader with StartReader; a
// demultiplexing listener injects them with HandleDatagram instead.
func NewSession(sock socket.TransportSocket, opts SessionOptions) (*Session, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	s := &Session{
		sock:      sock,
		opts:      opts,
		clock:     opts.Clock,
		snd:       NewSender(opts),
		rcv:       NewReceiver(opts),
		rate:      NewRateControl(opts.MaxSpeed),
		metrics:   NewMetrics(1000),
		state:     StateIdle,
		datagrams: make(chan []byte, 256),
		submits:   make(chan *submitRequest),
		abortCh:   make(chan error),
		recvDone:  make(chan struct{}),
		closed:    make(chan struct{}),
	}
	if addr := sock.LocalAddr(); addr != nil {
		s.name = fmt.Sprintf("session %s", addr)
	} else {
		s.name = "session"
	}
	s.metrics.Collect()
	go s.run()
	return s, nil
}

// StartReader spawns the pump feeding the socket's datagrams into the
// loop. It ends when the session tears down and closes the socket.
func (s *Session) StartReader() {
	go func() {
		buf := make([]byte, 65535)
		for {
			n, err := s.sock.Read(buf)
			if err != nil {
				select {
				case <-s.closed:
				default:
					log.Debugf("%s: reader stopped: %v", s.name, err)
				}
				return
			}
			s.HandleDatagram(buf[:n])
		}
	}()
}

// HandleDatagram hands one raw inbound datagram to the loop. The buffer
// is copied and may be reused by the caller. When the queue is full the
// datagram is dropped, which the protocol absorbs like any other loss.
func (s *Session) HandleDatagram(buf []byte) {
	b := make([]byte, len(buf))
	copy(b, buf)
	select {
	case <-s.closed:
	case s.datagrams <- b:
	default:
		s.metrics.AddDroppedFrame()
	}
}

// Send blocks until data is fully acknowledged by the peer or the
// session reaches a terminal state.
func (s *Session) Send(data []byte) error {
	return s.request(&submitRequest{data: data, done: make(chan error, 1)})
}

// Close queues the terminal marker after all submitted data and blocks
// until the peer acknowledged it. The receive direction stays usable.
func (s *Session) Close() error {
	return s.request(&submitRequest{close: true, done: make(chan error, 1)})
}

func (s *Session) request(req *submitRequest) error {
	select {
	case s.submits <- req:
	case <-s.closed:
		return s.terminalError()
	}
	select {
	case err := <-req.done:
		return err
	case <-s.closed:
		// a result that raced with teardown still counts
		select {
		case err := <-req.done:
			return err
		default:
		}
		return s.terminalError()
	}
}

// Receive blocks until the peer's terminal marker is delivered, then
// returns the whole reassembled stream.
func (s *Session) Receive() ([]byte, error) {
	select {
	case <-s.recvDone:
		return s.recvBuf.Bytes(), nil
	default:
	}
	select {
	case <-s.recvDone:
		return s.recvBuf.Bytes(), nil
	case <-s.closed:
		select {
		case <-s.recvDone:
			return s.recvBuf.Bytes(), nil
		default:
		}
		return nil, s.terminalError()
	}
}

// Abort tears the session down immediately, releasing timers and
// buffers and unblocking every pending call.
func (s *Session) Abort() {
	select {
	case s.abortCh <- ErrAborted:
	case <-s.closed:
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Metrics() *Metrics {
	return s.metrics
}

func (s *Session) terminalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	return ErrSessionClosed
}

func (s *Session) run() {
	defer s.teardown()
	for {
		if err := s.pump(); err != nil {
			s.fail(err)
			return
		}
		s.notifyWaiters()
		if s.closeRequested && s.snd.Done() && s.recvFin {
			s.linger()
			s.finish()
			return
		}

		var timerC <-chan time.Time
		if deadline, ok := s.snd.NextDeadline(); ok {
			wait := deadline.Sub(s.clock.Now())
			if wait < 0 {
				wait = 0
			}
			timerC = s.clock.After(wait)
		}

		select {
		case buf := <-s.datagrams:
			if err := s.handleDatagram(buf); err != nil {
				s.fail(err)
				return
			}
		case req := <-s.submits:
			s.handleSubmit(req)
		case <-timerC:
			pkts, err := s.snd.Expired(s.clock.Now())
			if err != nil {
				s.fail(err)
				return
			}
			for _, p := range pkts {
				s.metrics.AddRetransmit()
				log.Debugf("%s: retransmit %s seq=%d", s.name, kindName(p.Kind), p.Seq)
				if err := s.transmit(p); err != nil {
					s.fail(err)
					return
				}
			}
		case err := <-s.abortCh:
			s.fail(err)
			return
		}
	}
}

// pump admits queued chunks into freed window slots and puts them on
// the wire.
func (s *Session) pump() error {
	for _, p := range s.snd.Fill(s.clock.Now()) {
		s.markEstablishing()
		log.Debugf("%s: send %s seq=%d len=%d", s.name, kindName(p.Kind), p.Seq, len(p.Payload))
		if err := s.transmit(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) handleDatagram(buf []byte) error {
	s.metrics.AddRx(uint64(len(buf)))
	p, err := packet.Decode(buf)
	if err != nil {
		// corrupt and malformed frames vanish here, unacknowledged;
		// the peer's timer covers the loss
		s.metrics.AddDroppedFrame()
		log.Debugf("%s: dropping frame: %v", s.name, err)
		return nil
	}
	s.markActive()
	if p.Kind == packet.KindAck {
		log.Debugf("%s: ack seq=%d", s.name, p.Seq)
		return s.snd.Ack(p.Seq)
	}

	ack, delivered, fin := s.rcv.Accept(p)
	log.Debugf("%s: recv %s seq=%d ack=%v", s.name, kindName(p.Kind), p.Seq, ack)
	if ack {
		if err := s.transmit(packet.NewAck(p.Seq)); err != nil {
			return err
		}
	}
	for _, chunk := range delivered {
		if !s.recvFin {
			s.recvBuf.Write(chunk)
		}
	}
	if fin && !s.recvFin {
		s.recvFin = true
		close(s.recvDone)
		log.Infof("%s: peer stream complete, %d bytes", s.name, s.recvBuf.Len())
	}
	return nil
}

func (s *Session) handleSubmit(req *submitRequest) {
	if req.close {
		if !s.closeRequested {
			s.closeRequested = true
			s.snd.Close()
			s.setState(StateClosing)
			log.Debugf("%s: closing", s.name)
		}
		s.closeWaiters = append(s.closeWaiters, req.done)
		return
	}
	if s.closeRequested {
		req.done <- ErrSessionClosed
		return
	}
	s.snd.Submit(req.data)
	s.submitWaiters = append(s.submitWaiters, req.done)
}

func (s *Session) notifyWaiters() {
	if len(s.submitWaiters) > 0 && s.snd.Flushed() {
		for _, w := range s.submitWaiters {
			w <- nil
		}
		s.submitWaiters = s.submitWaiters[:0]
	}
	if len(s.closeWaiters) > 0 && s.snd.Done() {
		for _, w := range s.closeWaiters {
			w <- nil
		}
		s.closeWaiters = s.closeWaiters[:0]
	}
}

// transmit encodes and paces one frame onto the wire. Pacing charges
// every frame, retransmissions and acks included.
func (s *Session) transmit(p *packet.Packet) error {
	buf := p.Encode()
	now := s.clock.Now()
	if at := s.rate.Reserve(now, len(buf)); at.After(now) {
		select {
		case <-s.clock.After(at.Sub(now)):
		case err := <-s.abortCh:
			return err
		}
	}
	if _, err := s.sock.Write(buf); err != nil {
		return errors.Wrapf(err, "writing %d byte frame", len(buf))
	}
	s.metrics.AddTx(uint64(len(buf)))
	return nil
}

// linger keeps answering retransmitted terminal markers whose acks were
// lost, for one timeout interval. The peer gives up after its own retry
// budget at the latest.
func (s *Session) linger() {
	deadline := s.clock.Now().Add(s.opts.Timeout)
	for {
		wait := deadline.Sub(s.clock.Now())
		if wait <= 0 {
			return
		}
		select {
		case buf := <-s.datagrams:
			if err := s.handleDatagram(buf); err != nil {
				log.Debugf("%s: during linger: %v", s.name, err)
				return
			}
		case <-s.clock.After(wait):
			return
		case <-s.abortCh:
			return
		}
	}
}

func (s *Session) markEstablishing() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.state = StateEstablishing
	}
	s.mu.Unlock()
}

func (s *Session) markActive() {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateEstablishing {
		s.state = StateActive
	}
	s.mu.Unlock()
}

func (s *Session) setState(st SessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) finish() {
	s.setState(StateClosed)
	log.Infof("%s: closed, sent %d packets (%d retransmits), received %d",
		s.name, s.metrics.TxPackets, s.metrics.Retransmits, s.metrics.RxPackets)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.failure = err
	s.state = StateFailed
	s.mu.Unlock()
	log.Errorf("%s: failed: %v", s.name, err)
}

func (s *Session) teardown() {
	close(s.closed)
	s.sock.Close()
	s.metrics.Stop()
}

func kindName(kind byte) string {
	switch kind {
	case packet.KindData:
		return "DATA"
	case packet.KindAck:
		return "ACK"
	case packet.KindFin:
		return "FIN"
	}
	return "UNKNOWN"
}
