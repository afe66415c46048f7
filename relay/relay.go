package relay

import (
	"math/rand"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultHoldMin = 50 * time.Millisecond
	DefaultHoldMax = 300 * time.Millisecond
)

// Faults is the impairment model applied independently to every
// forwarded datagram. Probabilities are in [0,1]; a zero value forwards
// everything untouched.
type Faults struct {
	Loss      float64
	Corrupt   float64
	Duplicate float64
	Reorder   float64

	// HoldMin/HoldMax bound how long a reordered datagram is held back.
	HoldMin time.Duration
	HoldMax time.Duration
}

// Apply runs the fault decisions for one datagram and hands the
// resulting copies to deliver. All randomness is drawn from rng in the
// caller's goroutine, so a seeded rng makes decisions reproducible; a
// held back datagram is delivered late from its own goroutine. Not
// calling deliver at all is a drop.
func (f *Faults) Apply(rng *rand.Rand, buf []byte, deliver func([]byte)) {
	if rng.Float64() < f.Loss {
		log.Debugf("relay: dropping %d bytes", len(buf))
		return
	}
	b := make([]byte, len(buf))
	copy(b, buf)
	if len(b) > 0 && rng.Float64() < f.Corrupt {
		i := rng.Intn(len(b))
		b[i] ^= 0xFF
		log.Debugf("relay: corrupting byte %d of %d", i, len(b))
	}
	if rng.Float64() < f.Duplicate {
		dup := make([]byte, len(b))
		copy(dup, b)
		deliver(dup)
	}
	if rng.Float64() < f.Reorder {
		hold := f.holdTime(rng)
		log.Debugf("relay: holding %d bytes for %s", len(b), hold)
		go func() {
			time.Sleep(hold)
			deliver(b)
		}()
		return
	}
	deliver(b)
}

func (f *Faults) holdTime(rng *rand.Rand) time.Duration {
	min, max := f.HoldMin, f.HoldMax
	if min == 0 {
		min = DefaultHoldMin
	}
	if max < min {
		max = min
	}
	if max == min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)))
}

// Relay forwards datagrams between a client-facing and a server-facing
// UDP socket, applying Faults in both directions. The client address is
// learned from the first datagram seen on the client side, the server
// address is fixed. The reliability engine on either end never sees the
// relay as anything but its peer.
type Relay struct {
	Faults Faults
	Seed   int64

	serverAddr *net.UDPAddr
	clientConn *net.UDPConn
	serverConn *net.UDPConn

	mu         sync.Mutex
	clientAddr *net.UDPAddr

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRelay binds the two relay sockets. clientSide and serverSide are
// local listen addresses, server is the address datagrams from clients
// are forwarded to.
func NewRelay(clientSide, serverSide, server string, faults Faults, seed int64) (*Relay, error) {
	serverAddr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}
	r := &Relay{
		Faults:     faults,
		Seed:       seed,
		serverAddr: serverAddr,
		closed:     make(chan struct{}),
	}
	if r.clientConn, err = listenUDP(clientSide); err != nil {
		return nil, err
	}
	if r.serverConn, err = listenUDP(serverSide); err != nil {
		r.clientConn.Close()
		return nil, err
	}
	return r, nil
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", udpAddr)
}

// Start runs the two forwarding loops until Close.
func (r *Relay) Start() {
	log.Infof("relay: %s <-> %s, forwarding to %s, faults %+v",
		r.clientConn.LocalAddr(), r.serverConn.LocalAddr(), r.serverAddr, r.Faults)
	go r.forwardClientSide()
	go r.forwardServerSide()
}

// ClientAddr returns the relay address clients talk to.
func (r *Relay) ClientAddr() net.Addr {
	return r.clientConn.LocalAddr()
}

func (r *Relay) forwardClientSide() {
	rng := rand.New(rand.NewSource(r.Seed))
	buf := make([]byte, 65535)
	for {
		n, raddr, err := r.clientConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		r.mu.Lock()
		if r.clientAddr == nil || r.clientAddr.String() != raddr.String() {
			log.Infof("relay: client is now %s", raddr)
			r.clientAddr = raddr
		}
		r.mu.Unlock()
		r.Faults.Apply(rng, buf[:n], func(b []byte) {
			r.serverConn.WriteToUDP(b, r.serverAddr)
		})
	}
}

func (r *Relay) forwardServerSide() {
	rng := rand.New(rand.NewSource(r.Seed + 1))
	buf := make([]byte, 65535)
	for {
		n, _, err := r.serverConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		r.mu.Lock()
		client := r.clientAddr
		r.mu.Unlock()
		if client == nil {
			continue
		}
		r.Faults.Apply(rng, buf[:n], func(b []byte) {
			r.clientConn.WriteToUDP(b, client)
		})
	}
}

func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		close(r.closed)
		r.clientConn.Close()
		r.serverConn.Close()
	})
}
