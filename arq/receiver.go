package arq

import (
	"github.com/martenwallewein/rft/packet"
)

// recvEntry buffers one arrival until the gap before it closes.
type recvEntry struct {
	payload []byte
	fin     bool
}

// Receiver is the receiving half of the selective repeat engine. It
// buffers arrivals inside the window, acks every valid packet
// individually and hands contiguous payload runs upward in order.
// Methods must only be called from the session loop.
type Receiver struct {
	base       uint32
	buf        map[uint32]recvEntry
	windowSize uint32
}

func NewReceiver(opts SessionOptions) *Receiver {
	return &Receiver{
		buf:        make(map[uint32]recvEntry),
		windowSize: uint32(opts.WindowSize),
	}
}

// Accept runs the receive window rules for one decoded packet. ack
// reports whether an acknowledgment for p.Seq must go out, delivered
// holds payloads that became contiguous, fin whether the stream's
// terminal marker was among them. Corrupt frames never get here.
func (r *Receiver) Accept(p *packet.Packet) (ack bool, delivered [][]byte, fin bool) {
	if seqLess(p.Seq, r.base) {
		// duplicate of delivered data: repair the possibly lost ack,
		// drop the payload
		return true, nil, false
	}
	if !seqInWindow(p.Seq, r.base, r.windowSize) {
		// ahead of the advertised window, dropped without ack
		return false, nil, false
	}
	if _, ok := r.buf[p.Seq]; !ok {
		r.buf[p.Seq] = recvEntry{payload: p.Payload, fin: p.Kind == packet.KindFin}
	}
	for {
		e, ok := r.buf[r.base]
		if !ok {
			break
		}
		delete(r.buf, r.base)
		r.base++
		if e.fin {
			fin = true
			break
		}
		if len(e.payload) > 0 {
			delivered = append(delivered, e.payload)
		}
	}
	return true, delivered, fin
}

// Base returns the next sequence number due for in-order delivery.
func (r *Receiver) Base() uint32 {
	return r.base
}

// Buffered returns the number of out-of-order packets held back.
func (r *Receiver) Buffered() int {
	return len(r.buf)
}
