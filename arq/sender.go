package arq

import (
	"time"

	"github.com/pkg/errors"

	"github.com/martenwallewein/rft/packet"
	"github.com/martenwallewein/rft/utils"
)

// sendEntry is one window slot: the packet's payload and kind, the
// deadline of its retransmission timer and how often it went out again.
type sendEntry struct {
	payload  []byte
	kind     byte
	deadline time.Time
	retries  int
	acked    bool
}

// Sender is the sending half of the selective repeat engine. It owns
// the send window, the queue of chunks waiting for a free slot and one
// retransmission timer per unacked packet. It is a plain state machine:
// the session loop feeds it acks and the current time and transmits
// whatever it hands back. Methods must only be called from that loop.
type Sender struct {
	base    uint32
	nextSeq uint32
	window  map[uint32]*sendEntry
	queue   [][]byte
	timers  *timerQueue

	finQueued bool
	finSent   bool
	finSeq    uint32

	windowSize uint32
	timeout    time.Duration
	maxRetries int
	chunkSize  int
}

func NewSender(opts SessionOptions) *Sender {
	return &Sender{
		window:     make(map[uint32]*sendEntry),
		queue:      make([][]byte, 0),
		timers:     newTimerQueue(),
		windowSize: uint32(opts.WindowSize),
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		chunkSize:  opts.ChunkSize,
	}
}

// Submit splits data into chunks and queues them for admission.
// Sequence numbers are only assigned once a window slot frees up.
func (s *Sender) Submit(data []byte) {
	for len(data) > 0 {
		n := utils.Min(len(data), s.chunkSize)
		chunk := make([]byte, n)
		copy(chunk, data[:n])
		s.queue = append(s.queue, chunk)
		data = data[n:]
	}
}

// Close queues the terminal marker. It goes out after the last data
// chunk and travels through the window like any other packet; Done
// reports true once it is acked.
func (s *Sender) Close() {
	s.finQueued = true
}

// Fill admits queued chunks while the window has room, assigning
// sequence numbers in submission order. Returned packets are ready to
// transmit.
func (s *Sender) Fill(now time.Time) []*packet.Packet {
	var out []*packet.Packet
	for len(s.queue) > 0 && uint32(len(s.window)) < s.windowSize {
		chunk := s.queue[0]
		s.queue = s.queue[1:]
		out = append(out, s.admit(chunk, packet.KindData, now))
	}
	if s.finQueued && !s.finSent && len(s.queue) == 0 && uint32(len(s.window)) < s.windowSize {
		fin := s.admit(nil, packet.KindFin, now)
		s.finSent = true
		s.finSeq = fin.Seq
		out = append(out, fin)
	}
	return out
}

func (s *Sender) admit(payload []byte, kind byte, now time.Time) *packet.Packet {
	seq := s.nextSeq
	s.nextSeq++
	deadline := now.Add(s.timeout)
	s.window[seq] = &sendEntry{payload: payload, kind: kind, deadline: deadline}
	s.timers.Schedule(seq, deadline)
	return &packet.Packet{Seq: seq, Kind: kind, Payload: payload}
}

// Ack marks seq acknowledged, cancels its timer and slides the window
// over the contiguous acked run at the base. Acks below the base are
// stale duplicates and ignored. An ack for a sequence that was never
// assigned is a protocol fault.
func (s *Sender) Ack(seq uint32) error {
	if seqLess(seq, s.base) {
		return nil
	}
	if !seqInWindow(seq, s.base, s.nextSeq-s.base) {
		return errors.Wrapf(ErrWindowViolation,
			"ack for unsent sequence %d (base %d, next %d)", seq, s.base, s.nextSeq)
	}
	entry := s.window[seq]
	if entry == nil || entry.acked {
		return nil
	}
	entry.acked = true
	for {
		e, ok := s.window[s.base]
		if !ok || !e.acked {
			break
		}
		delete(s.window, s.base)
		s.base++
	}
	return nil
}

// Expired retransmits every packet whose timer is due at now. Only the
// overdue packet itself goes out again, never its neighbors. A packet
// that has spent its retry budget fails the whole transfer; packets
// already handed out are still valid to send.
func (s *Sender) Expired(now time.Time) ([]*packet.Packet, error) {
	var out []*packet.Packet
	for {
		head, ok := s.timers.Peek()
		if !ok || head.deadline.After(now) {
			return out, nil
		}
		s.timers.Pop()
		entry := s.window[head.seq]
		if entry == nil || entry.acked || !entry.deadline.Equal(head.deadline) {
			// stale entry: acked or rescheduled since
			continue
		}
		if entry.retries >= s.maxRetries {
			return out, errors.Wrapf(ErrRetryBudgetExhausted,
				"sequence %d after %d retransmissions, window base %d, %d in flight",
				head.seq, entry.retries, s.base, len(s.window))
		}
		entry.retries++
		entry.deadline = now.Add(s.timeout)
		s.timers.Schedule(head.seq, entry.deadline)
		out = append(out, &packet.Packet{Seq: head.seq, Kind: entry.kind, Payload: entry.payload})
	}
}

// NextDeadline reports the earliest live retransmission deadline. Stale
// heap entries found on the way are discarded.
func (s *Sender) NextDeadline() (time.Time, bool) {
	for {
		head, ok := s.timers.Peek()
		if !ok {
			return time.Time{}, false
		}
		entry := s.window[head.seq]
		if entry == nil || entry.acked || !entry.deadline.Equal(head.deadline) {
			s.timers.Pop()
			continue
		}
		return head.deadline, true
	}
}

// Flushed reports whether everything submitted so far has been acked.
func (s *Sender) Flushed() bool {
	return len(s.window) == 0 && len(s.queue) == 0
}

// Done reports whether the stream is complete: closed, flushed and the
// terminal marker acked.
func (s *Sender) Done() bool {
	return s.finQueued && s.finSent && s.Flushed()
}

// Base returns the oldest unacknowledged sequence number.
func (s *Sender) Base() uint32 {
	return s.base
}

// InFlight returns the number of occupied window slots.
func (s *Sender) InFlight() int {
	return len(s.window)
}
