package arq

import (
	"time"

	"github.com/pkg/errors"

	"github.com/martenwallewein/rft/packet"
)

const (
	DefaultWindowSize = 8
	DefaultTimeout    = 2 * time.Second
	DefaultMaxRetries = 5
	DefaultChunkSize  = 512
)

// SessionOptions configures one session. Zero values fall back to the
// defaults above; MaxSpeed zero means uncapped.
type SessionOptions struct {
	WindowSize int           // in-flight packet cap W
	Timeout    time.Duration // per-packet retransmission timeout
	MaxRetries int           // retransmissions per packet before the session fails
	ChunkSize  int           // payload bytes per DATA packet
	MaxSpeed   int64         // outbound rate cap, always bits/s
	Clock      Clock
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.WindowSize == 0 {
		o.WindowSize = DefaultWindowSize
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Clock == nil {
		o.Clock = SystemClock()
	}
	return o
}

func (o SessionOptions) validate() error {
	if o.WindowSize < 0 || int64(o.WindowSize) > MaxWindowSize {
		return errors.Errorf("window size %d exceeds half the sequence space", o.WindowSize)
	}
	if o.ChunkSize < 0 || o.ChunkSize > packet.MaxPayload {
		return errors.Errorf("chunk size %d exceeds the %d byte payload limit", o.ChunkSize, packet.MaxPayload)
	}
	if o.MaxRetries < 0 || o.MaxSpeed < 0 || o.Timeout < 0 {
		return errors.New("negative session option")
	}
	return nil
}
