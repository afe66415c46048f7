package packet

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pkg/errors"
)

const (
	KindData byte = 0
	KindAck  byte = 1
	KindFin  byte = 2
)

const (
	HeaderLen   = 7
	ChecksumLen = 4
	// MaxPayload is bounded by the 16 bit length field.
	MaxPayload = 1<<16 - 1
)

var (
	ErrMalformed = errors.New("malformed frame")
	ErrCorrupt   = errors.New("corrupt frame")
)

// Packet is one wire frame:
//
//	[seq: 4][kind: 1][length: 2][payload: length][crc32: 4]
//
// All fields are big endian. The trailing checksum is CRC-32 (IEEE)
// over everything before it. ACK and FIN frames carry no payload.
type Packet struct {
	Seq     uint32
	Kind    byte
	Payload []byte
}

func NewData(seq uint32, payload []byte) *Packet {
	return &Packet{Seq: seq, Kind: KindData, Payload: payload}
}

func NewAck(seq uint32) *Packet {
	return &Packet{Seq: seq, Kind: KindAck}
}

func NewFin(seq uint32) *Packet {
	return &Packet{Seq: seq, Kind: KindFin}
}

// WireLen returns the encoded size of the packet.
func (p *Packet) WireLen() int {
	return HeaderLen + len(p.Payload) + ChecksumLen
}

func (p *Packet) Encode() []byte {
	buf := make([]byte, p.WireLen())
	binary.BigEndian.PutUint32(buf[0:4], p.Seq)
	buf[4] = p.Kind
	binary.BigEndian.PutUint16(buf[5:7], uint16(len(p.Payload)))
	copy(buf[HeaderLen:], p.Payload)
	sum := crc32.ChecksumIEEE(buf[:HeaderLen+len(p.Payload)])
	binary.BigEndian.PutUint32(buf[HeaderLen+len(p.Payload):], sum)
	return buf
}

// Decode parses and verifies one frame. The returned packet owns its
// payload, the input buffer may be reused afterwards. A frame that
// fails here must be dropped as if it never arrived, in particular it
// must not be acknowledged.
func Decode(buf []byte) (*Packet, error) {
	if len(buf) < HeaderLen+ChecksumLen {
		return nil, errors.Wrapf(ErrMalformed, "frame of %d bytes", len(buf))
	}
	payloadLen := int(binary.BigEndian.Uint16(buf[5:7]))
	if len(buf) != HeaderLen+payloadLen+ChecksumLen {
		return nil, errors.Wrapf(ErrMalformed, "length field %d in frame of %d bytes", payloadLen, len(buf))
	}
	kind := buf[4]
	if kind > KindFin {
		return nil, errors.Wrapf(ErrMalformed, "unknown kind %d", kind)
	}
	want := binary.BigEndian.Uint32(buf[HeaderLen+payloadLen:])
	got := crc32.ChecksumIEEE(buf[:HeaderLen+payloadLen])
	if got != want {
		return nil, errors.Wrapf(ErrCorrupt, "checksum %08x, frame carries %08x", got, want)
	}
	p := &Packet{
		Seq:  binary.BigEndian.Uint32(buf[0:4]),
		Kind: kind,
	}
	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		copy(p.Payload, buf[HeaderLen:HeaderLen+payloadLen])
	}
	return p, nil
}

// IsMalformed reports whether err stems from a framing failure.
func IsMalformed(err error) bool {
	return errors.Cause(err) == ErrMalformed
}

// IsCorrupt reports whether err stems from a checksum mismatch.
func IsCorrupt(err error) bool {
	return errors.Cause(err) == ErrCorrupt
}
