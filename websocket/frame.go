package websocket

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	finBit     = 0x80
	rsv1Bit    = 0x40
	rsv2Bit    = 0x20
	rsv3Bit    = 0x10
	rsvBits    = rsv1Bit | rsv2Bit | rsv3Bit
	opcodeBits = 0x0F
	maskBit    = 0x80
	lenBits    = 0x7F

	maxControlPayload = 125
	len16             = 126
	len64             = 127
)

// Header is the part of a frame that precedes its payload.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-------+-+-------------+-------------------------------+
//	|F|R|R|R| opcode|M| Payload len |    Extended payload length    |
//	|I|S|S|S|  (4)  |A|     (7)     |             (16/64)           |
//	|N|V|V|V|       |S|             |   (if payload len==126/127)   |
//	| |1|2|3|       |K|             |                               |
//	+-+-+-+-+-------+-+-------------+ - - - - - - - - - - - - - - - +
//	|     Extended payload length continued, if payload len == 127  |
//	+ - - - - - - - - - - - - - - - +-------------------------------+
//	|                               |Masking-key, if MASK set to 1  |
//	+-------------------------------+-------------------------------+
type Header struct {
	Fin    bool
	Rsv    byte // RSV1..3 exactly as they sit in the first byte
	Opcode Opcode
	Masked bool
	Mask   [4]byte
	Length int64
}

// Compressed reports whether RSV1, the permessage-deflate flag, is set.
func (h Header) Compressed() bool {
	return h.Rsv&rsv1Bit != 0
}

// Frame is a decoded header plus its unmasked payload.
type Frame struct {
	Header
	Payload []byte
}

// FrameTransport reads and writes single frames for one protocol version.
// It is picked once during the handshake and never changes afterwards.
type FrameTransport interface {
	// ReadHeader reads the fixed header, the extended length and the mask.
	ReadHeader(r io.Reader) (Header, error)
	// ReadPayload reads exactly h.Length bytes and unmasks them.
	ReadPayload(r io.Reader, h Header) ([]byte, error)
	// AppendFrame appends one encoded frame to dst.
	AppendFrame(dst []byte, fin bool, op Opcode, rsv byte, payload []byte) ([]byte, error)
}

// transportFor returns the frame transport for a Sec-WebSocket-Version
// value, or nil when the version is not spoken.
func transportFor(version string, maskOutgoing bool) FrameTransport {
	switch version {
	case "7", "8", "13":
		return &hybi13{maskOutgoing: maskOutgoing, rand: rand.Reader}
	}
	return nil
}

// hybi13 is the RFC 6455 framing shared by drafts 7 and 8 and version 13.
type hybi13 struct {
	maskOutgoing bool
	rand         io.Reader
}

func (t *hybi13) ReadHeader(r io.Reader) (Header, error) {
	var h Header
	var b [8]byte

	if _, err := io.ReadFull(r, b[:2]); err != nil {
		return h, errors.Wrap(err, "read frame header")
	}
	h.Fin = b[0]&finBit != 0
	h.Rsv = b[0] & rsvBits
	h.Opcode = Opcode(b[0] & opcodeBits)
	h.Masked = b[1]&maskBit != 0
	n := int64(b[1] & lenBits)

	if !h.Opcode.valid() {
		return h, errors.Wrapf(ErrInvalidOpcode, "opcode %s", h.Opcode)
	}
	if h.Opcode.IsControl() {
		if n > maxControlPayload {
			return h, ErrControlTooLarge
		}
		if !h.Fin {
			return h, ErrControlFragmented
		}
	}

	switch n {
	case len16:
		if _, err := io.ReadFull(r, b[:2]); err != nil {
			return h, errors.Wrap(err, "read 16-bit length")
		}
		n = int64(binary.BigEndian.Uint16(b[:2]))
	case len64:
		if _, err := io.ReadFull(r, b[:8]); err != nil {
			return h, errors.Wrap(err, "read 64-bit length")
		}
		v := binary.BigEndian.Uint64(b[:8])
		if v>>63 != 0 {
			return h, errors.Wrap(ErrProtocol, "64-bit length has its most significant bit set")
		}
		n = int64(v)
	}
	h.Length = n

	if h.Masked {
		if _, err := io.ReadFull(r, h.Mask[:]); err != nil {
			return h, errors.Wrap(err, "read mask key")
		}
	}
	return h, nil
}

func (t *hybi13) ReadPayload(r io.Reader, h Header) ([]byte, error) {
	p := make([]byte, h.Length)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	if h.Masked {
		maskBytes(h.Mask, p)
	}
	return p, nil
}

func (t *hybi13) AppendFrame(dst []byte, fin bool, op Opcode, rsv byte, payload []byte) ([]byte, error) {
	n := len(payload)
	if op.IsControl() {
		if !fin {
			return dst, ErrControlFragmented
		}
		if n > maxControlPayload {
			return dst, ErrControlTooLarge
		}
	}

	b0 := byte(op) | rsv&rsvBits
	if fin {
		b0 |= finBit
	}
	var mb byte
	if t.maskOutgoing {
		mb = maskBit
	}

	switch {
	case n < len16:
		dst = append(dst, b0, mb|byte(n))
	case n <= 0xFFFF:
		dst = append(dst, b0, mb|len16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, mb|len64)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if !t.maskOutgoing {
		return append(dst, payload...), nil
	}

	var key [4]byte
	if _, err := io.ReadFull(t.rand, key[:]); err != nil {
		return dst, errors.Wrap(err, "generate mask key")
	}
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(key, dst[start:])
	return dst, nil
}

// maskBytes XORs b in place with the masking key, per RFC 6455 section 5.3.
// Applying it twice with the same key restores the input.
func maskBytes(key [4]byte, b []byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}
