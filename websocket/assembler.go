package websocket

import (
	"bytes"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// assembler turns a sequence of data frames into complete messages. It owns
// the fragment buffer, which is reused across messages.
type assembler struct {
	maxSize  int64
	inflater *decompressor // nil unless permessage-deflate was negotiated

	buf        bytes.Buffer
	opcode     Opcode // opcode of the message in progress
	active     bool
	compressed bool
}

// checkReserved rejects reserved bits no negotiated extension defines.
// RSV1 is the compression flag and is only legal on the first frame of a
// data message after permessage-deflate was agreed.
func (a *assembler) checkReserved(h Header) error {
	rsv := h.Rsv
	if a.inflater != nil && (h.Opcode == OpText || h.Opcode == OpBinary) {
		rsv &^= rsv1Bit
	}
	if rsv != 0 {
		return errors.Wrapf(ErrReservedBits, "rsv=%#02x opcode=%s", h.Rsv, h.Opcode)
	}
	return nil
}

// reserve checks, before the payload is read, that accepting the frame
// keeps the message within maxSize.
func (a *assembler) reserve(h Header) error {
	size := h.Length
	if !h.Opcode.IsControl() && a.active {
		size += int64(a.buf.Len())
	}
	if size > a.maxSize {
		return errors.Wrapf(ErrMessageTooBig, "%d bytes exceeds limit of %d", size, a.maxSize)
	}
	return nil
}

// push feeds one data frame. It returns a message once the final frame of
// one has arrived, nil while a fragmented message is still open.
func (a *assembler) push(f Frame) (*Message, error) {
	var (
		op         Opcode
		compressed bool
		data       []byte
	)

	switch {
	case f.Opcode == OpContinuation:
		if !a.active {
			return nil, ErrUnexpectedContinuation
		}
		a.buf.Write(f.Payload)
		if !f.Fin {
			return nil, nil
		}
		op, compressed, data = a.opcode, a.compressed, a.buf.Bytes()
	case a.active:
		return nil, ErrUnexpectedDataFrame
	case !f.Fin:
		a.active = true
		a.opcode = f.Opcode
		a.compressed = f.Compressed()
		a.buf.Reset()
		a.buf.Write(f.Payload)
		return nil, nil
	default:
		op, compressed, data = f.Opcode, f.Compressed(), f.Payload
	}

	msg, err := a.finish(op, compressed, data)
	a.reset()
	return msg, err
}

func (a *assembler) finish(op Opcode, compressed bool, data []byte) (*Message, error) {
	var err error
	if compressed {
		if data, err = a.inflater.decompress(data); err != nil {
			return nil, err
		}
	} else if a.active {
		// data aliases the reusable buffer
		data = append([]byte(nil), data...)
	}

	if op == OpText && !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	return &Message{Type: op, Data: data}, nil
}

func (a *assembler) reset() {
	a.buf.Reset()
	a.active = false
	a.compressed = false
	a.opcode = OpContinuation
}
