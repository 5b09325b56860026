package websocket

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by writes on a connection that is closing or
	// whose stream failed underneath it.
	ErrClosed = errors.New("websocket: connection closed")

	// ErrProtocol marks a violation of RFC 6455 framing rules.
	ErrProtocol = errors.New("websocket: protocol error")

	// ErrReservedBits is returned when RSV bits are set that no negotiated
	// extension defines.
	ErrReservedBits = errors.New("websocket: unexpected reserved bits")

	// ErrInvalidOpcode is returned for opcodes 0x3-0x7 and 0xB-0xF.
	ErrInvalidOpcode = errors.New("websocket: invalid opcode")

	ErrControlFragmented = errors.New("websocket: control frames may not be fragmented")
	ErrControlTooLarge   = errors.New("websocket: control frame payloads may not exceed 125 bytes")

	// ErrUnexpectedContinuation is a continuation frame without a message
	// in progress.
	ErrUnexpectedContinuation = errors.New("websocket: unexpected continuation frame")

	// ErrUnexpectedDataFrame is a new data frame while a fragmented message
	// is still in progress.
	ErrUnexpectedDataFrame = errors.New("websocket: data frame inside fragmented message")

	// ErrMessageTooBig is returned when a message, compressed or not,
	// exceeds the configured maximum size.
	ErrMessageTooBig = errors.New("websocket: message too big")

	ErrInvalidUTF8 = errors.New("websocket: invalid UTF-8 in text message")

	// ErrBadExtension is returned when permessage-deflate parameters cannot
	// be honoured. The handshake is aborted without a response.
	ErrBadExtension = errors.New("websocket: unsupported extension parameters")

	ErrHijack = errors.New("websocket: response does not implement http.Hijacker")
)

// HandshakeError is a failed opening handshake that must be answered with
// an HTTP error response instead of an upgrade.
type HandshakeError struct {
	Status  int
	Message string
	Header  http.Header
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("websocket: handshake failed: %d %s", e.Status, e.Message)
}

func handshakeError(status int, msg string) *HandshakeError {
	return &HandshakeError{Status: status, Message: msg}
}

// closedError maps a stream failure onto ErrClosed while keeping the cause
// visible in the message.
func closedError(cause error) error {
	if cause == nil || errors.Is(cause, ErrClosed) {
		return ErrClosed
	}
	return errors.WithMessage(ErrClosed, cause.Error())
}
