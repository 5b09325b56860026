package websocket

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// maxRetainedWriteBuffer caps the frame buffer kept between writes.
const maxRetainedWriteBuffer = 64 << 10

// Stats are the diagnostic byte counters of a connection.
type Stats struct {
	WireBytesIn     int64
	WireBytesOut    int64
	MessageBytesIn  int64
	MessageBytesOut int64
}

// Conn is one upgraded WebSocket connection on the server side.
//
// Serve runs the read loop and delivers events to the Handler. The write
// methods may be called from any goroutine; each frame is composed and
// written under a single lock so frames never interleave on the wire.
type Conn struct {
	id          string
	stream      io.ReadWriteCloser
	r           io.Reader
	transport   FrameTransport
	handler     Handler
	params      Params
	subprotocol string
	logger      *slog.Logger
	obs         Observer

	asm assembler

	wmu      sync.Mutex // serializes compose + write, guards deflater and wbuf
	deflater *compressor
	wbuf     []byte

	mu               sync.Mutex
	clientTerminated bool
	serverTerminated bool
	streamClosed     bool
	closeCode        CloseCode
	closeReason      string
	closeStatusSet   bool
	stopPing         context.CancelFunc
	closeTimer       *time.Timer
	err              error

	closeOnce    sync.Once
	receivedPong atomic.Bool

	wireIn, wireOut, msgIn, msgOut atomic.Int64
}

func newConn(stream io.ReadWriteCloser, r io.Reader, hs *Handshake, h Handler, params Params, logger *slog.Logger, obs Observer) (*Conn, error) {
	if r == nil {
		r = stream
	}
	if logger == nil {
		logger = slog.Default()
	}
	if obs == nil {
		obs = nopObserver{}
	}
	params = params.Normalize(nil)
	id := uuid.NewString()
	c := &Conn{
		id:          id,
		stream:      stream,
		r:           r,
		transport:   hs.transport,
		handler:     h,
		params:      params,
		subprotocol: hs.Subprotocol,
		logger:      logger.With(slog.String("conn_id", id)),
		obs:         obs,
		asm:         assembler{maxSize: params.MaxMessageSize},
	}
	if c.transport == nil {
		c.transport = transportFor("13", false)
	}
	if hs.deflate != nil {
		comp, decomp, err := newCompressionContexts(*hs.deflate, params.Compression, params.MaxMessageSize)
		if err != nil {
			return nil, err
		}
		c.deflater = comp
		c.asm.inflater = decomp
	}
	return c, nil
}

// ID is a unique identifier of the connection.
func (c *Conn) ID() string { return c.id }

// Subprotocol is the negotiated subprotocol, "" if none.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// Compressed reports whether permessage-deflate is active.
func (c *Conn) Compressed() bool { return c.deflater != nil }

// RemoteAddr is the peer address when the stream is a network connection.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.stream.(net.Conn); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}
	return ""
}

func (c *Conn) Stats() Stats {
	return Stats{
		WireBytesIn:     c.wireIn.Load(),
		WireBytesOut:    c.wireOut.Load(),
		MessageBytesIn:  c.msgIn.Load(),
		MessageBytesOut: c.msgOut.Load(),
	}
}

// CloseStatus returns the code and reason recorded when the connection
// started closing.
func (c *Conn) CloseStatus() (CloseCode, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// IsClosing reports whether either side started closing or the stream is
// gone.
func (c *Conn) IsClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientTerminated || c.serverTerminated || c.streamClosed
}

// Serve runs the connection until it is closed or aborted: it starts the
// keepalive, calls OnOpen, reads frames until the peer's close arrives and
// finally calls OnClose. Cancelling ctx closes the connection with 1001.
// The returned error is the failure that aborted the connection, nil after
// a clean close.
func (c *Conn) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close(CloseGoingAway, "server shutting down")
	})
	defer stop()

	c.startKeepalive(ctx)

	if err := c.handler.OnOpen(ctx, c); err != nil {
		c.logger.Error("open handler failed", slog.String("error", err.Error()))
		c.fail(errors.WithMessage(err, "open"))
		return c.failure()
	}

	for !c.isClientTerminated() {
		if err := c.receiveFrame(ctx); err != nil {
			c.fail(err)
		}
	}

	code, reason := c.CloseStatus()
	c.obs.Closed(code)
	c.handler.OnClose(ctx, c, code, reason)
	return c.failure()
}

// fail records the first failure and aborts. Read errors caused by our own
// teardown of the stream are not failures.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil && !c.streamClosed {
		c.err = err
	}
	recorded := c.err == err
	c.mu.Unlock()
	if recorded {
		c.logger.Debug("aborting connection", slog.String("error", err.Error()))
	}
	c.Abort()
}

func (c *Conn) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) isClientTerminated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientTerminated
}

func (c *Conn) receiveFrame(ctx context.Context) error {
	h, err := c.transport.ReadHeader(c.r)
	if err != nil {
		return err
	}
	if err := c.asm.checkReserved(h); err != nil {
		return err
	}
	if err := c.asm.reserve(h); err != nil {
		_ = c.Close(CloseMessageTooBig, "message too big")
		return err
	}
	payload, err := c.transport.ReadPayload(c.r, h)
	if err != nil {
		return err
	}
	n := wireSize(h)
	c.wireIn.Add(n)
	c.obs.FrameReceived(h.Opcode, n)

	if h.Opcode.IsControl() {
		return c.handleControl(ctx, h.Opcode, payload)
	}

	msg, err := c.asm.push(Frame{Header: h, Payload: payload})
	if err != nil {
		if errors.Is(err, ErrMessageTooBig) {
			_ = c.Close(CloseMessageTooBig, "message too big after decompression")
		}
		return err
	}
	if msg == nil || c.isClientTerminated() {
		return nil
	}
	c.msgIn.Add(int64(len(msg.Data)))
	c.obs.MessageReceived(msg.Type, len(msg.Data))
	if err := c.handler.OnMessage(ctx, c, *msg); err != nil {
		return errors.WithMessage(err, "message handler")
	}
	return nil
}

func (c *Conn) handleControl(ctx context.Context, op Opcode, payload []byte) error {
	switch op {
	case OpClose:
		var code CloseCode
		var reason string
		if len(payload) >= 2 {
			code = CloseCode(binary.BigEndian.Uint16(payload))
			reason = string(payload[2:])
		}
		c.mu.Lock()
		c.clientTerminated = true
		c.setCloseStatusLocked(code, reason)
		c.mu.Unlock()
		return c.Close(code, "")
	case OpPing:
		if !c.streamIsClosed() {
			if err := c.writeFrame(OpPong, payload, 0); err != nil {
				return err
			}
		}
		c.handler.OnPing(ctx, c, payload)
	case OpPong:
		c.receivedPong.Store(true)
		c.handler.OnPong(ctx, c, payload)
	}
	return nil
}

// WriteMessage sends one TEXT or BINARY message, compressed when
// permessage-deflate was negotiated. It fails with ErrClosed once the
// connection is closing or the stream broke.
func (c *Conn) WriteMessage(typ MessageType, data []byte) error {
	if typ != TextMessage && typ != BinaryMessage {
		return errors.Errorf("websocket: cannot write %s as a message", typ)
	}
	if c.IsClosing() {
		return ErrClosed
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	payload := data
	var rsv byte
	if c.deflater != nil {
		var err error
		if payload, err = c.deflater.compress(data); err != nil {
			return err
		}
		rsv = rsv1Bit
	}
	if err := c.writeLocked(typ, payload, rsv); err != nil {
		return err
	}
	c.msgOut.Add(int64(len(data)))
	c.obs.MessageSent(typ, len(data))
	return nil
}

// WriteText sends s as a TEXT message.
func (c *Conn) WriteText(s string) error {
	return c.WriteMessage(TextMessage, []byte(s))
}

// Ping sends a ping frame with up to 125 bytes of data.
func (c *Conn) Ping(data []byte) error {
	if c.IsClosing() {
		return ErrClosed
	}
	return c.writeFrame(OpPing, data, 0)
}

// writeFrame writes one final frame. Control frame violations abort the
// connection.
func (c *Conn) writeFrame(op Opcode, payload []byte, rsv byte) error {
	c.wmu.Lock()
	err := c.writeLocked(op, payload, rsv)
	c.wmu.Unlock()
	if errors.Is(err, ErrControlTooLarge) || errors.Is(err, ErrControlFragmented) {
		c.Abort()
	}
	return err
}

func (c *Conn) writeLocked(op Opcode, payload []byte, rsv byte) error {
	buf, err := c.transport.AppendFrame(c.wbuf[:0], true, op, rsv, payload)
	if err != nil {
		return err
	}
	if cap(buf) <= maxRetainedWriteBuffer {
		c.wbuf = buf[:0]
	}
	if nc, ok := c.stream.(net.Conn); ok && c.params.WriteTimeout > 0 {
		if err := nc.SetWriteDeadline(time.Now().Add(c.params.WriteTimeout)); err != nil {
			err = closedError(err)
			c.fail(err)
			return err
		}
	}
	if _, err := c.stream.Write(buf); err != nil {
		// a partial frame leaves the stream unusable
		err = closedError(err)
		c.fail(err)
		return err
	}
	c.wireOut.Add(int64(len(buf)))
	c.obs.FrameSent(op, int64(len(buf)))
	return nil
}

// Close starts or completes the close handshake. A code of zero with a
// non-empty reason is sent as 1000; zero with no reason sends an empty
// close frame. Closing an already closing connection is a no-op.
func (c *Conn) Close(code CloseCode, reason string) error {
	c.mu.Lock()
	send := !c.serverTerminated && !c.streamClosed
	c.serverTerminated = true
	clientDone := c.clientTerminated
	c.mu.Unlock()

	var err error
	if send {
		if code == 0 && reason != "" {
			code = CloseNormalClosure
		}
		var payload []byte
		if code != 0 {
			payload = binary.BigEndian.AppendUint16(payload, uint16(code))
		}
		payload = append(payload, reason...)

		c.mu.Lock()
		c.setCloseStatusLocked(code, reason)
		c.mu.Unlock()

		if err = c.writeFrame(OpClose, payload, 0); err != nil {
			c.Abort()
		} else if !clientDone {
			c.armCloseTimer()
		}
	}
	if clientDone {
		c.closeStream()
	}
	c.stopKeepalive()
	return err
}

// Abort tears the connection down without a close handshake.
func (c *Conn) Abort() {
	c.mu.Lock()
	c.clientTerminated = true
	c.serverTerminated = true
	c.mu.Unlock()
	c.closeStream()
	_ = c.Close(0, "")
}

func (c *Conn) setCloseStatusLocked(code CloseCode, reason string) {
	if c.closeStatusSet {
		return
	}
	c.closeStatusSet = true
	c.closeCode = code
	c.closeReason = reason
}

func (c *Conn) armCloseTimer() {
	if c.params.CloseTimeout <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeTimer == nil && !c.streamClosed {
		c.closeTimer = time.AfterFunc(c.params.CloseTimeout, func() {
			c.logger.Debug("close handshake timed out")
			c.Abort()
		})
	}
}

func (c *Conn) streamIsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamClosed
}

func (c *Conn) closeStream() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.streamClosed = true
		if c.closeTimer != nil {
			c.closeTimer.Stop()
		}
		c.mu.Unlock()
		if err := c.stream.Close(); err != nil {
			c.logger.Debug("closing stream", slog.String("error", err.Error()))
		}
	})
}

// wireSize is the encoded size of a frame with a minimal length field.
func wireSize(h Header) int64 {
	n := int64(2)
	switch {
	case h.Length > 0xFFFF:
		n += 8
	case h.Length >= len16:
		n += 2
	}
	if h.Masked {
		n += 4
	}
	return n + h.Length
}
