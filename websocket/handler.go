package websocket

import "context"

// Handler receives the events of one connection. Conn calls the methods
// from its read loop and waits for each to return before reading the next
// frame, so calls for one connection never overlap.
type Handler interface {
	// OnOpen runs once after the 101 response was written. An error
	// aborts the connection and OnClose is not called.
	OnOpen(ctx context.Context, c *Conn) error
	// OnMessage receives each complete data message. An error aborts the
	// connection.
	OnMessage(ctx context.Context, c *Conn, msg Message) error
	// OnPing runs after the matching pong has been sent.
	OnPing(ctx context.Context, c *Conn, data []byte)
	OnPong(ctx context.Context, c *Conn, data []byte)
	// OnClose runs exactly once when the read loop ends. code is zero when
	// the peer sent no status or the connection was aborted.
	OnClose(ctx context.Context, c *Conn, code CloseCode, reason string)
}

// NopHandler implements Handler with no-ops. Embed it to override only the
// events you need.
type NopHandler struct{}

var _ Handler = NopHandler{}

func (NopHandler) OnOpen(context.Context, *Conn) error { return nil }
func (NopHandler) OnMessage(context.Context, *Conn, Message) error { return nil }
func (NopHandler) OnPing(context.Context, *Conn, []byte) {}
func (NopHandler) OnPong(context.Context, *Conn, []byte) {}
func (NopHandler) OnClose(context.Context, *Conn, CloseCode, string) {}

// Observer receives protocol-level counters, for example to export them as
// metrics. Implementations must be safe for concurrent use.
type Observer interface {
	HandshakeFailed(status int)
	FrameReceived(op Opcode, wireBytes int64)
	FrameSent(op Opcode, wireBytes int64)
	MessageReceived(op Opcode, size int)
	MessageSent(op Opcode, size int)
	Closed(code CloseCode)
}

type nopObserver struct{}

func (nopObserver) HandshakeFailed(int) {}
func (nopObserver) FrameReceived(Opcode, int64) {}
func (nopObserver) FrameSent(Opcode, int64) {}
func (nopObserver) MessageReceived(Opcode, int) {}
func (nopObserver) MessageSent(Opcode, int) {}
func (nopObserver) Closed(CloseCode) {}
