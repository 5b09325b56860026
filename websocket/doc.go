// Package websocket is a server-side RFC 6455 implementation written
// directly against a byte stream.
//
// An Upgrader validates the opening handshake (Negotiator), optionally
// agrees on permessage-deflate (RFC 7692) and returns a Conn. Conn.Serve
// runs the read loop: frames are decoded by a FrameTransport, reassembled
// and decompressed by the message assembler and handed to a Handler one at
// a time. A keepalive goroutine pings the peer when a ping interval is set.
//
// Protocol violations abort the connection without a close frame. Messages
// larger than Params.MaxMessageSize, before or after decompression, are
// answered with close code 1009 and then aborted. Writes on a closing or
// broken connection return ErrClosed.
package websocket
