package service

import (
	"encoding/base64"
	"strings"
	"sync"
	"unicode/utf8"
)

// TextWriter sends one text message. *websocket.Conn implements it.
type TextWriter interface {
	WriteText(s string) error
}

// WsConn adapts a websocket connection to io.Writer for PTY output. Each
// Write becomes one text message; a UTF-8 sequence split between two writes
// is held back until it is complete.
type WsConn struct {
	conn   TextWriter
	encode func([]byte) string
	buf    []byte
}

// NewWsConn writes PTY output as plain text messages.
func NewWsConn(conn TextWriter) *WsConn {
	return &WsConn{conn: conn, encode: encodeText}
}

// NewWebttyConn writes PTY output as webtty Output messages.
func NewWebttyConn(conn TextWriter) *WsConn {
	return &WsConn{conn: conn, encode: encodeWebtty}
}

func encodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}

func encodeWebtty(b []byte) string {
	return string(rune(Output)) + base64.StdEncoding.EncodeToString(b)
}

func (ws *WsConn) Write(b []byte) (int, error) {
	ws.buf = append(ws.buf, b...)
	n := completeLen(ws.buf)
	if n == 0 {
		return len(b), nil
	}
	err := ws.conn.WriteText(ws.encode(ws.buf[:n]))
	ws.buf = append(ws.buf[:0], ws.buf[n:]...)
	return len(b), err
}

// completeLen returns the length of p without a trailing incomplete UTF-8
// sequence.
func completeLen(p []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		c := p[len(p)-i]
		if c < utf8.RuneSelf {
			return len(p)
		}
		if utf8.RuneStart(c) {
			if utf8.FullRune(p[len(p)-i:]) {
				return len(p)
			}
			return len(p) - i
		}
	}
	return len(p)
}

// SocketLimit bounds the number of concurrent terminal connections.
type SocketLimit struct {
	Limit int
	Count int
	sync.Mutex
}

func NewSocketLimit(limit int) *SocketLimit {
	return &SocketLimit{Limit: limit}
}

// Acquire takes a slot, reporting false when the limit is reached.
func (s *SocketLimit) Acquire() bool {
	s.Lock()
	defer s.Unlock()
	if s.Count >= s.Limit {
		return false
	}
	s.Count++
	return true
}

func (s *SocketLimit) Release() {
	s.Lock()
	defer s.Unlock()
	s.Count--
}

func (s *SocketLimit) Exceed() bool {
	s.Lock()
	defer s.Unlock()
	return s.Count >= s.Limit
}
