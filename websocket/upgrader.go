package websocket

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"
)

// Upgrader turns HTTP requests into WebSocket connections.
type Upgrader struct {
	Params Params
	// SelectSubprotocol and CheckOrigin are passed to the Negotiator.
	SelectSubprotocol func(offered []string) string
	CheckOrigin       func(origin, host string) bool
	Logger            *slog.Logger
	Observer          Observer
}

func (u *Upgrader) negotiator() *Negotiator {
	return &Negotiator{
		Compression:       u.Params.Compression,
		SelectSubprotocol: u.SelectSubprotocol,
		CheckOrigin:       u.CheckOrigin,
	}
}

func (u *Upgrader) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}

func (u *Upgrader) observer() Observer {
	if u.Observer != nil {
		return u.Observer
	}
	return nopObserver{}
}

// Upgrade answers r. Rejected handshakes get an HTTP error written to w and
// the *HandshakeError is returned. On success the connection is hijacked,
// the 101 response written, and the returned Conn is ready to Serve.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, h Handler) (*Conn, error) {
	if r.Method != http.MethodGet {
		herr := handshakeError(http.StatusMethodNotAllowed, "Method Not Allowed")
		u.reject(w, herr)
		return nil, herr
	}

	hs, err := u.negotiator().Negotiate(requestHeader(r))
	var herr *HandshakeError
	if errors.As(err, &herr) {
		u.reject(w, herr)
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, ErrHijack
	}
	netConn, brw, hijackErr := hj.Hijack()
	if hijackErr != nil {
		return nil, errors.Wrap(hijackErr, "hijack")
	}
	if err != nil {
		// bad extension offer: drop the socket without an answer
		u.logger().Debug("aborting handshake", slog.String("error", err.Error()))
		_ = netConn.Close()
		return nil, err
	}

	conn, err := newConn(netConn, brw.Reader, hs, h, u.Params, u.logger(), u.observer())
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	if err := hs.WriteResponse(netConn); err != nil {
		_ = netConn.Close()
		return nil, closedError(err)
	}
	return conn, nil
}

// UpgradeStream runs the handshake on a raw stream whose request headers
// were already parsed. r reads the bytes following the request and may be
// nil to read from stream directly. On failure the stream is answered when
// appropriate and closed.
func (u *Upgrader) UpgradeStream(header http.Header, stream io.ReadWriteCloser, r io.Reader, h Handler) (*Conn, error) {
	hs, err := u.negotiator().Negotiate(header)
	if err != nil {
		var herr *HandshakeError
		if errors.As(err, &herr) {
			u.observer().HandshakeFailed(herr.Status)
			_ = herr.WriteResponse(stream)
		}
		_ = stream.Close()
		return nil, err
	}

	conn, err := newConn(stream, r, hs, h, u.Params, u.logger(), u.observer())
	if err != nil {
		_ = stream.Close()
		return nil, err
	}
	if err := hs.WriteResponse(stream); err != nil {
		_ = stream.Close()
		return nil, closedError(err)
	}
	return conn, nil
}

func (u *Upgrader) reject(w http.ResponseWriter, herr *HandshakeError) {
	u.observer().HandshakeFailed(herr.Status)
	u.logger().Debug("rejecting websocket handshake",
		slog.Int("status", herr.Status),
		slog.String("reason", herr.Message))

	hdr := w.Header()
	for k, vs := range herr.responseHeader() {
		hdr[k] = vs
	}
	w.WriteHeader(herr.Status)
	_, _ = io.WriteString(w, herr.Message)
}

// requestHeader returns the request headers with Host restored; net/http
// moves it to r.Host.
func requestHeader(r *http.Request) http.Header {
	h := r.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Host") == "" && r.Host != "" {
		h.Set("Host", r.Host)
	}
	return h
}
