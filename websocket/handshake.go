package websocket

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/gobwas/ws/wsflate"
)

const (
	acceptGUID        = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	supportedVersions = "7, 8, 13"
	textPlainUTF8     = "text/plain; charset=utf-8"
)

// ComputeAcceptKey returns the Sec-WebSocket-Accept value for a client key.
func ComputeAcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Handshake is the outcome of a successful negotiation.
type Handshake struct {
	Version     string
	Accept      string
	Subprotocol string
	// Extensions is the Sec-WebSocket-Extensions value echoed to the
	// client, empty when no extension was agreed.
	Extensions string

	transport FrameTransport
	deflate   *wsflate.Parameters
}

// Negotiator validates opening handshakes.
type Negotiator struct {
	// Compression enables permessage-deflate negotiation when non-nil.
	Compression *CompressionOptions
	// SelectSubprotocol picks one of the offered subprotocols, or "" for
	// none. Nil selects none.
	SelectSubprotocol func(offered []string) string
	// CheckOrigin overrides the same-origin check. It is only consulted when
	// the request carries an origin.
	CheckOrigin func(origin, host string) bool
}

// Negotiate validates the request headers. Failures that deserve an HTTP
// answer are returned as *HandshakeError; an unacceptable extension offer
// is returned as ErrBadExtension and the socket should just be dropped.
func (n *Negotiator) Negotiate(h http.Header) (*Handshake, error) {
	if !strings.EqualFold(h.Get("Upgrade"), "websocket") {
		return nil, handshakeError(http.StatusBadRequest, `Can "Upgrade" only to "WebSocket".`)
	}
	if !headerHasToken(h, "Connection", "upgrade") {
		return nil, handshakeError(http.StatusBadRequest, `"Connection" must be "Upgrade".`)
	}

	host, key, version := h.Get("Host"), h.Get("Sec-WebSocket-Key"), h.Get("Sec-WebSocket-Version")
	if host == "" || key == "" || version == "" {
		return nil, handshakeError(http.StatusBadRequest, "Missing/Invalid WebSocket headers")
	}

	// Drafts 7 and 8 send Sec-WebSocket-Origin instead of Origin.
	origin, hasOrigin := firstValue(h, "Origin")
	if !hasOrigin {
		origin, hasOrigin = firstValue(h, "Sec-Websocket-Origin")
	}
	if hasOrigin && !n.checkOrigin(origin, host) {
		return nil, handshakeError(http.StatusForbidden, "Cross origin websockets not allowed")
	}

	transport := transportFor(strings.TrimSpace(version), false)
	if transport == nil {
		err := handshakeError(http.StatusUpgradeRequired, "Upgrade Required")
		err.Header = http.Header{
			"Content-Type":          {textPlainUTF8},
			"Sec-Websocket-Version": {supportedVersions},
		}
		return nil, err
	}

	hs := &Handshake{
		Version:   version,
		Accept:    ComputeAcceptKey(key),
		transport: transport,
	}

	if offered := splitTokens(h, "Sec-WebSocket-Protocol"); len(offered) > 0 && n.SelectSubprotocol != nil {
		if sel := n.SelectSubprotocol(offered); sel != "" && slices.Contains(offered, sel) {
			hs.Subprotocol = sel
		}
	}

	if n.Compression != nil {
		for _, ext := range parseExtensions(h) {
			if !strings.EqualFold(ext.name, permessageDeflate) {
				continue
			}
			params, err := ext.deflateParameters()
			if err != nil {
				return nil, err
			}
			// An offered client_max_window_bits without a value must not
			// be echoed.
			if p, ok := ext.params["client_max_window_bits"]; ok && !p.hasValue {
				delete(ext.params, "client_max_window_bits")
			}
			ext.name = permessageDeflate
			hs.Extensions = ext.String()
			hs.deflate = &params
			break
		}
	}
	return hs, nil
}

func (n *Negotiator) checkOrigin(origin, host string) bool {
	if n.CheckOrigin != nil {
		return n.CheckOrigin(origin, host)
	}
	return SameOrigin(origin, host)
}

// SameOrigin reports whether the host[:port] of origin equals host, ignoring
// case.
func SameOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host != "" && strings.EqualFold(u.Host, host)
}

// WriteResponse writes the 101 Switching Protocols response.
func (hs *Handshake) WriteResponse(w io.Writer) error {
	var b bytes.Buffer
	b.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: Upgrade\r\n")
	b.WriteString("Sec-WebSocket-Accept: " + hs.Accept + "\r\n")
	if hs.Subprotocol != "" {
		b.WriteString("Sec-WebSocket-Protocol: " + hs.Subprotocol + "\r\n")
	}
	if hs.Extensions != "" {
		b.WriteString("Sec-WebSocket-Extensions: " + hs.Extensions + "\r\n")
	}
	b.WriteString("\r\n")
	_, err := w.Write(b.Bytes())
	return err
}

// WriteResponse writes the error as a complete HTTP/1.1 response on a raw
// stream. The body is the message as plain text.
func (e *HandshakeError) WriteResponse(w io.Writer) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", e.Status, http.StatusText(e.Status))
	hdr := e.responseHeader()
	_ = hdr.Write(&b)
	b.WriteString("\r\n")
	b.WriteString(e.Message)
	_, err := w.Write(b.Bytes())
	return err
}

func (e *HandshakeError) responseHeader() http.Header {
	hdr := http.Header{}
	for k, vs := range e.Header {
		hdr[k] = append([]string(nil), vs...)
	}
	hdr.Set("Connection", "close")
	if hdr.Get("Content-Type") == "" {
		hdr.Set("Content-Type", textPlainUTF8)
	}
	hdr.Set("Content-Length", strconv.Itoa(len(e.Message)))
	return hdr
}

func firstValue(h http.Header, key string) (string, bool) {
	vs := h.Values(key)
	if len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// splitTokens returns the trimmed, non-empty comma separated values of a
// header, across repeated header lines.
func splitTokens(h http.Header, key string) []string {
	var out []string
	for _, v := range h.Values(key) {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func headerHasToken(h http.Header, key, token string) bool {
	for _, s := range splitTokens(h, key) {
		if strings.EqualFold(s, token) {
			return true
		}
	}
	return false
}
