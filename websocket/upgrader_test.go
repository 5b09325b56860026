package websocket

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	xws "golang.org/x/net/websocket"
)

type countingObserver struct {
	nopObserver
	mu       sync.Mutex
	failures []int
	closes   []CloseCode
}

func (o *countingObserver) HandshakeFailed(status int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, status)
}

func (o *countingObserver) Closed(code CloseCode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes = append(o.closes, code)
}

func newUpgradeServer(t *testing.T, u *Upgrader, h Handler) (*httptest.Server, <-chan error) {
	t.Helper()
	errs := make(chan error, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := u.Upgrade(w, r, h)
		if err != nil {
			errs <- err
			return
		}
		errs <- c.Serve(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv, errs
}

func TestUpgrader_InteropWithXNetClient(t *testing.T) {
	rec := newRecorder()
	rec.echo = true
	obs := &countingObserver{}
	u := &Upgrader{
		Params:            DefaultParams(),
		SelectSubprotocol: func(p []string) string { return p[0] },
		Logger:            testLogger(),
		Observer:          obs,
	}
	srv, errs := newUpgradeServer(t, u, rec)

	addr := strings.TrimPrefix(srv.URL, "http://")
	ws, err := xws.Dial("ws://"+addr+"/ws", "webtty", "http://"+addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	c := <-rec.opened
	if c.Subprotocol() != "webtty" {
		t.Errorf("subprotocol = %q", c.Subprotocol())
	}

	if err := xws.Message.Send(ws, "hello from x/net"); err != nil {
		t.Fatal(err)
	}
	var reply string
	_ = ws.SetReadDeadline(time.Now().Add(testTimeout))
	if err := xws.Message.Receive(ws, &reply); err != nil {
		t.Fatal(err)
	}
	if reply != "hello from x/net" {
		t.Errorf("reply = %q", reply)
	}

	if err := xws.Message.Send(ws, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	var bin []byte
	if err := xws.Message.Receive(ws, &bin); err != nil {
		t.Fatal(err)
	}
	if string(bin) != "\x01\x02\x03" {
		t.Errorf("binary reply = %v", bin)
	}

	_ = ws.Close()
	select {
	case err := <-errs:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Serve did not return")
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.closes) != 1 || obs.closes[0] != CloseNormalClosure {
		t.Errorf("observed closes = %v", obs.closes)
	}
}

func TestUpgrader_RejectsPlainHTTP(t *testing.T) {
	obs := &countingObserver{}
	u := &Upgrader{Params: DefaultParams(), Logger: testLogger(), Observer: obs}
	srv, _ := newUpgradeServer(t, u, NopHandler{})

	tests := []struct {
		name     string
		method   string
		header   map[string]string
		status   int
		body     string
		versions string
	}{
		{
			name:   "not an upgrade",
			method: http.MethodGet,
			status: http.StatusBadRequest,
			body:   `Can "Upgrade" only to "WebSocket".`,
		},
		{
			name:   "post",
			method: http.MethodPost,
			status: http.StatusMethodNotAllowed,
			body:   "Method Not Allowed",
		},
		{
			name:   "missing key",
			method: http.MethodGet,
			header: map[string]string{
				"Upgrade":               "websocket",
				"Connection":            "Upgrade",
				"Sec-WebSocket-Version": "13",
			},
			status: http.StatusBadRequest,
			body:   "Missing/Invalid WebSocket headers",
		},
		{
			name:   "unsupported version",
			method: http.MethodGet,
			header: map[string]string{
				"Upgrade":               "websocket",
				"Connection":            "Upgrade",
				"Sec-WebSocket-Key":     "dGhlIHNhbXBsZSBub25jZQ==",
				"Sec-WebSocket-Version": "5",
			},
			status:   http.StatusUpgradeRequired,
			body:     "Upgrade Required",
			versions: "7, 8, 13",
		},
		{
			name:   "cross origin",
			method: http.MethodGet,
			header: map[string]string{
				"Upgrade":               "websocket",
				"Connection":            "Upgrade",
				"Sec-WebSocket-Key":     "dGhlIHNhbXBsZSBub25jZQ==",
				"Sec-WebSocket-Version": "13",
				"Origin":                "http://attacker.example",
			},
			status: http.StatusForbidden,
			body:   "Cross origin websockets not allowed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+"/ws", nil)
			if err != nil {
				t.Fatal(err)
			}
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)

			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if string(body) != tt.body {
				t.Errorf("body = %q, want %q", body, tt.body)
			}
			if got := resp.Header.Get("Sec-WebSocket-Version"); got != tt.versions {
				t.Errorf("Sec-WebSocket-Version = %q, want %q", got, tt.versions)
			}
		})
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.failures) != len(tests) {
		t.Errorf("observed %d handshake failures, want %d", len(obs.failures), len(tests))
	}
}

func TestUpgrader_BadExtensionDropsSocket(t *testing.T) {
	params := DefaultParams()
	params.Compression = &CompressionOptions{}
	u := &Upgrader{Params: params, Logger: testLogger()}
	srv, errs := newUpgradeServer(t, u, NopHandler{})

	conn, err := net.Dial("tcp", strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "GET /ws HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n"+
		"Sec-WebSocket-Version: 13\r\n"+
		"Sec-WebSocket-Extensions: permessage-deflate; client_max_window_bits=3\r\n"+
		"\r\n", conn.RemoteAddr())

	_ = conn.SetReadDeadline(time.Now().Add(testTimeout))
	if n, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("read %d bytes, err = %v; want the socket dropped", n, err)
	}
	if err := <-errs; err == nil || !strings.Contains(err.Error(), ErrBadExtension.Error()) {
		t.Errorf("Upgrade = %v", err)
	}
}

func TestUpgrader_CompressionNegotiated(t *testing.T) {
	rec := newRecorder()
	params := DefaultParams()
	params.Compression = &CompressionOptions{Level: 1}
	u := &Upgrader{Params: params, Logger: testLogger()}
	srv, _ := newUpgradeServer(t, u, rec)

	conn, err := net.Dial("tcp", strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	fmt.Fprintf(conn, "GET /ws HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n"+
		"Sec-WebSocket-Version: 13\r\n"+
		"Sec-WebSocket-Extensions: permessage-deflate; client_max_window_bits\r\n"+
		"\r\n", conn.RemoteAddr())

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Extensions"); got != "permessage-deflate" {
		t.Errorf("extensions = %q", got)
	}
	if got := resp.Header.Get("Sec-WebSocket-Accept"); got != "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=" {
		t.Errorf("accept = %q", got)
	}

	c := <-rec.opened
	if !c.Compressed() {
		t.Error("connection is not compressed")
	}
}

func TestUpgradeStream(t *testing.T) {
	server, client := tcpPair(t)
	rec := newRecorder()
	rec.echo = true
	u := &Upgrader{Params: DefaultParams(), Logger: testLogger()}

	done := make(chan error, 1)
	go func() {
		br := bufio.NewReader(server)
		req, err := http.ReadRequest(br)
		if err != nil {
			done <- err
			return
		}
		c, err := u.UpgradeStream(requestHeader(req), server, br, rec)
		if err != nil {
			done <- err
			return
		}
		done <- c.Serve(req.Context())
	}()

	fmt.Fprint(client, "GET /termsocket HTTP/1.1\r\n"+
		"Host: localhost\r\n"+
		"Upgrade: WebSocket\r\n"+
		"Connection: keep-alive, upgrade\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n"+
		"Sec-WebSocket-Version: 8\r\n"+
		"Sec-WebSocket-Origin: http://localhost\r\n"+
		"\r\n")

	peer := &testPeer{
		t:    t,
		conn: client,
		br:   bufio.NewReader(client),
		out:  transportFor("8", true),
		in:   transportFor("8", false),
	}
	resp, err := http.ReadResponse(peer.br, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	peer.send(true, OpText, 0, []byte("draft 8"))
	if f := peer.expect(OpText); string(f.Payload) != "draft 8" {
		t.Errorf("echo = %q", f.Payload)
	}
	peer.sendClose(CloseNormalClosure, "")
	peer.expectClose(CloseNormalClosure, "")
	if err := waitServe(t, done); err != nil {
		t.Errorf("Serve = %v", err)
	}
}

func TestUpgradeStream_Rejected(t *testing.T) {
	server, client := tcpPair(t)
	u := &Upgrader{Params: DefaultParams(), Logger: testLogger()}

	hdr := http.Header{"Host": {"localhost"}, "Upgrade": {"websocket"}}
	go func() { _, _ = u.UpgradeStream(hdr, server, nil, NopHandler{}) }()

	_ = client.SetReadDeadline(time.Now().Add(testTimeout))
	resp, err := http.ReadResponse(bufio.NewReader(client), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest || !resp.Close {
		t.Errorf("status = %d, close = %v", resp.StatusCode, resp.Close)
	}
}
