package service

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/evrins/wsterm/utils"
	"github.com/evrins/wsterm/websocket"
	"github.com/pkg/errors"
)

const (
	defaultRows = 24
	defaultCols = 80

	// time the process gets to exit after SIGHUP before it is killed
	killGrace = 2 * time.Second
)

// terminal runs one process on a PTY for one websocket connection.
type terminal struct {
	websocket.NopHandler

	server  *Server
	logger  *slog.Logger
	argv    []string
	webtty  bool
	session *Session

	ptmx   *os.File
	cmd    *exec.Cmd
	exited chan struct{}

	titleMu sync.Mutex
	title   string
}

func (s *Server) newTerminal() *terminal {
	return &terminal{
		server: s,
		logger: s.logger,
		argv:   s.command,
		exited: make(chan struct{}),
	}
}

func (t *terminal) OnOpen(ctx context.Context, c *websocket.Conn) error {
	t.webtty = c.Subprotocol() == Protocols[0]
	t.logger = t.logger.With(slog.String("conn", c.ID()), slog.String("remote", c.RemoteAddr()))

	//nolint
	cmd := exec.Command(t.argv[0], t.argv[1:]...)
	cmd.Env = append(os.Environ(), "TERM="+utils.GetEnv("TERM", "xterm-256color"))
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: defaultRows, Cols: defaultCols})
	if err != nil {
		return errors.Wrap(err, "failed to create pty")
	}
	t.ptmx, t.cmd = ptmx, cmd
	go func() {
		_ = cmd.Wait()
		close(t.exited)
	}()

	command := strings.Join(t.argv, " ")
	t.session = NewSession(c.ID(), c.RemoteAddr(), c.Subprotocol(), command, defaultCols, defaultRows)
	t.server.sessions.Add(t.session)
	t.logger.Info("terminal started",
		slog.String("command", command),
		slog.Int("pid", cmd.Process.Pid),
		slog.String("subprotocol", c.Subprotocol()))

	var out *WsConn
	if t.webtty {
		out = NewWebttyConn(c)
		hostname, _ := os.Hostname()
		t.setTitle(c, command+"@"+hostname)
	} else {
		out = NewWsConn(c)
	}
	go t.copyOutput(c, out)
	return nil
}

// copyOutput copies process output to the screen and the socket until the
// PTY is closed, then closes the socket.
func (t *terminal) copyOutput(c *websocket.Conn, out *WsConn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			_, _ = t.session.Write(buf[:n])
			if _, werr := out.Write(buf[:n]); werr != nil {
				t.logger.Debug("failed to write output", slog.String("error", werr.Error()))
				return
			}
			if t.webtty {
				t.setTitle(c, t.session.Title())
			}
		}
		if err != nil {
			break
		}
	}
	_ = c.Close(websocket.CloseNormalClosure, "process exited")
}

func (t *terminal) setTitle(c *websocket.Conn, title string) {
	t.titleMu.Lock()
	defer t.titleMu.Unlock()
	if title == "" || title == t.title {
		return
	}
	t.title = title
	_ = c.WriteText(string(rune(SetWindowTitle)) + title)
}

func (t *terminal) OnMessage(ctx context.Context, c *websocket.Conn, msg websocket.Message) error {
	if t.webtty {
		return t.handleWebtty(c, msg.Data)
	}
	if msg.Type == websocket.BinaryMessage {
		return t.input(msg.Data)
	}

	m, err := decodeMessage(msg.Data)
	if err != nil {
		return t.reject(c, err)
	}
	switch m.Event {
	case EventClose:
		t.logger.Debug("close requested by client")
		return c.Close(websocket.CloseNormalClosure, "")
	case EventResize:
		rows, cols, err := utils.WindowSize(m.Data)
		if err != nil {
			return t.reject(c, err)
		}
		return t.resize(rows, cols)
	case EventSendKey:
		data, ok := m.Data.(string)
		if !ok {
			return t.reject(c, errors.Errorf("invalid message data: %v", m.Data))
		}
		return t.input([]byte(data))
	default:
		return t.reject(c, errors.Errorf("unknown event %q", m.Event))
	}
}

func (t *terminal) handleWebtty(c *websocket.Conn, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case Input:
		return t.input(data[1:])
	case Ping:
		return c.WriteText(string(rune(Pong)))
	case ResizeTerminal:
		rows, cols, err := decodeResize(data[1:])
		if err != nil {
			return t.reject(c, err)
		}
		return t.resize(rows, cols)
	default:
		return t.reject(c, errors.Errorf("unknown message type %q", data[0]))
	}
}

// reject closes the connection with 1003 for a message the terminal cannot
// interpret.
func (t *terminal) reject(c *websocket.Conn, err error) error {
	t.logger.Warn("invalid message", slog.String("error", err.Error()))
	_ = c.Close(websocket.CloseUnsupportedData, "invalid message")
	return nil
}

func (t *terminal) input(data []byte) error {
	if _, err := t.ptmx.Write(data); err != nil {
		return errors.Wrap(err, "failed to write data to ptmx")
	}
	return nil
}

func (t *terminal) resize(rows, cols uint16) error {
	if err := pty.Setsize(t.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return errors.Wrap(err, "failed to set window size")
	}
	t.session.Resize(int(cols), int(rows))
	return nil
}

func (t *terminal) OnPong(ctx context.Context, c *websocket.Conn, data []byte) {
	t.logger.Debug("pong received")
}

// OnClose hangs up the process, killing it when it does not exit, and
// records the finished session.
func (t *terminal) OnClose(ctx context.Context, c *websocket.Conn, code websocket.CloseCode, reason string) {
	t.server.sessions.Remove(t.session.ID)

	_ = t.cmd.Process.Signal(syscall.SIGHUP)
	_ = t.ptmx.Close()
	select {
	case <-t.exited:
	case <-time.After(killGrace):
		t.logger.Warn("process ignored SIGHUP, killing it", slog.Int("pid", t.cmd.Process.Pid))
		_ = t.cmd.Process.Kill()
		<-t.exited
	}

	t.logger.Info("terminal closed", slog.Int("code", int(code)), slog.String("reason", reason))
	t.server.record(t.session, c, code, reason)
}
