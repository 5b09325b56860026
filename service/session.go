package service

import (
	"sort"
	"sync"
	"time"

	"github.com/hinshun/vt10x"
)

// SessionInfo describes a live session.
type SessionInfo struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	Subprotocol string    `json:"subprotocol,omitempty"`
	Command     string    `json:"command"`
	Started     time.Time `json:"started"`
	Cols        int       `json:"cols"`
	Rows        int       `json:"rows"`
	Title       string    `json:"title,omitempty"`
}

// Session is one connected terminal. It keeps a screen model fed with
// everything the process printed.
type Session struct {
	ID          string
	Remote      string
	Subprotocol string
	Command     string
	Started     time.Time

	mu     sync.Mutex
	screen vt10x.Terminal
}

func NewSession(id, remote, subprotocol, command string, cols, rows int) *Session {
	return &Session{
		ID:          id,
		Remote:      remote,
		Subprotocol: subprotocol,
		Command:     command,
		Started:     time.Now(),
		screen:      vt10x.New(vt10x.WithSize(cols, rows)),
	}
}

// Write feeds process output to the screen.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.Write(p)
}

func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screen.Resize(cols, rows)
}

// Screen returns the visible text of the terminal.
func (s *Session) Screen() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.String()
}

// Title is the window title last set by the process.
func (s *Session) Title() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screen.Title()
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	cols, rows := s.screen.Size()
	title := s.screen.Title()
	s.mu.Unlock()

	return SessionInfo{
		ID:          s.ID,
		Remote:      s.Remote,
		Subprotocol: s.Subprotocol,
		Command:     s.Command,
		Started:     s.Started,
		Cols:        cols,
		Rows:        rows,
		Title:       title,
	}
}

// Registry tracks the live sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns the sessions, oldest first.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Started.Before(infos[j].Started)
	})
	return infos
}
