package service

import (
	"strings"
	"testing"
	"time"
)

func TestSession_Screen(t *testing.T) {
	s := NewSession("id", "127.0.0.1:1", "", "bash", 80, 24)
	if _, err := s.Write([]byte("hello\r\nworld")); err != nil {
		t.Fatal(err)
	}
	screen := s.Screen()
	if !strings.Contains(screen, "hello") || !strings.Contains(screen, "world") {
		t.Errorf("screen = %q", screen)
	}

	_, _ = s.Write([]byte("\x1b]0;my title\x07"))
	if s.Title() != "my title" {
		t.Errorf("title = %q", s.Title())
	}

	s.Resize(100, 30)
	info := s.Info()
	if info.Cols != 100 || info.Rows != 30 {
		t.Errorf("size = %dx%d", info.Cols, info.Rows)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	first := NewSession("a", "", "", "bash", 80, 24)
	second := NewSession("b", "", "webtty", "top", 80, 24)
	second.Started = first.Started.Add(time.Second)

	r.Add(second)
	r.Add(first)
	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}
	list := r.List()
	if list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("list not ordered by start: %+v", list)
	}
	if got, ok := r.Get("b"); !ok || got != second {
		t.Error("Get(b) failed")
	}

	r.Remove("a")
	if _, ok := r.Get("a"); ok {
		t.Error("removed session still registered")
	}
	if r.Len() != 1 {
		t.Errorf("len = %d", r.Len())
	}
}
