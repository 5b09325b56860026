package service

import (
	"fmt"
	"path/filepath"
	"testing"
)

func openTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestHistory_Empty(t *testing.T) {
	h := openTestHistory(t)
	records, err := h.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if records == nil || len(records) != 0 {
		t.Errorf("records = %#v", records)
	}
}

func TestHistory_RecentNewestFirst(t *testing.T) {
	h := openTestHistory(t)
	for i := 0; i < 3; i++ {
		r := &Record{SessionID: fmt.Sprintf("s%d", i), CloseCode: 1000}
		if err := h.Save(r); err != nil {
			t.Fatal(err)
		}
		if r.ID == 0 {
			t.Error("id not assigned")
		}
	}

	records, err := h.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].SessionID != "s2" || records[1].SessionID != "s1" {
		t.Errorf("records = %+v", records)
	}
}
