package service

import (
	"sync"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/pkg/errors"
)

// Record is a finished session.
type Record struct {
	ID          int       `storm:"id,increment" json:"id"`
	SessionID   string    `storm:"unique" json:"session_id"`
	Remote      string    `json:"remote"`
	Subprotocol string    `json:"subprotocol,omitempty"`
	Command     string    `json:"command"`
	Started     time.Time `json:"started"`
	Ended       time.Time `json:"ended"`
	CloseCode   int       `json:"close_code"`
	CloseReason string    `json:"close_reason,omitempty"`

	WireBytesIn     int64 `json:"wire_bytes_in"`
	WireBytesOut    int64 `json:"wire_bytes_out"`
	MessageBytesIn  int64 `json:"message_bytes_in"`
	MessageBytesOut int64 `json:"message_bytes_out"`
}

// History stores finished sessions in a storm database.
type History struct {
	db        *storm.DB
	closeOnce sync.Once
	closeErr  error
}

func OpenHistory(path string) (*History, error) {
	db, err := storm.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open history %s", path)
	}
	return &History{db: db}, nil
}

func (h *History) Save(r *Record) error {
	return errors.Wrap(h.db.Save(r), "save history record")
}

// Recent returns up to n records, newest first.
func (h *History) Recent(n int) ([]Record, error) {
	var records []Record
	err := h.db.All(&records, storm.Limit(n), storm.Reverse())
	if errors.Is(err, storm.ErrNotFound) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read history")
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func (h *History) Close() error {
	h.closeOnce.Do(func() { h.closeErr = h.db.Close() })
	return h.closeErr
}
