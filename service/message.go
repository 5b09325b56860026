package service

import (
	"encoding/json"

	"github.com/evrins/wsterm/utils"
	"github.com/pkg/errors"
)

type Event string

const (
	EventResize  Event = "resize"
	EventSendKey Event = "sendKey"
	EventClose   Event = "close"
)

// Message is an event of the default JSON protocol, e.g.
// {"Event": "resize", "Data": {"rows": 24, "cols": 80}}.
type Message struct {
	Event Event
	Data  interface{}
}

func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, errors.Wrap(err, "decode message")
	}
	return msg, nil
}

// decodeResize parses a webtty resize request, {"columns": c, "rows": r}.
func decodeResize(data []byte) (rows, cols uint16, err error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, 0, errors.Wrap(err, "decode resize")
	}
	return utils.WindowSize(v)
}
