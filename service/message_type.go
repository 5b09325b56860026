package service

// Protocols lists the subprotocols the terminal speaks besides the default
// JSON events.
var Protocols = []string{"webtty"}

// webtty input message types, the first byte of each message.
const (
	// UnknownInput Unknown message type, maybe sent by a bug
	UnknownInput = '0'
	// Input User input typically from a keyboard
	Input = '1'
	// Ping to the server
	Ping = '2'
	// ResizeTerminal Notify that the browser size has been changed
	ResizeTerminal = '3'
)

// webtty output message types.
const (
	// UnknownOutput Unknown message type, maybe set by a bug
	UnknownOutput = '0'
	// Output Normal output to the terminal, base64 encoded
	Output = '1'
	// Pong to the browser
	Pong = '2'
	// SetWindowTitle Set window title of the terminal
	SetWindowTitle = '3'
)

func selectProtocol(offered []string) string {
	for _, p := range offered {
		for _, supported := range Protocols {
			if p == supported {
				return p
			}
		}
	}
	return ""
}
