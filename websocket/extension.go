package websocket

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gobwas/ws/wsflate"
	"github.com/pkg/errors"
)

const permessageDeflate = "permessage-deflate"

type extensionParam struct {
	value    string
	hasValue bool
}

// extension is one entry of a Sec-WebSocket-Extensions header.
type extension struct {
	name   string
	params map[string]extensionParam
}

// parseExtensions splits a Sec-WebSocket-Extensions header into offers.
// Parameter names are lowercased and quoted values unquoted; a repeated
// parameter keeps its last value.
func parseExtensions(h http.Header) []extension {
	raw := strings.Join(h.Values("Sec-WebSocket-Extensions"), ",")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var exts []extension
	for _, entry := range strings.Split(raw, ",") {
		parts := splitParams(strings.TrimSpace(entry))
		if len(parts) == 0 || parts[0] == "" {
			continue
		}
		ext := extension{name: parts[0], params: map[string]extensionParam{}}
		for _, p := range parts[1:] {
			if p == "" {
				continue
			}
			k, v, ok := strings.Cut(p, "=")
			k = strings.ToLower(strings.TrimSpace(k))
			if !ok {
				ext.params[k] = extensionParam{}
				continue
			}
			v = strings.TrimSpace(v)
			if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
				v = v[1 : len(v)-1]
			}
			ext.params[k] = extensionParam{value: v, hasValue: true}
		}
		exts = append(exts, ext)
	}
	return exts
}

// splitParams splits on semicolons that are not inside a quoted string.
func splitParams(s string) []string {
	var parts []string
	inQuote, escaped := false, false
	start := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case escaped:
			escaped = false
		case c == '\\' && inQuote:
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == ';' && !inQuote:
			parts = append(parts, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(parts, strings.TrimSpace(s[start:]))
}

// String renders the extension the way it is echoed back in a response:
// parameters sorted by name, valueless ones bare.
func (e extension) String() string {
	keys := make([]string, 0, len(e.params))
	for k := range e.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(e.name)
	for _, k := range keys {
		b.WriteString("; ")
		b.WriteString(k)
		if p := e.params[k]; p.hasValue {
			b.WriteByte('=')
			b.WriteString(p.value)
		}
	}
	return b.String()
}

// deflateParameters validates a permessage-deflate offer and returns the
// agreed parameters. Unknown parameters and window sizes outside 8-15 are
// rejected with ErrBadExtension.
func (e extension) deflateParameters() (wsflate.Parameters, error) {
	var p wsflate.Parameters
	for k, v := range e.params {
		switch k {
		case "server_no_context_takeover":
			p.ServerNoContextTakeover = true
		case "client_no_context_takeover":
			p.ClientNoContextTakeover = true
		case "server_max_window_bits", "client_max_window_bits":
			if !v.hasValue {
				// only a client may offer an empty client_max_window_bits
				if k == "server_max_window_bits" {
					return p, errors.Wrap(ErrBadExtension, "server_max_window_bits needs a value")
				}
				continue
			}
			bits, err := strconv.Atoi(v.value)
			if err != nil {
				return p, errors.Wrapf(ErrBadExtension, "%s=%q", k, v.value)
			}
			if err := checkWindowBits(bits); err != nil {
				return p, err
			}
			if k == "server_max_window_bits" {
				p.ServerMaxWindowBits = wsflate.WindowBits(bits)
			} else {
				p.ClientMaxWindowBits = wsflate.WindowBits(bits)
			}
		default:
			return p, errors.Wrapf(ErrBadExtension, "unsupported compression parameter %q", k)
		}
	}
	return p, nil
}
