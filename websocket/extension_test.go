package websocket

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gobwas/ws/wsflate"
)

func extHeader(v ...string) http.Header {
	h := http.Header{}
	for _, s := range v {
		h.Add("Sec-WebSocket-Extensions", s)
	}
	return h
}

func TestParseExtensions(t *testing.T) {
	exts := parseExtensions(extHeader(
		`permessage-deflate; client_max_window_bits; Server_Max_Window_Bits="10"`,
		`x-webkit-deflate-frame, foo; a=1; b`,
	))
	if len(exts) != 3 {
		t.Fatalf("got %d extensions, want 3", len(exts))
	}

	pmd := exts[0]
	if pmd.name != "permessage-deflate" {
		t.Errorf("name = %q", pmd.name)
	}
	if p, ok := pmd.params["client_max_window_bits"]; !ok || p.hasValue {
		t.Errorf("client_max_window_bits = %+v, want present without value", p)
	}
	if p := pmd.params["server_max_window_bits"]; p.value != "10" || !p.hasValue {
		t.Errorf("server_max_window_bits = %+v, want unquoted 10", p)
	}
	if exts[1].name != "x-webkit-deflate-frame" || len(exts[1].params) != 0 {
		t.Errorf("second extension = %+v", exts[1])
	}
	if got := exts[2].String(); got != "foo; a=1; b" {
		t.Errorf("String() = %q", got)
	}
}

func TestParseExtensions_Empty(t *testing.T) {
	if exts := parseExtensions(http.Header{}); exts != nil {
		t.Errorf("got %v, want nil", exts)
	}
}

func TestSplitParams_QuotedSemicolon(t *testing.T) {
	got := splitParams(`name; a="x;y"; b`)
	want := []string{"name", `a="x;y"`, "b"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("part %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtensionString_SortsParameters(t *testing.T) {
	e := extension{name: "permessage-deflate", params: map[string]extensionParam{
		"server_no_context_takeover": {},
		"client_max_window_bits":     {value: "15", hasValue: true},
	}}
	want := "permessage-deflate; client_max_window_bits=15; server_no_context_takeover"
	if got := e.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestDeflateParameters(t *testing.T) {
	tests := []struct {
		header string
		want   wsflate.Parameters
		err    error
	}{
		{header: "permessage-deflate", want: wsflate.Parameters{}},
		{
			header: "permessage-deflate; server_no_context_takeover; client_no_context_takeover",
			want:   wsflate.Parameters{ServerNoContextTakeover: true, ClientNoContextTakeover: true},
		},
		{
			header: "permessage-deflate; server_max_window_bits=9; client_max_window_bits=12",
			want:   wsflate.Parameters{ServerMaxWindowBits: 9, ClientMaxWindowBits: 12},
		},
		{header: "permessage-deflate; client_max_window_bits", want: wsflate.Parameters{}},
		{header: "permessage-deflate; server_max_window_bits", err: ErrBadExtension},
		{header: "permessage-deflate; server_max_window_bits=7", err: ErrBadExtension},
		{header: "permessage-deflate; client_max_window_bits=16", err: ErrBadExtension},
		{header: "permessage-deflate; client_max_window_bits=abc", err: ErrBadExtension},
		{header: "permessage-deflate; mem_level=8", err: ErrBadExtension},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			exts := parseExtensions(extHeader(tt.header))
			got, err := exts[0].deflateParameters()
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Errorf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("params = %+v, want %+v", got, tt.want)
			}
		})
	}
}
