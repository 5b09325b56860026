package websocket

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/gobwas/ws/wsflate"
)

func TestCompression_RoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("a"),
		[]byte(strings.Repeat("hello websocket ", 200)),
		bytes.Repeat([]byte{0x00, 0xff, 0x10}, 40000),
	}
	for wbits := minWindowBits; wbits <= maxWindowBits; wbits++ {
		for _, persistent := range []bool{false, true} {
			t.Run(fmt.Sprintf("wbits=%d/persistent=%v", wbits, persistent), func(t *testing.T) {
				c, err := newCompressor(wbits, persistent, DefaultCompressionLevel)
				if err != nil {
					t.Fatalf("newCompressor: %v", err)
				}
				d, err := newDecompressor(wbits, persistent, DefaultMaxMessageSize)
				if err != nil {
					t.Fatalf("newDecompressor: %v", err)
				}
				// run twice so context takeover is exercised
				for round := 0; round < 2; round++ {
					for _, p := range payloads {
						z, err := c.compress(p)
						if err != nil {
							t.Fatalf("compress: %v", err)
						}
						if bytes.HasSuffix(z, deflateTail) && len(p) > 0 {
							t.Errorf("sync flush marker was not stripped")
						}
						got, err := d.decompress(z)
						if err != nil {
							t.Fatalf("decompress: %v", err)
						}
						if !bytes.Equal(got, p) {
							t.Fatalf("round trip mismatch for %d bytes", len(p))
						}
					}
				}
			})
		}
	}
}

func TestCompression_ContextTakeoverShrinksRepeats(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	msg := make([]byte, 2000)
	for i := range msg {
		msg[i] = 'a' + byte(rng.Intn(26))
	}

	persistent, _ := newCompressor(15, true, DefaultCompressionLevel)
	first, _ := persistent.compress(msg)
	second, _ := persistent.compress(msg)
	if len(second) >= len(first) {
		t.Errorf("second message %d bytes, first %d: context was not reused", len(second), len(first))
	}

	fresh, _ := newCompressor(15, false, DefaultCompressionLevel)
	a, _ := fresh.compress(msg)
	b, _ := fresh.compress(msg)
	if !bytes.Equal(a, b) {
		t.Error("no-context-takeover compressor produced different output for the same message")
	}
}

func TestDecompress_BombIsRejected(t *testing.T) {
	const limit = 16 << 10
	c, _ := newCompressor(15, false, 1)
	bomb, err := c.compress(make([]byte, 1<<20))
	if err != nil {
		t.Fatal(err)
	}
	if len(bomb) >= limit {
		t.Fatalf("compressed payload is %d bytes, must be below the %d byte limit", len(bomb), limit)
	}

	d, _ := newDecompressor(15, false, limit)
	if _, err := d.decompress(bomb); !errors.Is(err, ErrMessageTooBig) {
		t.Errorf("err = %v, want ErrMessageTooBig", err)
	}
}

func TestDecompress_ExactlyAtLimit(t *testing.T) {
	c, _ := newCompressor(15, false, DefaultCompressionLevel)
	z, _ := c.compress(bytes.Repeat([]byte("x"), 64))

	d, _ := newDecompressor(15, false, 64)
	got, err := d.decompress(z)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	if len(got) != 64 {
		t.Errorf("got %d bytes, want 64", len(got))
	}
}

func TestDecompress_CorruptInput(t *testing.T) {
	d, _ := newDecompressor(15, false, DefaultMaxMessageSize)
	if _, err := d.decompress([]byte{0xff, 0xff, 0xff}); !errors.Is(err, ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", err)
	}
}

func TestCompression_WindowBitsOutOfRange(t *testing.T) {
	for _, w := range []int{0, 7, 16} {
		if _, err := newCompressor(w, true, DefaultCompressionLevel); !errors.Is(err, ErrBadExtension) {
			t.Errorf("compressor wbits=%d: err = %v", w, err)
		}
		if _, err := newDecompressor(w, true, DefaultMaxMessageSize); !errors.Is(err, ErrBadExtension) {
			t.Errorf("decompressor wbits=%d: err = %v", w, err)
		}
	}
}

func TestNewCompressionContexts_SidesFollowParameters(t *testing.T) {
	p := wsflate.Parameters{
		ServerNoContextTakeover: true,
		ClientMaxWindowBits:     10,
	}
	c, d, err := newCompressionContexts(p, nil, DefaultMaxMessageSize)
	if err != nil {
		t.Fatal(err)
	}
	if c.persistent || c.wbits != 15 || c.level != DefaultCompressionLevel {
		t.Errorf("compressor = %+v", c)
	}
	if !d.persistent || d.wbits != 10 {
		t.Errorf("decompressor wbits=%d persistent=%v", d.wbits, d.persistent)
	}
}
