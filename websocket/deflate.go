package websocket

import (
	"bytes"
	"io"

	"github.com/gobwas/ws/wsflate"
	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

const (
	minWindowBits     = 8
	maxWindowBits     = 15
	inflateWindowSize = 1 << maxWindowBits

	// DefaultCompressionLevel matches zlib's default.
	DefaultCompressionLevel = 6
)

var (
	// deflateTail is the empty stored block a sync flush ends with. RFC 7692
	// removes it from the wire.
	deflateTail = []byte{0x00, 0x00, 0xff, 0xff}

	// inflateTail restores deflateTail and adds a final empty stored block
	// so the inflater ends each message with io.EOF.
	inflateTail = []byte{0x00, 0x00, 0xff, 0xff, 0x01, 0x00, 0x00, 0xff, 0xff}
)

// CompressionOptions enables permessage-deflate. A nil *CompressionOptions
// disables compression entirely.
type CompressionOptions struct {
	// Level is the flate level for windows of 2^15. Smaller negotiated
	// windows use the fixed-window encoder. Zero means DefaultCompressionLevel.
	Level int
}

func (o *CompressionOptions) level() int {
	if o == nil || o.Level == 0 {
		return DefaultCompressionLevel
	}
	return o.Level
}

func checkWindowBits(wbits int) error {
	if wbits < minWindowBits || wbits > maxWindowBits {
		return errors.Wrapf(ErrBadExtension, "invalid max_wbits value %d; allowed range 8-15", wbits)
	}
	return nil
}

// windowBits maps an agreed parameter to a window size, 15 when unset.
func windowBits(w wsflate.WindowBits) int {
	if w == 0 {
		return maxWindowBits
	}
	return int(w)
}

type compressor struct {
	wbits      int
	level      int
	persistent bool

	out bytes.Buffer
	fw  *flate.Writer
}

func newCompressor(wbits int, persistent bool, level int) (*compressor, error) {
	if err := checkWindowBits(wbits); err != nil {
		return nil, err
	}
	return &compressor{wbits: wbits, level: level, persistent: persistent}, nil
}

func (c *compressor) writer() (*flate.Writer, error) {
	if c.fw != nil {
		if !c.persistent {
			c.fw.Reset(&c.out)
		}
		return c.fw, nil
	}
	var err error
	if c.wbits == maxWindowBits {
		c.fw, err = flate.NewWriter(&c.out, c.level)
	} else {
		c.fw, err = flate.NewWriterWindow(&c.out, 1<<c.wbits)
	}
	return c.fw, errors.Wrap(err, "create deflate writer")
}

// compress deflates one message and strips the sync flush marker.
// Without context takeover every call starts from an empty window.
func (c *compressor) compress(data []byte) ([]byte, error) {
	fw, err := c.writer()
	if err != nil {
		return nil, err
	}
	c.out.Reset()
	if _, err := fw.Write(data); err != nil {
		return nil, errors.Wrap(err, "deflate")
	}
	if err := fw.Flush(); err != nil {
		return nil, errors.Wrap(err, "deflate flush")
	}
	b := c.out.Bytes()
	if !bytes.HasSuffix(b, deflateTail) {
		return nil, errors.New("websocket: deflate output lacks sync flush marker")
	}
	b = b[:len(b)-len(deflateTail)]
	return append([]byte(nil), b...), nil
}

type decompressor struct {
	wbits      int
	persistent bool
	maxSize    int64

	fr io.ReadCloser
	// window holds the tail of earlier output; it is the inflater's
	// dictionary when context takeover is on.
	window []byte
}

func newDecompressor(wbits int, persistent bool, maxSize int64) (*decompressor, error) {
	if err := checkWindowBits(wbits); err != nil {
		return nil, err
	}
	return &decompressor{wbits: wbits, persistent: persistent, maxSize: maxSize}, nil
}

// decompress inflates one message. It never produces more than maxSize
// bytes; a message that would is reported as ErrMessageTooBig.
func (d *decompressor) decompress(data []byte) ([]byte, error) {
	src := io.MultiReader(bytes.NewReader(data), bytes.NewReader(inflateTail))

	var dict []byte
	if d.persistent {
		dict = d.window
	}
	if d.fr == nil {
		d.fr = flate.NewReaderDict(src, dict)
	} else if err := d.fr.(flate.Resetter).Reset(src, dict); err != nil {
		return nil, errors.Wrap(err, "reset inflater")
	}

	out, err := io.ReadAll(io.LimitReader(d.fr, d.maxSize+1))
	if err != nil {
		return nil, errors.Wrap(ErrProtocol, err.Error())
	}
	if int64(len(out)) > d.maxSize {
		return nil, errors.Wrap(ErrMessageTooBig, "decompressed size exceeds limit")
	}
	if d.persistent {
		d.remember(out)
	}
	return out, nil
}

func (d *decompressor) remember(out []byte) {
	d.window = append(d.window, out...)
	if n := len(d.window); n > inflateWindowSize {
		copy(d.window, d.window[n-inflateWindowSize:])
		d.window = d.window[:inflateWindowSize]
	}
}

// newCompressionContexts builds the server-side pair: the outbound context
// follows the server_* parameters, the inbound one the client_* parameters.
func newCompressionContexts(p wsflate.Parameters, opts *CompressionOptions, maxSize int64) (*compressor, *decompressor, error) {
	c, err := newCompressor(windowBits(p.ServerMaxWindowBits), !p.ServerNoContextTakeover, opts.level())
	if err != nil {
		return nil, nil, err
	}
	d, err := newDecompressor(windowBits(p.ClientMaxWindowBits), !p.ClientNoContextTakeover, maxSize)
	if err != nil {
		return nil, nil, err
	}
	return c, d, nil
}
