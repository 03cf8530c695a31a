package escpos

import (
	"bytes"
	"strings"
)

// Control bytes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Columns58 is the character column count of 58mm paper in font A.
const Columns58 = 32

// Dots58 is the printable width of 58mm paper in dots at 203 DPI.
const Dots58 = 384

// Alignment selects ESC a justification
type Alignment byte

const (
	Left Alignment = iota
	Center
	Right
)

// CharSize selects GS ! character magnification
type CharSize byte

const (
	Normal       CharSize = 0x00
	DoubleHeight CharSize = 0x01
	DoubleWidth  CharSize = 0x10
	DoubleBoth   CharSize = 0x11
)

// Fixed command sequences
var (
	cmdInit = []byte{ESC, '@'}
	cmdCut  = []byte{GS, 'V', 66, 0}
)

// Builder assembles an ESC/POS command stream
type Builder struct {
	buf     bytes.Buffer
	columns int
}

// New returns a builder for paper with the given column count
func New(columns int) *Builder {
	if columns <= 0 {
		columns = Columns58
	}
	return &Builder{columns: columns}
}

// Columns returns the configured line width in characters
func (b *Builder) Columns() int {
	return b.columns
}

// Reset initializes the printer, clearing any style left by a previous job
func (b *Builder) Reset() *Builder {
	b.buf.Write(cmdInit)
	return b
}

// Align sets justification for following lines
func (b *Builder) Align(a Alignment) *Builder {
	b.buf.Write([]byte{ESC, 'a', byte(a)})
	return b
}

// Bold toggles emphasized mode
func (b *Builder) Bold(on bool) *Builder {
	var n byte
	if on {
		n = 1
	}
	b.buf.Write([]byte{ESC, 'E', n})
	return b
}

// Size sets character magnification
func (b *Builder) Size(s CharSize) *Builder {
	b.buf.Write([]byte{GS, '!', byte(s)})
	return b
}

// Text appends sanitized text without a line break
func (b *Builder) Text(s string) *Builder {
	b.buf.WriteString(Sanitize(s))
	return b
}

// TextLn appends sanitized text followed by a line feed
func (b *Builder) TextLn(s string) *Builder {
	b.Text(s)
	b.buf.WriteByte(LF)
	return b
}

// Feed emits n line feeds
func (b *Builder) Feed(n int) *Builder {
	for i := 0; i < n; i++ {
		b.buf.WriteByte(LF)
	}
	return b
}

// Line emits a full-width single rule
func (b *Builder) Line() *Builder {
	return b.rule('-')
}

// DoubleLine emits a full-width double rule
func (b *Builder) DoubleLine() *Builder {
	return b.rule('=')
}

func (b *Builder) rule(c byte) *Builder {
	b.buf.Write(bytes.Repeat([]byte{c}, b.columns))
	b.buf.WriteByte(LF)
	return b
}

// KV lays out key and value so the value ends at the last column.
// When both don't fit on one line the key gets its own line(s) and the
// value is right-aligned on the next one.
func (b *Builder) KV(key, value string) *Builder {
	for _, line := range KVLines(key, value, b.columns) {
		b.buf.WriteString(line)
		b.buf.WriteByte(LF)
	}
	return b
}

// Raster is a 1-bit image, MSB first, one bit per dot, 1 = black
type Raster struct {
	WidthBytes int
	Height     int
	Data       []byte
}

// Width returns the image width in dots
func (r Raster) Width() int {
	return r.WidthBytes * 8
}

// Image prints r with GS v 0 in normal density. Malformed rasters are
// skipped.
func (b *Builder) Image(r Raster) *Builder {
	if r.WidthBytes <= 0 || r.Height <= 0 || r.WidthBytes > 0xFFFF || r.Height > 0xFFFF || len(r.Data) < r.WidthBytes*r.Height {
		return b
	}
	b.buf.Write([]byte{
		GS, 'v', '0', 0,
		byte(r.WidthBytes), byte(r.WidthBytes >> 8),
		byte(r.Height), byte(r.Height >> 8),
	})
	b.buf.Write(r.Data[:r.WidthBytes*r.Height])
	return b
}

// Cut feeds to the cutter and cuts the paper
func (b *Builder) Cut() *Builder {
	b.buf.Write(cmdCut)
	return b
}

// Len returns the number of bytes built so far
func (b *Builder) Len() int {
	return b.buf.Len()
}

// Bytes returns a copy of the command stream. The builder keeps its content.
func (b *Builder) Bytes() []byte {
	out := make([]byte, b.buf.Len())
	copy(out, b.buf.Bytes())
	return out
}

// KVLines returns the padded lines KV would emit, each exactly columns wide
func KVLines(key, value string, columns int) []string {
	key = Sanitize(key)
	value = Sanitize(value)

	if len(key)+len(value)+1 <= columns {
		return []string{key + strings.Repeat(" ", columns-len(key)-len(value)) + value}
	}

	var lines []string
	for _, l := range Wrap(key, columns) {
		lines = append(lines, padRight(l, columns))
	}
	for _, l := range Wrap(value, columns) {
		lines = append(lines, padLeft(l, columns))
	}
	return lines
}

// Wrap splits s into lines of at most width characters, breaking on spaces.
// Words longer than width are split.
func Wrap(s string, width int) []string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	current := ""
	for _, word := range words {
		for len(word) > width {
			if current != "" {
				lines = append(lines, current)
				current = ""
			}
			lines = append(lines, word[:width])
			word = word[width:]
		}
		if word == "" {
			continue
		}
		switch {
		case current == "":
			current = word
		case len(current)+1+len(word) <= width:
			current += " " + word
		default:
			lines = append(lines, current)
			current = word
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	return lines
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}
