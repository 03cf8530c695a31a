package escpos

// Line is one printed line recovered from a command stream
type Line struct {
	Text  string
	Align Alignment
	Bold  bool
	Size  CharSize
	// Cut marks a paper cut instead of a text line
	Cut bool
	// Image is set for raster graphics
	Image *Raster
}

// Decode interprets a command stream produced by Builder and returns the
// lines a printer would output. Style is captured at the first character
// of each line. Unknown escape sequences are skipped.
func Decode(p []byte) []Line {
	var (
		lines   []Line
		text    []byte
		style   Line
		started bool
		lineSty Line
	)

	flush := func() {
		l := style
		if started {
			l = lineSty
		}
		l.Text = string(text)
		l.Cut = false
		lines = append(lines, l)
		text = text[:0]
		started = false
	}

	for i := 0; i < len(p); i++ {
		c := p[i]
		switch c {
		case LF:
			flush()
		case ESC:
			if i+1 >= len(p) {
				return lines
			}
			switch p[i+1] {
			case '@':
				style = Line{}
				i++
			case 'a', 'E', 'd', 't', '!', '-':
				if i+2 >= len(p) {
					return lines
				}
				arg := p[i+2]
				switch p[i+1] {
				case 'a':
					style.Align = Alignment(arg)
				case 'E':
					style.Bold = arg != 0
				}
				i += 2
			default:
				i++
			}
		case GS:
			if i+2 >= len(p) {
				return lines
			}
			switch p[i+1] {
			case '!':
				style.Size = CharSize(p[i+2])
				i += 2
			case 'v':
				// GS v 0 m xL xH yL yH d1...dk
				if i+7 >= len(p) || p[i+2] != '0' {
					return lines
				}
				wb := int(p[i+4]) | int(p[i+5])<<8
				h := int(p[i+6]) | int(p[i+7])<<8
				end := i + 8 + wb*h
				if end > len(p) {
					return lines
				}
				if len(text) > 0 {
					flush()
				}
				data := append([]byte(nil), p[i+8:end]...)
				lines = append(lines, Line{Align: style.Align, Image: &Raster{WidthBytes: wb, Height: h, Data: data}})
				i = end - 1
			case 'V':
				if len(text) > 0 {
					flush()
				}
				lines = append(lines, Line{Cut: true})
				if p[i+2] == 65 || p[i+2] == 66 {
					i += 3
				} else {
					i += 2
				}
			default:
				i += 2
			}
		default:
			if !started {
				lineSty = style
				started = true
			}
			text = append(text, c)
		}
	}
	if len(text) > 0 {
		flush()
	}
	return lines
}

// TextLines returns only the text of text lines
func TextLines(lines []Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if !l.Cut && l.Image == nil {
			out = append(out, l.Text)
		}
	}
	return out
}
