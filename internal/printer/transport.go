package printer

import (
	"context"
	"fmt"
)

// DefaultMaxChunk must stay below the smallest write payload the printer
// link guarantees.
const DefaultMaxChunk = 100

// Transport sends a complete command stream
type Transport interface {
	Send(ctx context.Context, p []byte) error
}

// ChunkedTransport writes a stream to a Link in pieces of at most Max bytes,
// one at a time, each awaited before the next.
type ChunkedTransport struct {
	Link Link
	Max  int

	// Sent is called after every accepted chunk with its size
	Sent func(n int)
}

// NewChunkedTransport returns a transport over link
func NewChunkedTransport(link Link, max int) *ChunkedTransport {
	return &ChunkedTransport{Link: link, Max: max}
}

// Send writes p in order. The first failing chunk aborts the rest and is
// reported as ErrTransport. ctx is only honoured before the first chunk:
// once the firmware has seen part of a document the rest is always sent, so
// a cancelled print cannot leave it inside a half-written command.
func (t *ChunkedTransport) Send(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chunks := Chunks(p, t.Max)
	for i, c := range chunks {
		if err := t.Link.Write(ctx, c); err != nil {
			return fmt.Errorf("%w: chunk %d/%d: %w", ErrTransport, i+1, len(chunks), err)
		}
		if t.Sent != nil {
			t.Sent(len(c))
		}
		if i == 0 {
			ctx = context.WithoutCancel(ctx)
		}
	}
	return nil
}

// Chunks splits p into consecutive slices of at most max bytes. The slices
// share p's backing array.
func Chunks(p []byte, max int) [][]byte {
	if max <= 0 {
		max = DefaultMaxChunk
	}
	var out [][]byte
	for len(p) > max {
		out = append(out, p[:max:max])
		p = p[max:]
	}
	if len(p) > 0 {
		out = append(out, p)
	}
	return out
}
