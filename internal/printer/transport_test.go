package printer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunks(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		max   int
		sizes []int
	}{
		{"empty", 0, 100, nil},
		{"single", 10, 100, []int{10}},
		{"exact", 100, 100, []int{100}},
		{"one over", 101, 100, []int{100, 1}},
		{"many", 350, 100, []int{100, 100, 100, 50}},
		{"default max", 150, 0, []int{100, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sizes []int
			for _, c := range Chunks(stream(tt.size), tt.max) {
				sizes = append(sizes, len(c))
			}
			assert.Equal(t, tt.sizes, sizes)
		})
	}
}

func TestChunksDoNotOverlap(t *testing.T) {
	p := stream(30)
	chunks := Chunks(p, 20)
	require.Len(t, chunks, 2)
	chunks[0] = append(chunks[0], 0xFF)
	assert.Equal(t, byte(20), p[20], "appending to a chunk must not clobber the next")
}

func TestChunkedTransportStopsAtFailure(t *testing.T) {
	link := newFakeLink()
	link.failAt = 3
	var sent []int
	tr := NewChunkedTransport(link, 4)
	tr.Sent = func(n int) { sent = append(sent, n) }

	err := tr.Send(context.Background(), stream(20))
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, []int{4, 4}, sent)
	assert.Len(t, link.Writes(), 2)
}

func TestChunkedTransportHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	link := newFakeLink()
	err := NewChunkedTransport(link, 4).Send(ctx, stream(8))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTransport)
	assert.Empty(t, link.Writes())
}

func TestChunkedTransportFinishesStartedDocument(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	link := newFakeLink()
	link.afterWrite = func(n int) {
		if n == 1 {
			cancel()
		}
	}
	require.NoError(t, NewChunkedTransport(link, 4).Send(ctx, stream(12)))
	assert.Len(t, link.Writes(), 3)
}
