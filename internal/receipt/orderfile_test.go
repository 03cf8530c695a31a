package receipt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderYAML = `
id: order-7
reference: B07
destination: Mesa 2
client: Ana
created_at: 2025-03-14T12:30:00Z
total: 29000
lines:
  - id: l1
    quantity: 2
    name: Burger
    unit_price: 24000
    note: sin cebolla
  - quantity: 1
    name: Soda
    unit_price: "5000"
    modifiers: [Cola]
`

func TestReadOrder(t *testing.T) {
	o, err := ReadOrder(strings.NewReader(orderYAML))
	require.NoError(t, err)

	assert.Equal(t, "order-7", o.ID)
	assert.Equal(t, "Mesa 2", o.Destination)
	assert.Equal(t, "Ana", o.ClientName)
	assert.Equal(t, 2025, o.CreatedAt.Year())
	assert.True(t, o.Total.Equal(decimal.NewFromInt(29000)))

	require.Len(t, o.Lines, 2)
	assert.Equal(t, "l1", o.Lines[0].ID)
	assert.Equal(t, "sin cebolla", o.Lines[0].Note)
	assert.True(t, o.Lines[1].UnitPrice.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, []string{"Cola"}, o.Lines[1].Modifiers)
	assert.NotEmpty(t, o.Lines[1].ID, "missing line ids are derived")

	again, err := ReadOrder(strings.NewReader(orderYAML))
	require.NoError(t, err)
	assert.Equal(t, o.Lines[1].ID, again.Lines[1].ID)

	stream, err := NewFormatter(DefaultProfile()).Customer(CustomerReceipt(o, Header{}, ""))
	require.NoError(t, err)
	assert.Contains(t, decodeText(t, stream), "TOTAL $29.000")
}

func TestReadOrderDestinationLabels(t *testing.T) {
	yaml := strings.Replace(orderYAML, "destination: Mesa 2", "destination: to go", 1)
	o, err := ReadOrder(strings.NewReader(yaml))
	require.NoError(t, err)
	assert.Equal(t, DestinationToGo, o.Destination)

	stream, err := NewFormatter(DefaultProfile()).Kitchen(FullKitchen(o).Document)
	require.NoError(t, err)
	assert.Contains(t, strings.Join(decodeText(t, stream), "\n"), DestinationToGo)
}

func TestReadOrderRejectsUnknownFields(t *testing.T) {
	_, err := ReadOrder(strings.NewReader("id: x\ntable: 4\n"))
	assert.Error(t, err)
}

func TestLoadOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "order.yaml")
	require.NoError(t, os.WriteFile(path, []byte(orderYAML), 0o644))

	o, err := LoadOrder(path)
	require.NoError(t, err)
	assert.Equal(t, "B07", o.Reference)

	_, err = LoadOrder(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
