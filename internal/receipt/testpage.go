package receipt

import (
	"strings"
	"time"

	"tillprint/internal/escpos"
)

// TestPage builds a short bring-up page exercising every style the
// formatter relies on, with a column ruler to check paper width.
func (f *Formatter) TestPage(device string, now time.Time) []byte {
	cols := f.profile.Columns
	var ruler strings.Builder
	for i := 1; i <= cols; i++ {
		ruler.WriteByte(byte('0' + i%10))
	}

	b := escpos.New(cols).Reset()
	b.Align(escpos.Center).Bold(true).Size(escpos.DoubleBoth).TextLn("TEST").Size(escpos.Normal).Bold(false)
	b.TextLn(device)
	b.TextLn(now.Format(dateLayout))
	b.Align(escpos.Left).DoubleLine()
	b.TextLn(ruler.String())
	b.Size(escpos.DoubleHeight).TextLn("Double height").Size(escpos.Normal)
	b.Bold(true).TextLn("Bold").Bold(false)
	b.TextLn("Acentos: áéíóú ñÑ ü")
	b.KV("Key", f.profile.Money.Format(moneySample))
	b.Line()
	b.Align(escpos.Center).TextLn("Printer OK")
	b.Align(escpos.Left).Feed(f.profile.TrailFeed).Cut()
	return b.Bytes()
}
