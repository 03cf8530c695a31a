package receipt

import (
	"fmt"
	"strings"

	"tillprint/internal/escpos"
)

// Fixed labels printed on tickets
const (
	LabelKitchen   = "KITCHEN"
	LabelAddition  = "ADDITION"
	LabelEndTicket = "END TICKET"
	LabelTotal     = "TOTAL"
)

const (
	dateLayout = "2006-01-02 15:04"
	timeLayout = "15:04"
)

// Profile is the paper and money layout used by a Formatter
type Profile struct {
	Columns   int
	Money     Money
	TrailFeed int
	// Logo, when set, heads the customer receipt
	Logo *escpos.Raster
}

// DefaultProfile is 58mm paper with peso formatting
func DefaultProfile() Profile {
	return Profile{Columns: escpos.Columns58, Money: DefaultMoney(), TrailFeed: 4}
}

// Formatter renders documents into command streams. It keeps no state
// between calls.
type Formatter struct {
	profile Profile
}

// NewFormatter returns a formatter for the given profile
func NewFormatter(p Profile) *Formatter {
	if p.Columns <= 0 {
		p.Columns = escpos.Columns58
	}
	if p.TrailFeed <= 0 {
		p.TrailFeed = 4
	}
	return &Formatter{profile: p}
}

// Profile returns the layout in use
func (f *Formatter) Profile() Profile {
	return f.profile
}

// Format renders doc according to its kind
func (f *Formatter) Format(doc Document) ([]byte, error) {
	switch doc.Kind {
	case KindCustomer:
		return f.Customer(doc)
	case KindKitchenFull, KindKitchenAddition:
		return f.Kitchen(doc)
	}
	return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidDocument, int(doc.Kind))
}

// Customer renders the priced receipt handed to the client
func (f *Formatter) Customer(doc Document) ([]byte, error) {
	if doc.Kind != KindCustomer {
		return nil, fmt.Errorf("%w: %s document is not a customer receipt", ErrInvalidDocument, doc.Kind)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}

	money := f.profile.Money
	total := money.Total(doc.Lines)
	if doc.ExpectedTotal != nil && !money.Round(*doc.ExpectedTotal).Equal(total) {
		return nil, fmt.Errorf("%w: printed lines sum to %s, order says %s",
			ErrTotalMismatch, total.String(), doc.ExpectedTotal.String())
	}

	b := escpos.New(f.profile.Columns).Reset()

	b.Align(escpos.Center)
	if f.profile.Logo != nil {
		b.Image(*f.profile.Logo)
	}
	if doc.Header.ShopName != "" {
		b.Bold(true).Size(escpos.DoubleHeight).TextLn(doc.Header.ShopName).Size(escpos.Normal).Bold(false)
	}
	if doc.Header.Address != "" {
		b.TextLn(doc.Header.Address)
	}
	if doc.Header.RegistrationID != "" {
		b.TextLn("Tax ID: " + doc.Header.RegistrationID)
	}
	if doc.Header.Phone != "" {
		b.TextLn("Tel: " + doc.Header.Phone)
	}
	b.Feed(1)

	b.Align(escpos.Left)
	f.metadata(b, doc, dateLayout)
	b.DoubleLine()

	for _, line := range doc.Lines {
		b.KV(itemLabel(line), money.Format(line.Total()))
		f.details(b, line)
	}

	b.Line()
	b.Align(escpos.Right).Bold(true).Size(escpos.DoubleHeight).
		TextLn(LabelTotal + " " + money.Format(total)).
		Size(escpos.Normal).Bold(false)

	if doc.Footer != "" {
		b.Align(escpos.Center).Feed(1)
		for _, l := range strings.Split(doc.Footer, "\n") {
			b.TextLn(l)
		}
	}
	b.Align(escpos.Left).Feed(f.profile.TrailFeed).Cut()
	return b.Bytes(), nil
}

// Kitchen renders a price-free ticket for the line cooks. Addition
// documents get the ADDITION marker under the KITCHEN label.
func (f *Formatter) Kitchen(doc Document) ([]byte, error) {
	if doc.Kind != KindKitchenFull && doc.Kind != KindKitchenAddition {
		return nil, fmt.Errorf("%w: %s document is not a kitchen ticket", ErrInvalidDocument, doc.Kind)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}

	b := escpos.New(f.profile.Columns).Reset()

	b.Align(escpos.Center).Bold(true).Size(escpos.DoubleBoth).TextLn(LabelKitchen)
	if doc.Kind == KindKitchenAddition {
		b.Size(escpos.DoubleHeight).TextLn(LabelAddition)
	}
	b.Size(escpos.Normal).Bold(false).Align(escpos.Left)

	f.metadata(b, doc, timeLayout)
	b.DoubleLine()

	for _, line := range doc.Lines {
		b.Size(escpos.DoubleHeight).Bold(true)
		for _, l := range escpos.Wrap(escpos.Sanitize(itemLabel(line)), f.profile.Columns) {
			b.TextLn(l)
		}
		b.Bold(false).Size(escpos.Normal)
		f.details(b, line)
	}

	b.Line()
	b.Align(escpos.Center).Bold(true).TextLn(LabelEndTicket).Bold(false)
	b.Align(escpos.Left).Feed(f.profile.TrailFeed).Cut()
	return b.Bytes(), nil
}

func (f *Formatter) metadata(b *escpos.Builder, doc Document, layout string) {
	if !doc.CreatedAt.IsZero() {
		b.TextLn("Date: " + doc.CreatedAt.Format(layout))
	}
	if doc.Reference != "" {
		b.TextLn("Order: " + doc.Reference)
	}
	if doc.Destination != "" {
		b.Bold(true).TextLn("Dest: " + doc.Destination).Bold(false)
	}
	if doc.ClientName != "" {
		b.TextLn("Client: " + doc.ClientName)
	}
}

// details prints modifiers and the note beneath an item in normal size
func (f *Formatter) details(b *escpos.Builder, line LineItem) {
	width := f.profile.Columns - 4
	for _, m := range line.Modifiers {
		for i, l := range escpos.Wrap(escpos.Sanitize(m), width) {
			if i == 0 {
				b.TextLn("  - " + l)
			} else {
				b.TextLn("    " + l)
			}
		}
	}
	if note := strings.TrimSpace(line.Note); note != "" {
		b.Bold(true)
		for _, l := range escpos.Wrap(escpos.Sanitize("** "+strings.ToUpper(note)+" **"), width) {
			b.TextLn("  " + l)
		}
		b.Bold(false)
	}
}

func itemLabel(line LineItem) string {
	return fmt.Sprintf("%d x %s", line.Quantity, line.Name)
}
