// Package receipt turns orders into ESC/POS documents: the customer receipt,
// the full kitchen ticket and the partial "addition" kitchen ticket.
package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidDocument = errors.New("receipt: invalid document")
	ErrTotalMismatch   = errors.New("receipt: recomputed total does not match order total")
)

// Kind selects the document shape
type Kind int

const (
	KindCustomer Kind = iota
	KindKitchenFull
	KindKitchenAddition
)

func (k Kind) String() string {
	switch k {
	case KindCustomer:
		return "customer"
	case KindKitchenFull:
		return "kitchen"
	case KindKitchenAddition:
		return "addition"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind accepts the names used on the command line and in config
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "customer", "receipt":
		return KindCustomer, nil
	case "kitchen", "kitchen-full", "full":
		return KindKitchenFull, nil
	case "addition", "kitchen-addition":
		return KindKitchenAddition, nil
	}
	return 0, fmt.Errorf("%w: unknown document kind %q", ErrInvalidDocument, s)
}

// Destination labels for orders without a table
const (
	DestinationDelivery = "DELIVERY"
	DestinationToGo     = "TO-GO"
)

// destinationAliases maps what a POS or an order file may write to the
// printed label
var destinationAliases = map[string]string{
	"delivery":  DestinationDelivery,
	"domicilio": DestinationDelivery,
	"to-go":     DestinationToGo,
	"togo":      DestinationToGo,
	"to go":     DestinationToGo,
	"takeaway":  DestinationToGo,
	"llevar":    DestinationToGo,
}

// NormalizeDestination returns the fixed label for delivery and to-go
// orders; table names are returned trimmed but otherwise unchanged.
func NormalizeDestination(s string) string {
	s = strings.TrimSpace(s)
	if label, ok := destinationAliases[strings.ToLower(s)]; ok {
		return label
	}
	return s
}

// Header identifies the shop on customer receipts
type Header struct {
	ShopName       string `yaml:"name"`
	Address        string `yaml:"address"`
	RegistrationID string `yaml:"registration_id"`
	Phone          string `yaml:"phone"`
}

// LineItem is one ordered product
type LineItem struct {
	ID        string          `yaml:"id"`
	Quantity  int             `yaml:"quantity"`
	Name      string          `yaml:"name"`
	UnitPrice decimal.Decimal `yaml:"unit_price"`
	Modifiers []string        `yaml:"modifiers"`
	Note      string          `yaml:"note"`
}

// Total is quantity times unit price, recomputed on every call
func (l LineItem) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the POS-side value documents are cut from
type Order struct {
	ID          string          `yaml:"id"`
	Reference   string          `yaml:"reference"`
	Destination string          `yaml:"destination"`
	ClientName  string          `yaml:"client"`
	CreatedAt   time.Time       `yaml:"created_at"`
	Lines       []LineItem      `yaml:"lines"`
	Total       decimal.Decimal `yaml:"total"`
}

// Normalized fills in identifiers the POS left empty and maps delivery and
// to-go destinations to their labels. Line IDs are derived
// from the order ID and position so repeated loads of the same order agree.
func (o Order) Normalized() Order {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.Destination = NormalizeDestination(o.Destination)
	if o.Reference == "" {
		o.Reference = strings.ToUpper(strings.ReplaceAll(o.ID, "-", ""))
		if len(o.Reference) > 8 {
			o.Reference = o.Reference[:8]
		}
	}
	lines := make([]LineItem, len(o.Lines))
	copy(lines, o.Lines)
	for i := range lines {
		if lines[i].ID == "" {
			lines[i].ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s:%d", o.ID, i))).String()
		}
	}
	o.Lines = lines
	return o
}

// Document is one printable receipt or ticket
type Document struct {
	Kind        Kind
	Header      Header
	Destination string
	Reference   string
	CreatedAt   time.Time
	ClientName  string
	Lines       []LineItem
	Footer      string

	// ExpectedTotal is the POS-side total; when set the formatter checks
	// its own sum against it.
	ExpectedTotal *decimal.Decimal
}

// CustomerReceipt builds the receipt document for an order
func CustomerReceipt(o Order, h Header, footer string) Document {
	doc := Document{
		Kind:        KindCustomer,
		Header:      h,
		Destination: o.Destination,
		Reference:   o.Reference,
		CreatedAt:   o.CreatedAt,
		ClientName:  o.ClientName,
		Lines:       o.Lines,
		Footer:      footer,
	}
	if !o.Total.IsZero() {
		total := o.Total
		doc.ExpectedTotal = &total
	}
	return doc
}

func (d Document) validate() error {
	switch d.Kind {
	case KindCustomer, KindKitchenFull, KindKitchenAddition:
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidDocument, int(d.Kind))
	}
	if len(d.Lines) == 0 {
		return fmt.Errorf("%w: %s document has no lines", ErrInvalidDocument, d.Kind)
	}
	for i, l := range d.Lines {
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity %d", ErrInvalidDocument, i, l.Quantity)
		}
		if l.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: line %d negative price", ErrInvalidDocument, i)
		}
		if strings.TrimSpace(l.Name) == "" {
			return fmt.Errorf("%w: line %d has no name", ErrInvalidDocument, i)
		}
	}
	return nil
}
