package receipt

import (
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

// Fingerprint identifies the kitchen-relevant content of a line: quantity,
// name, modifiers and note. Price changes do not alter it.
type Fingerprint [32]byte

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:8])
}

// Fingerprint hashes the fields the kitchen cares about
func (l LineItem) Fingerprint() Fingerprint {
	buf := make([]byte, 0, 64)
	buf = strconv.AppendInt(buf, int64(l.Quantity), 10)
	buf = append(buf, 0)
	buf = append(buf, l.Name...)
	buf = append(buf, 0)
	for _, m := range l.Modifiers {
		buf = append(buf, 1)
		buf = append(buf, m...)
	}
	buf = append(buf, 2)
	buf = append(buf, l.Note...)
	return blake3.Sum256(buf)
}

// SentState records, per line ID, the fingerprint printed last time the
// line went to the kitchen
type SentState map[string]Fingerprint

// Sent reports whether the line, as it is now, has already been printed
func (s SentState) Sent(l LineItem) bool {
	fp, ok := s[l.ID]
	return ok && fp == l.Fingerprint()
}

// Apply records marks in place
func (s SentState) Apply(marks SentState) {
	for id, fp := range marks {
		s[id] = fp
	}
}

// Pending returns the lines not yet sent in their current form, in order
func Pending(lines []LineItem, sent SentState) []LineItem {
	var out []LineItem
	for _, l := range lines {
		if !sent.Sent(l) {
			out = append(out, l)
		}
	}
	return out
}

// Marks returns the sent-state updates recording lines as printed
func Marks(lines []LineItem) SentState {
	marks := make(SentState, len(lines))
	for _, l := range lines {
		marks[l.ID] = l.Fingerprint()
	}
	return marks
}

// KitchenPlan is a kitchen document plus the marks to apply once it has
// been printed
type KitchenPlan struct {
	Document Document
	Marks    SentState
}

// Empty reports whether there is nothing to send to the kitchen
func (p KitchenPlan) Empty() bool {
	return len(p.Document.Lines) == 0
}

// PlanKitchen selects the lines of o the kitchen has not seen. When every
// line is pending the ticket is a full one, so an addition never carries
// the whole order.
func PlanKitchen(o Order, sent SentState) KitchenPlan {
	pending := Pending(o.Lines, sent)
	if len(pending) == 0 {
		return KitchenPlan{Marks: SentState{}}
	}
	kind := KindKitchenAddition
	if len(pending) == len(o.Lines) {
		kind = KindKitchenFull
	}
	return KitchenPlan{
		Document: kitchenDocument(o, kind, pending),
		Marks:    Marks(pending),
	}
}

// FullKitchen plans a ticket with every line of o regardless of sent state
func FullKitchen(o Order) KitchenPlan {
	return KitchenPlan{
		Document: kitchenDocument(o, KindKitchenFull, o.Lines),
		Marks:    Marks(o.Lines),
	}
}

func kitchenDocument(o Order, kind Kind, lines []LineItem) Document {
	return Document{
		Kind:        kind,
		Destination: o.Destination,
		Reference:   o.Reference,
		CreatedAt:   o.CreatedAt,
		Lines:       lines,
	}
}
