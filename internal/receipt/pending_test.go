package receipt

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresPrice(t *testing.T) {
	l := LineItem{ID: "a", Quantity: 1, Name: "Tinto", UnitPrice: decimal.NewFromInt(2000)}
	repriced := l
	repriced.UnitPrice = decimal.NewFromInt(2500)
	assert.Equal(t, l.Fingerprint(), repriced.Fingerprint())

	edits := map[string]func(*LineItem){
		"quantity": func(l *LineItem) { l.Quantity = 2 },
		"name":     func(l *LineItem) { l.Name = "Tinto doble" },
		"modifier": func(l *LineItem) { l.Modifiers = []string{"sin azucar"} },
		"note":     func(l *LineItem) { l.Note = "para llevar" },
	}
	for name, edit := range edits {
		t.Run(name, func(t *testing.T) {
			changed := l
			edit(&changed)
			assert.NotEqual(t, l.Fingerprint(), changed.Fingerprint())
		})
	}
}

func TestFingerprintSeparatesFields(t *testing.T) {
	a := LineItem{Quantity: 1, Name: "ab", Modifiers: []string{"c"}}
	b := LineItem{Quantity: 1, Name: "a", Modifiers: []string{"bc"}}
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())

	c := LineItem{Quantity: 1, Name: "x", Modifiers: []string{"a", "b"}}
	d := LineItem{Quantity: 1, Name: "x", Modifiers: []string{"ab"}}
	assert.NotEqual(t, c.Fingerprint(), d.Fingerprint())
}

func TestPlanKitchenFirstTimeIsFull(t *testing.T) {
	order := burgerSodaOrder()
	plan := PlanKitchen(order, SentState{})

	assert.Equal(t, KindKitchenFull, plan.Document.Kind)
	assert.Len(t, plan.Document.Lines, 2)
	assert.Len(t, plan.Marks, 2)
}

func TestPlanKitchenNothingPending(t *testing.T) {
	order := burgerSodaOrder()
	sent := Marks(order.Lines)

	plan := PlanKitchen(order, sent)
	assert.True(t, plan.Empty())
	assert.Empty(t, plan.Marks)
}

func TestPlanKitchenEditRearmsLine(t *testing.T) {
	order := burgerSodaOrder()
	sent := SentState{}
	sent.Apply(PlanKitchen(order, sent).Marks)

	order.Lines[1].Quantity = 3
	plan := PlanKitchen(order, sent)
	require.Equal(t, KindKitchenAddition, plan.Document.Kind)
	require.Len(t, plan.Document.Lines, 1)
	assert.Equal(t, "l2", plan.Document.Lines[0].ID)
	assert.Equal(t, 3, plan.Document.Lines[0].Quantity)

	order.Lines[1].Quantity = 1
	order.Lines[1].UnitPrice = decimal.NewFromInt(6000)
	assert.True(t, PlanKitchen(order, Marks(burgerSodaOrder().Lines)).Empty(), "price edits stay sent")
}

func TestFullKitchenIgnoresSentState(t *testing.T) {
	order := burgerSodaOrder()
	plan := FullKitchen(order)
	assert.Equal(t, KindKitchenFull, plan.Document.Kind)
	assert.Len(t, plan.Document.Lines, len(order.Lines))
	assert.Equal(t, order.Reference, plan.Document.Reference)
}

// Applying a plan's marks always leaves nothing pending, and every planned
// line was unsent beforehand.
func TestAdditionSubsetProperty(t *testing.T) {
	r := rand.New(rand.NewSource(3))

	for round := 0; round < 100; round++ {
		order := randomOrder(r)
		sent := SentState{}

		for step := 0; step < 6; step++ {
			plan := PlanKitchen(order, sent)
			for _, l := range plan.Document.Lines {
				assert.False(t, sent.Sent(l), "planned line %s was already sent", l.ID)
			}
			if !plan.Empty() && plan.Document.Kind == KindKitchenAddition {
				assert.Less(t, len(plan.Document.Lines), len(order.Lines))
			}

			sent.Apply(plan.Marks)
			assert.True(t, PlanKitchen(order, sent).Empty())

			switch r.Intn(3) {
			case 0:
				order.Lines = append(order.Lines, LineItem{
					ID: fmt.Sprintf("n%d", step), Quantity: 1, Name: "Papas", UnitPrice: decimal.NewFromInt(4000),
				})
			case 1:
				i := r.Intn(len(order.Lines))
				order.Lines[i].Quantity++
			case 2:
				i := r.Intn(len(order.Lines))
				order.Lines[i].Note = fmt.Sprintf("nota %d", step)
			}
		}
	}
}

func TestSentStateApply(t *testing.T) {
	l := LineItem{ID: "a", Quantity: 1, Name: "x"}
	s := SentState{}
	assert.False(t, s.Sent(l))
	s.Apply(Marks([]LineItem{l}))
	assert.True(t, s.Sent(l))
	assert.Len(t, Pending([]LineItem{l}, s), 0)
}
