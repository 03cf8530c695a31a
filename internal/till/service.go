// Package till is the printing service a point of sale talks to. It owns the
// printer connection, turns orders into documents and remembers which
// lines the kitchen has already received.
package till

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"tillprint/internal/escpos"
	"tillprint/internal/imaging"
	"tillprint/internal/printer"
	"tillprint/internal/receipt"
)

// ErrNothingPending is returned by PrintKitchenAddition when every line of
// the order has already reached the kitchen
var ErrNothingPending = errors.New("till: nothing pending for the kitchen")

// Printer is the connection the service prints through. *printer.Manager
// implements it.
type Printer interface {
	Connect(ctx context.Context) (string, error)
	Disconnect() error
	Print(ctx context.Context, buf []byte) error
	IsConnected() bool
	State() printer.Status
	Subscribe(o printer.Observer) (cancel func())
}

// Store keeps kitchen marks and the last printer. *ledger.Ledger
// implements it.
type Store interface {
	Sent(orderID string) (receipt.SentState, error)
	MarkSent(orderID string, marks receipt.SentState) error
	LastDevice() (string, error)
	SetLastDevice(name string) error
}

type Options struct {
	Printer   Printer
	Store     Store // MemoryStore when nil
	Formatter *receipt.Formatter
	Render    imaging.RenderOptions
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service serializes kitchen printing per process so the read of sent
// marks and their update after printing cannot interleave
type Service struct {
	printer Printer
	store   Store
	format  *receipt.Formatter
	render  imaging.RenderOptions
	log     *zap.Logger
	now     func() time.Time
	closers []func() error

	kitchenMu sync.Mutex
}

func New(opts Options) (*Service, error) {
	if opts.Printer == nil {
		return nil, errors.New("till: printer is required")
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore()
	}
	if opts.Formatter == nil {
		opts.Formatter = receipt.NewFormatter(receipt.DefaultProfile())
	}
	if opts.Render.Columns == 0 {
		cols := opts.Formatter.Profile().Columns
		opts.Render = imaging.DefaultRenderOptions()
		opts.Render.Columns = cols
		opts.Render.Width = cols * escpos.Dots58 / escpos.Columns58
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		printer: opts.Printer,
		store:   opts.Store,
		format:  opts.Formatter,
		render:  opts.Render,
		log:     opts.Logger,
		now:     opts.Now,
	}, nil
}

// Connect connects the printer and remembers its name for next time
func (s *Service) Connect(ctx context.Context) (string, error) {
	name, err := s.printer.Connect(ctx)
	if err != nil {
		return "", err
	}
	if err := s.store.SetLastDevice(name); err != nil {
		s.log.Warn("remember printer", zap.String("device", name), zap.Error(err))
	}
	return name, nil
}

func (s *Service) Disconnect() error {
	return s.printer.Disconnect()
}

func (s *Service) IsConnected() bool {
	return s.printer.IsConnected()
}

func (s *Service) Status() printer.Status {
	return s.printer.State()
}

func (s *Service) Subscribe(o printer.Observer) (cancel func()) {
	return s.printer.Subscribe(o)
}

// LastDevice is the name of the printer last connected, "" if none
func (s *Service) LastDevice() (string, error) {
	return s.store.LastDevice()
}

// PrintDocument formats doc and sends it to the printer
func (s *Service) PrintDocument(ctx context.Context, doc receipt.Document) error {
	buf, err := s.format.Format(doc)
	if err != nil {
		return err
	}
	if err := s.printer.Print(ctx, buf); err != nil {
		return err
	}
	s.log.Info("printed",
		zap.Stringer("kind", doc.Kind),
		zap.String("reference", doc.Reference),
		zap.Int("lines", len(doc.Lines)),
		zap.Int("bytes", len(buf)))
	return nil
}

// PrintReceipt prints the customer receipt for order
func (s *Service) PrintReceipt(ctx context.Context, order receipt.Order, shop receipt.Header, footer string) error {
	return s.PrintDocument(ctx, receipt.CustomerReceipt(order.Normalized(), shop, footer))
}

// PrintKitchen prints the full kitchen ticket and marks every line sent
func (s *Service) PrintKitchen(ctx context.Context, order receipt.Order) error {
	order = order.Normalized()

	s.kitchenMu.Lock()
	defer s.kitchenMu.Unlock()

	return s.printPlan(ctx, order.ID, receipt.FullKitchen(order))
}

// PrintKitchenAddition prints only the lines the kitchen has not seen and
// returns the kind printed: a full ticket when nothing was sent before.
// Marks are recorded only after the printer accepted the ticket, so a
// failed print leaves the same lines pending.
func (s *Service) PrintKitchenAddition(ctx context.Context, order receipt.Order) (receipt.Kind, error) {
	order = order.Normalized()

	s.kitchenMu.Lock()
	defer s.kitchenMu.Unlock()

	plan, err := s.PlanAddition(order)
	if err != nil {
		return 0, err
	}
	return plan.Document.Kind, s.printPlan(ctx, order.ID, plan)
}

// PlanAddition returns the kitchen ticket PrintKitchenAddition would print
// now, or ErrNothingPending
func (s *Service) PlanAddition(order receipt.Order) (receipt.KitchenPlan, error) {
	order = order.Normalized()
	sent, err := s.store.Sent(order.ID)
	if err != nil {
		return receipt.KitchenPlan{}, fmt.Errorf("load sent lines: %w", err)
	}
	plan := receipt.PlanKitchen(order, sent)
	if plan.Empty() {
		return receipt.KitchenPlan{}, ErrNothingPending
	}
	return plan, nil
}

// Pending returns the lines of order the kitchen has not received
func (s *Service) Pending(order receipt.Order) ([]receipt.LineItem, error) {
	order = order.Normalized()
	sent, err := s.store.Sent(order.ID)
	if err != nil {
		return nil, fmt.Errorf("load sent lines: %w", err)
	}
	return receipt.Pending(order.Lines, sent), nil
}

func (s *Service) printPlan(ctx context.Context, orderID string, plan receipt.KitchenPlan) error {
	if err := s.PrintDocument(ctx, plan.Document); err != nil {
		return err
	}
	if err := s.store.MarkSent(orderID, plan.Marks); err != nil {
		return fmt.Errorf("printed but could not record sent lines: %w", err)
	}
	return nil
}

// TestPage prints the bring-up page on the connected printer
func (s *Service) TestPage(ctx context.Context) error {
	return s.printer.Print(ctx, s.format.TestPage(s.printer.State().Device, s.now()))
}

// Format returns the command stream for doc without printing it
func (s *Service) Format(doc receipt.Document) ([]byte, error) {
	return s.format.Format(doc)
}

// Preview renders doc the way the printer would print it, for showing on
// screen or printing by other means when the printer is unreachable
func (s *Service) Preview(doc receipt.Document) (image.Image, error) {
	buf, err := s.format.Format(doc)
	if err != nil {
		return nil, err
	}
	return imaging.RenderStream(buf, s.render)
}

// Close disconnects the printer and releases what Open acquired
func (s *Service) Close() error {
	errs := []error{s.printer.Disconnect()}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}
