// tillprint-cli prints receipts and kitchen tickets from YAML order files
// on a Bluetooth thermal printer, or renders them to PNG or raw ESC/POS
// when the printer is not around.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"tillprint/internal/bluetooth"
	"tillprint/internal/config"
	"tillprint/internal/imaging"
	"tillprint/internal/printer"
	"tillprint/internal/receipt"
	"tillprint/internal/till"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// common holds the flags every command accepts
type common struct {
	config    string
	device    string
	transport string
	logLevel  string
}

func (c *common) register(fs *pflag.FlagSet) {
	fs.StringVarP(&c.config, "config", "c", "", "config file (default $"+config.EnvConfig+")")
	fs.StringVar(&c.device, "device", "", "printer name or address")
	fs.StringVar(&c.transport, "transport", "", "ble or rfcomm")
	fs.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error")
}

func (c *common) load() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if c.config != "" {
		cfg, err = config.LoadFile(c.config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if c.device != "" {
		cfg.Printer.Device = c.device
	}
	if c.transport != "" {
		cfg.Printer.Transport = strings.ToLower(c.transport)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	return cfg, cfg.Validate()
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, stdout, stderr io.Writer) error
}

func commands() []command {
	return []command{
		{"print", "print an order: --order FILE [--kind receipt|kitchen|addition]", runPrint},
		{"preview", "render an order to PNG: --order FILE --out FILE.png", runPreview},
		{"dump", "write the raw ESC/POS stream: --order FILE --out FILE|-", runDump},
		{"test", "print the printer test page", runTest},
		{"devices", "list printers that can be reached", runDevices},
	}
}

var errUsage = errors.New("usage")

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		usage(stderr)
		if len(args) == 0 {
			return exitUsage
		}
		return exitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	for _, c := range commands() {
		if c.name != args[0] {
			continue
		}
		err := c.run(ctx, args[1:], stdout, stderr)
		switch {
		case err == nil:
			return exitOK
		case errors.Is(err, pflag.ErrHelp):
			return exitOK
		case errors.Is(err, errUsage):
			fmt.Fprintf(stderr, "error: %v\n", err)
			return exitUsage
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFail
	}

	fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
	usage(stderr)
	return exitUsage
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: tillprint-cli <command> [flags]\n\nCommands:\n")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nRun tillprint-cli <command> --help for the flags of a command.\n")
}

// orderFlags are shared by the commands that take an order file
type orderFlags struct {
	common
	order string
	kind  string
	out   string
}

func parseOrderFlags(name string, args []string, stderr io.Writer, out string) (*orderFlags, error) {
	f := &orderFlags{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	f.register(fs)
	fs.StringVarP(&f.order, "order", "o", "", "order YAML file")
	fs.StringVarP(&f.kind, "kind", "k", "receipt", "receipt, kitchen or addition")
	if out != "" {
		fs.StringVar(&f.out, "out", out, "output file")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if f.order == "" {
		return nil, fmt.Errorf("%w: --order is required", errUsage)
	}
	return f, nil
}

// session is an opened service plus what the commands need around it
type session struct {
	cfg   *config.Config
	log   *zap.Logger
	svc   *till.Service
	order receipt.Order
	kind  receipt.Kind
}

func open(f *orderFlags, stderr io.Writer) (*session, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	kind, err := receipt.ParseKind(f.kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	order, err := receipt.LoadOrder(f.order)
	if err != nil {
		return nil, err
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		return nil, err
	}
	status := printer.ObserverFunc(func(st printer.Status) {
		fmt.Fprintf(stderr, "printer: %s %s\n", st, st.Message)
	})
	svc, err := till.Open(cfg, log, nil, status)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, log: log, svc: svc, order: order, kind: kind}, nil
}

func (s *session) close() {
	if err := s.svc.Close(); err != nil {
		s.log.Warn("close", zap.Error(err))
	}
	_ = s.log.Sync()
}

// document builds what would be printed now for the session's order
func (s *session) document() (receipt.Document, error) {
	switch s.kind {
	case receipt.KindCustomer:
		return receipt.CustomerReceipt(s.order, s.cfg.Shop.Header, s.cfg.Shop.Footer), nil
	case receipt.KindKitchenFull:
		return receipt.FullKitchen(s.order).Document, nil
	}
	plan, err := s.svc.PlanAddition(s.order)
	if err != nil {
		return receipt.Document{}, err
	}
	return plan.Document, nil
}

func runPrint(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseOrderFlags("print", args, stderr, "")
	if err != nil {
		return err
	}
	s, err := open(f, stderr)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	name, err := s.svc.Connect(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "connected to %s\n", name)

	switch s.kind {
	case receipt.KindCustomer:
		err = s.svc.PrintReceipt(ctx, s.order, s.cfg.Shop.Header, s.cfg.Shop.Footer)
	case receipt.KindKitchenFull:
		err = s.svc.PrintKitchen(ctx, s.order)
	default:
		var kind receipt.Kind
		kind, err = s.svc.PrintKitchenAddition(ctx, s.order)
		if err == nil && kind != receipt.KindKitchenAddition {
			fmt.Fprintln(stdout, "nothing was sent before; printed the full ticket")
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "printed %s for order %s\n", f.kind, s.order.Reference)
	return nil
}

func runPreview(_ context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseOrderFlags("preview", args, stderr, "preview.png")
	if err != nil {
		return err
	}
	s, err := open(f, stderr)
	if err != nil {
		return err
	}
	defer s.close()

	doc, err := s.document()
	if err != nil {
		return err
	}
	img, err := s.svc.Preview(doc)
	if err != nil {
		return err
	}
	if f.out == "-" {
		return imaging.EncodePNG(stdout, img)
	}
	if err := imaging.SavePNG(f.out, img); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %s\n", f.out)
	return nil
}

func runDump(_ context.Context, args []string, stdout, stderr io.Writer) error {
	f, err := parseOrderFlags("dump", args, stderr, "-")
	if err != nil {
		return err
	}
	s, err := open(f, stderr)
	if err != nil {
		return err
	}
	defer s.close()

	doc, err := s.document()
	if err != nil {
		return err
	}
	buf, err := s.svc.Format(doc)
	if err != nil {
		return err
	}
	if f.out == "-" {
		_, err = stdout.Write(buf)
		return err
	}
	return os.WriteFile(f.out, buf, 0o644)
}

func runTest(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var c common
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	svc, err := till.Open(cfg, log, nil, nil)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	name, err := svc.Connect(ctx)
	if err != nil {
		return err
	}
	if err := svc.TestPage(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "test page sent to %s\n", name)
	return nil
}

func runDevices(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var c common
	fs := pflag.NewFlagSet("devices", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	c.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer log.Sync()

	var devices []bluetooth.Device
	switch cfg.Printer.Transport {
	case config.TransportRFCOMM:
		devices, err = bluetooth.ListPairedDevices(ctx)
		if ports, perr := bluetooth.ListSerialPorts(); perr == nil && len(ports) > 0 {
			fmt.Fprintf(stdout, "serial ports: %s\n", strings.Join(ports, ", "))
		}
	default:
		devices, err = bluetooth.NewBLEHost(log, cfg.Printer.ScanTimeout, "").Devices(ctx, cfg.Printer.Service)
	}
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return bluetooth.ErrNoDevicesFound
	}
	for _, d := range devices {
		fmt.Fprintf(stdout, "%-24s %s\n", d.Name, d.Address)
	}
	return nil
}
