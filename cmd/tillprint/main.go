package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
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
	AppVersion = "0.1.0"
	AppName    = "Till Print"

	printTimeout = 2 * time.Minute

	// noFallback marks prints that have no PNG equivalent
	noFallback receipt.Kind = -1
)

var kindNames = []string{"receipt", "kitchen", "addition"}

type App struct {
	fyneApp fyne.App
	window  fyne.Window
	cfg     *config.Config
	log     *zap.Logger
	svc     *till.Service

	order     *receipt.Order
	kind      receipt.Kind
	lastImage *canvas.Image

	// Widgets that need updating
	statusLabel   *widget.Label
	orderLabel    *widget.Label
	pendingLabel  *widget.Label
	connectBtn    *widget.Button
	printBtns     []*widget.Button
	testBtn       *widget.Button
	deviceSelect  *widget.Select
	refreshBtn    *widget.Button
	kindSelect    *widget.Select
	savePNGButton *widget.Button

	// Discovered printers
	devices []bluetooth.Device
}

func main() {
	var configPath string
	fs := pflag.NewFlagSet("tillprint", pflag.ContinueOnError)
	fs.StringVarP(&configPath, "config", "c", "", "config file (default $"+config.EnvConfig+")")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	a := app.New()
	w := a.NewWindow(fmt.Sprintf("%s v%s", AppName, AppVersion))
	w.Resize(fyne.NewSize(720, 560))

	tillApp := &App{
		fyneApp: a,
		window:  w,
		cfg:     cfg,
		log:     log,
		kind:    receipt.KindCustomer,
	}

	w.SetMainMenu(tillApp.buildMenu())
	w.SetContent(tillApp.buildUI())

	if err := tillApp.openService(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	tillApp.rememberDevice()

	w.SetOnClosed(func() {
		tillApp.cleanup()
	})
	w.ShowAndRun()
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// openService builds the till service for the current config; any previous
// one is closed first so the ledger file is free
func (a *App) openService() error {
	if a.svc != nil {
		if err := a.svc.Close(); err != nil {
			a.log.Warn("close service", zap.Error(err))
		}
		a.svc = nil
	}
	svc, err := till.Open(a.cfg, a.log, nil, printer.ObserverFunc(a.onStatus))
	if err != nil {
		return err
	}
	a.svc = svc
	return nil
}

// rememberDevice targets the printer used last time when the config names
// none
func (a *App) rememberDevice() {
	if a.cfg.Printer.Device != "" {
		a.deviceSelect.SetSelected(a.cfg.Printer.Device)
		return
	}
	last, err := a.svc.LastDevice()
	if err != nil || last == "" {
		return
	}
	a.cfg.Printer.Device = last
	if err := a.openService(); err != nil {
		a.statusLabel.SetText(fmt.Sprintf("Could not select %s: %v", last, err))
		return
	}
	a.deviceSelect.Options = append(a.deviceSelect.Options, last)
	a.deviceSelect.SetSelected(last)
	a.statusLabel.SetText(fmt.Sprintf("Last printer: %s", last))
}

func (a *App) buildMenu() *fyne.MainMenu {
	openItem := fyne.NewMenuItem("Open Order...", func() {
		a.loadOrder()
	})
	aboutItem := fyne.NewMenuItem("About", func() {
		a.showAboutDialog()
	})

	return fyne.NewMainMenu(
		fyne.NewMenu("File", openItem),
		fyne.NewMenu("Help", aboutItem),
	)
}

func (a *App) showAboutDialog() {
	content := container.NewVBox(
		widget.NewLabelWithStyle(AppName, fyne.TextAlignCenter, fyne.TextStyle{Bold: true}),
		widget.NewLabel(fmt.Sprintf("Version %s", AppVersion)),
		widget.NewSeparator(),
		widget.NewLabel("Prints customer receipts and kitchen tickets"),
		widget.NewLabel("on 58mm Bluetooth thermal printers."),
		widget.NewLabel(""),
		widget.NewLabel("Built with Fyne and Go"),
	)

	dialog.ShowCustom("About", "Close", content, a.window)
}

func (a *App) cleanup() {
	if a.svc != nil {
		a.svc.Close()
	}
}

func (a *App) buildUI() fyne.CanvasObject {
	// Status bar
	a.statusLabel = widget.NewLabel("Not connected")

	// === PRINTER SECTION ===
	a.deviceSelect = widget.NewSelect([]string{}, func(s string) {})
	a.deviceSelect.PlaceHolder = "Any printer"
	a.refreshBtn = widget.NewButton("↻", func() {
		go a.refreshDevices()
	})
	a.connectBtn = widget.NewButton("Connect", func() {
		a.toggleConnection()
	})

	deviceRow := container.NewBorder(
		nil, nil, nil,
		container.NewHBox(a.refreshBtn, a.connectBtn),
		a.deviceSelect,
	)

	a.testBtn = widget.NewButton("Test Page", func() {
		a.runPrint("test page", func(ctx context.Context) error {
			return a.svc.TestPage(ctx)
		}, noFallback)
	})
	a.testBtn.Disable()

	// === ORDER SECTION ===
	a.orderLabel = widget.NewLabel("No order loaded")
	a.orderLabel.Wrapping = fyne.TextWrapWord
	a.pendingLabel = widget.NewLabel("")

	loadBtn := widget.NewButton("Load Order", func() {
		a.loadOrder()
	})

	receiptBtn := widget.NewButton("Print Receipt", func() {
		a.runPrint("receipt", func(ctx context.Context) error {
			return a.svc.PrintReceipt(ctx, *a.order, a.cfg.Shop.Header, a.cfg.Shop.Footer)
		}, receipt.KindCustomer)
	})
	receiptBtn.Importance = widget.HighImportance

	kitchenBtn := widget.NewButton("Print Kitchen", func() {
		a.runPrint("kitchen ticket", func(ctx context.Context) error {
			return a.svc.PrintKitchen(ctx, *a.order)
		}, receipt.KindKitchenFull)
	})

	additionBtn := widget.NewButton("Send Addition", func() {
		a.runPrint("addition", func(ctx context.Context) error {
			_, err := a.svc.PrintKitchenAddition(ctx, *a.order)
			return err
		}, receipt.KindKitchenAddition)
	})

	a.printBtns = []*widget.Button{receiptBtn, kitchenBtn, additionBtn}
	for _, b := range a.printBtns {
		b.Disable()
	}

	// === PREVIEW ===
	a.kindSelect = widget.NewSelect(kindNames, func(s string) {
		kind, err := receipt.ParseKind(s)
		if err != nil {
			return
		}
		a.kind = kind
		a.updatePreview()
	})
	a.kindSelect.SetSelected(kindNames[0])

	a.savePNGButton = widget.NewButton("Save PNG", func() {
		a.savePNG(a.kind)
	})
	a.savePNGButton.Disable()

	a.lastImage = canvas.NewImageFromImage(nil)
	a.lastImage.SetMinSize(fyne.NewSize(260, 380))
	a.lastImage.FillMode = canvas.ImageFillContain

	leftPanel := container.NewVBox(
		widget.NewLabel("Printer:"),
		deviceRow,
		a.testBtn,
		widget.NewSeparator(),
		loadBtn,
		a.orderLabel,
		a.pendingLabel,
		widget.NewSeparator(),
		receiptBtn,
		kitchenBtn,
		additionBtn,
	)

	rightPanel := container.NewBorder(
		container.NewBorder(nil, nil, nil, a.savePNGButton, a.kindSelect),
		nil, nil, nil,
		container.NewScroll(a.lastImage),
	)

	content := container.NewHSplit(leftPanel, rightPanel)
	content.SetOffset(0.4)

	return container.NewBorder(
		nil,
		container.NewHBox(a.statusLabel),
		nil, nil,
		content,
	)
}

// onStatus mirrors the connection state on the panel
func (a *App) onStatus(st printer.Status) {
	text := st.Message
	if text == "" {
		text = st.String()
	}
	if st.Err != nil {
		text = fmt.Sprintf("%s: %v", text, st.Err)
	}
	a.statusLabel.SetText(text)

	switch st.State {
	case printer.Connected, printer.Reconnecting:
		a.connectBtn.SetText("Disconnect")
		a.connectBtn.Enable()
		a.deviceSelect.Disable()
		a.refreshBtn.Disable()
	case printer.Connecting:
		a.connectBtn.Disable()
	default:
		a.connectBtn.SetText("Connect")
		a.connectBtn.Enable()
		a.deviceSelect.Enable()
		a.refreshBtn.Enable()
	}
	a.updateButtons(st.State == printer.Connected)
}

func (a *App) updateButtons(connected bool) {
	for _, b := range a.printBtns {
		if connected && a.order != nil {
			b.Enable()
		} else {
			b.Disable()
		}
	}
	if connected {
		a.testBtn.Enable()
	} else {
		a.testBtn.Disable()
	}
}

func (a *App) refreshDevices() {
	a.statusLabel.SetText("Looking for printers...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Printer.ScanTimeout+5*time.Second)
	defer cancel()

	var devices []bluetooth.Device
	var err error
	if a.cfg.Printer.Transport == config.TransportRFCOMM {
		devices, err = bluetooth.ListPairedDevices(ctx)
	} else {
		devices, err = bluetooth.NewBLEHost(a.log, a.cfg.Printer.ScanTimeout, "").Devices(ctx, a.cfg.Printer.Service)
	}
	if err != nil {
		a.statusLabel.SetText(fmt.Sprintf("Scan failed: %v", err))
		return
	}

	a.devices = devices
	options := make([]string, len(devices))
	for i, d := range devices {
		options[i] = d.Name
		if d.Name == "" {
			options[i] = d.Address
		}
	}
	a.deviceSelect.Options = options
	if len(options) > 0 && a.deviceSelect.Selected == "" {
		a.deviceSelect.SetSelected(options[0])
	}
	a.deviceSelect.Refresh()

	a.statusLabel.SetText(fmt.Sprintf("Found %d printer(s)", len(devices)))
}

func (a *App) toggleConnection() {
	if st := a.svc.Status().State; st == printer.Connected || st == printer.Reconnecting {
		if err := a.svc.Disconnect(); err != nil {
			a.log.Warn("disconnect", zap.Error(err))
		}
		return
	}

	if want := a.deviceSelect.Selected; want != a.cfg.Printer.Device {
		a.cfg.Printer.Device = want
		if err := a.openService(); err != nil {
			dialog.ShowError(err, a.window)
			return
		}
	}

	a.connectBtn.Disable()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), printTimeout)
		defer cancel()

		name, err := a.svc.Connect(ctx)
		if err != nil {
			a.connectBtn.Enable()
			dialog.ShowError(fmt.Errorf("failed to connect: %w", err), a.window)
			return
		}
		a.statusLabel.SetText(fmt.Sprintf("Connected to %s", name))
	}()
}

func (a *App) loadOrder() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if reader == nil {
			return
		}
		defer reader.Close()

		order, err := receipt.ReadOrder(reader)
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}

		a.order = &order
		a.orderLabel.SetText(fmt.Sprintf("Order %s - %s - %d line(s)", order.Reference, order.Destination, len(order.Lines)))
		a.savePNGButton.Enable()
		a.updatePending()
		a.updatePreview()
		a.updateButtons(a.svc.IsConnected())
	}, a.window)

	fd.SetFilter(storage.NewExtensionFileFilter([]string{".yaml", ".yml"}))
	fd.Show()
}

func (a *App) updatePending() {
	if a.order == nil {
		a.pendingLabel.SetText("")
		return
	}
	pending, err := a.svc.Pending(*a.order)
	if err != nil {
		a.pendingLabel.SetText(fmt.Sprintf("Kitchen state unknown: %v", err))
		return
	}
	switch len(pending) {
	case 0:
		a.pendingLabel.SetText("Kitchen is up to date")
	case len(a.order.Lines):
		a.pendingLabel.SetText("Not sent to the kitchen yet")
	default:
		names := make([]string, len(pending))
		for i, l := range pending {
			names[i] = fmt.Sprintf("%d x %s", l.Quantity, l.Name)
		}
		a.pendingLabel.SetText("Pending: " + strings.Join(names, ", "))
	}
}

// document is what the selected kind would print for the loaded order now
func (a *App) document(kind receipt.Kind) (receipt.Document, error) {
	if a.order == nil {
		return receipt.Document{}, errors.New("no order loaded")
	}
	switch kind {
	case receipt.KindCustomer:
		return receipt.CustomerReceipt(*a.order, a.cfg.Shop.Header, a.cfg.Shop.Footer), nil
	case receipt.KindKitchenFull:
		return receipt.FullKitchen(*a.order).Document, nil
	}
	plan, err := a.svc.PlanAddition(*a.order)
	if err != nil {
		return receipt.Document{}, err
	}
	return plan.Document, nil
}

func (a *App) updatePreview() {
	if a.order == nil {
		return
	}
	doc, err := a.document(a.kind)
	if errors.Is(err, till.ErrNothingPending) {
		a.lastImage.Image = nil
		a.lastImage.Refresh()
		return
	}
	if err != nil {
		a.statusLabel.SetText(err.Error())
		return
	}
	img, err := a.svc.Preview(doc)
	if err != nil {
		a.statusLabel.SetText(fmt.Sprintf("Preview failed: %v", err))
		return
	}
	a.lastImage.Image = img
	a.lastImage.Refresh()
}

// runPrint prints in the background; on failure it offers the PNG render
// so the ticket can still reach the counter
func (a *App) runPrint(what string, job func(ctx context.Context) error, kind receipt.Kind) {
	for _, b := range a.printBtns {
		b.Disable()
	}
	a.statusLabel.SetText(fmt.Sprintf("Printing %s...", what))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), printTimeout)
		defer cancel()

		err := job(ctx)
		a.updateButtons(a.svc.IsConnected())
		a.updatePending()
		a.updatePreview()

		switch {
		case err == nil:
			a.statusLabel.SetText(fmt.Sprintf("Printed %s", what))
		case errors.Is(err, till.ErrNothingPending):
			a.statusLabel.SetText("Nothing new for the kitchen")
		default:
			a.statusLabel.SetText(fmt.Sprintf("Print error: %v", err))
			if a.order == nil || kind == noFallback {
				dialog.ShowError(err, a.window)
				return
			}
			dialog.ShowConfirm("Print failed",
				fmt.Sprintf("%v\n\nSave the %s as a PNG instead?", err, what),
				func(ok bool) {
					if ok {
						a.savePNG(kind)
					}
				}, a.window)
		}
	}()
}

func (a *App) savePNG(kind receipt.Kind) {
	doc, err := a.document(kind)
	if err != nil {
		dialog.ShowError(err, a.window)
		return
	}
	img, err := a.svc.Preview(doc)
	if err != nil {
		dialog.ShowError(err, a.window)
		return
	}

	fd := dialog.NewFileSave(func(writer fyne.URIWriteCloser, err error) {
		if err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		if writer == nil {
			return
		}
		defer writer.Close()

		if err := imaging.EncodePNG(writer, img); err != nil {
			dialog.ShowError(err, a.window)
			return
		}
		a.statusLabel.SetText(fmt.Sprintf("Saved %s", writer.URI().Name()))
	}, a.window)
	fd.SetFileName(fmt.Sprintf("%s-%s.png", doc.Kind, doc.Reference))
	fd.SetFilter(storage.NewExtensionFileFilter([]string{".png"}))
	fd.Show()
}
