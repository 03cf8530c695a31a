package till

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"tillprint/internal/bluetooth"
	"tillprint/internal/config"
	"tillprint/internal/escpos"
	"tillprint/internal/imaging"
	"tillprint/internal/ledger"
	"tillprint/internal/printer"
	"tillprint/internal/receipt"
)

// Host returns the peripheral host for the configured transport
func Host(cfg config.PrinterConfig, log *zap.Logger) printer.Host {
	if cfg.Transport == config.TransportRFCOMM {
		return bluetooth.NewSerialHost(bluetooth.SerialOptions{
			Name:     cfg.Device,
			Channel:  cfg.Channel,
			BaudRate: cfg.BaudRate,
			Logger:   log,
		})
	}
	return bluetooth.NewBLEHost(log, cfg.ScanTimeout, cfg.Device)
}

// Formatter builds the document formatter for cfg, loading the shop logo
// when one is configured
func Formatter(cfg *config.Config) (*receipt.Formatter, error) {
	profile := cfg.Profile()
	if cfg.Shop.Logo != "" {
		logo, err := imaging.LoadLogo(cfg.Shop.Logo, profile.Columns*escpos.Dots58/escpos.Columns58)
		if err != nil {
			return nil, err
		}
		profile.Logo = &logo
	}
	return receipt.NewFormatter(profile), nil
}

// Open wires a Service from configuration: the peripheral host, the
// connection manager, the ledger and the formatter. Kitchen marks older
// than the retention period are pruned on the way in.
func Open(cfg *config.Config, log *zap.Logger, meter metric.Meter, observer printer.Observer) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	format, err := Formatter(cfg)
	if err != nil {
		return nil, err
	}

	mgr, err := printer.NewManager(printer.Options{
		Host:           Host(cfg.Printer, log),
		Service:        cfg.Printer.Service,
		Characteristic: cfg.Printer.Characteristic,
		MaxChunk:       cfg.Printer.MaxChunk,
		ReconnectDelay: cfg.Printer.ReconnectDelay,
		MaxAttempts:    cfg.Printer.MaxAttempts,
		Logger:         log,
		Meter:          meter,
		Observer:       observer,
	})
	if err != nil {
		return nil, err
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Ledger.Retention > 0 {
		n, err := l.Prune(time.Now().Add(-cfg.Ledger.Retention))
		if err != nil {
			log.Warn("prune ledger", zap.Error(err))
		} else if n > 0 {
			log.Info("pruned ledger", zap.Int("orders", n))
		}
	}

	s, err := New(Options{
		Printer:   mgr,
		Store:     l,
		Formatter: format,
		Logger:    log,
	})
	if err != nil {
		l.Close()
		return nil, err
	}
	s.closers = append(s.closers, l.Close)
	return s, nil
}
