// Package config loads the till printing configuration from YAML.
//
// Defaults are applied first, the file is merged over them, and a small set
// of TILLPRINT_* environment variables wins over both so a cashier station
// can point at a different printer without editing the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"tillprint/internal/escpos"
	"tillprint/internal/printer"
	"tillprint/internal/receipt"
)

// Printer transports
const (
	TransportBLE    = "ble"
	TransportRFCOMM = "rfcomm"
)

// Environment overrides
const (
	EnvConfig    = "TILLPRINT_CONFIG"
	EnvDevice    = "TILLPRINT_DEVICE"
	EnvTransport = "TILLPRINT_TRANSPORT"
	EnvLogLevel  = "TILLPRINT_LOG_LEVEL"
)

type Config struct {
	Printer PrinterConfig `yaml:"printer"`
	Shop    ShopConfig    `yaml:"shop"`
	Money   receipt.Money `yaml:"money"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Log     LogConfig     `yaml:"log"`
}

type PrinterConfig struct {
	// Transport is "ble" for GATT printers or "rfcomm" for classic SPP ones
	Transport string `yaml:"transport"`

	// Device filters discovery by name or address. Empty takes the first
	// printer found.
	Device string `yaml:"device"`

	Service        string        `yaml:"service"`
	Characteristic string        `yaml:"characteristic"`
	MaxChunk       int           `yaml:"max_chunk"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ScanTimeout    time.Duration `yaml:"scan_timeout"`

	// RFCOMM only
	Channel  int `yaml:"channel"`
	BaudRate int `yaml:"baud_rate"`

	Columns   int `yaml:"columns"`
	TrailFeed int `yaml:"trail_feed"`
}

type ShopConfig struct {
	receipt.Header `yaml:",inline"`

	Footer string `yaml:"footer"`

	// Logo is an image file printed above the shop name
	Logo string `yaml:"logo"`
}

type LedgerConfig struct {
	Path string `yaml:"path"`

	// Retention is how long kitchen marks are kept before pruning
	Retention time.Duration `yaml:"retention"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &Config{
		Printer: PrinterConfig{
			Transport:      TransportBLE,
			Service:        printer.DefaultService,
			Characteristic: printer.DefaultCharacteristic,
			MaxChunk:       printer.DefaultMaxChunk,
			ReconnectDelay: printer.DefaultReconnectDelay,
			MaxAttempts:    printer.DefaultMaxAttempts,
			ScanTimeout:    10 * time.Second,
			Channel:        1,
			BaudRate:       115200,
			Columns:        escpos.Columns58,
			TrailFeed:      4,
		},
		Money: receipt.DefaultMoney(),
		Ledger: LedgerConfig{
			Path:      filepath.Join(dir, "tillprint", "till.db"),
			Retention: 7 * 24 * time.Hour,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads the file named by TILLPRINT_CONFIG, or returns the defaults
// with environment overrides when it is unset
func Load() (*Config, error) {
	if path := os.Getenv(EnvConfig); path != "" {
		return LoadFile(path)
	}
	cfg := Default()
	cfg.applyEnvironment()
	return cfg, nil
}

// LoadFile merges the YAML file at path over the defaults
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvironment()
	cfg.expand()
	return cfg, nil
}

func (c *Config) applyEnvironment() {
	if v := os.Getenv(EnvDevice); v != "" {
		c.Printer.Device = v
	}
	if v := os.Getenv(EnvTransport); v != "" {
		c.Printer.Transport = strings.ToLower(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// expand resolves ~ in file paths
func (c *Config) expand() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	for _, p := range []*string{&c.Ledger.Path, &c.Shop.Logo} {
		if *p == "~" {
			*p = home
		} else if strings.HasPrefix(*p, "~/") {
			*p = filepath.Join(home, (*p)[2:])
		}
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	var errs []error

	switch c.Printer.Transport {
	case TransportBLE, TransportRFCOMM:
	default:
		errs = append(errs, fmt.Errorf("printer.transport must be %q or %q, got %q", TransportBLE, TransportRFCOMM, c.Printer.Transport))
	}
	if c.Printer.Transport == TransportBLE && c.Printer.Service == "" {
		errs = append(errs, errors.New("printer.service is required for ble"))
	}
	if c.Printer.MaxChunk <= 0 {
		errs = append(errs, fmt.Errorf("printer.max_chunk must be positive, got %d", c.Printer.MaxChunk))
	}
	if c.Printer.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("printer.max_attempts must not be negative, got %d", c.Printer.MaxAttempts))
	}
	if c.Printer.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("printer.reconnect_delay must not be negative, got %s", c.Printer.ReconnectDelay))
	}
	if c.Printer.Transport == TransportRFCOMM && (c.Printer.Channel < 1 || c.Printer.Channel > 30) {
		errs = append(errs, fmt.Errorf("printer.channel must be 1-30, got %d", c.Printer.Channel))
	}
	if c.Printer.Columns < 16 {
		errs = append(errs, fmt.Errorf("printer.columns must be at least 16, got %d", c.Printer.Columns))
	}
	if c.Money.Places < 0 {
		errs = append(errs, fmt.Errorf("money.places must not be negative, got %d", c.Money.Places))
	}
	if c.Ledger.Path == "" {
		errs = append(errs, errors.New("ledger.path is required"))
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	return errors.Join(errs...)
}

// Profile is the paper and money layout for the formatter
func (c *Config) Profile() receipt.Profile {
	return receipt.Profile{Columns: c.Printer.Columns, Money: c.Money, TrailFeed: c.Printer.TrailFeed}
}

// Logger builds the zap logger described by the log section
func (l LogConfig) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	return cfg.Build()
}
