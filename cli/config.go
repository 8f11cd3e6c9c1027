package main

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"time"

	"github.com/naoina/toml"
	"gopkg.in/urfave/cli.v1"

	ledger "github.com/schjonhaug/ledger-apdu-go"
	"github.com/schjonhaug/ledger-apdu-go/transport/hid"
	"github.com/schjonhaug/ledger-apdu-go/transport/pcsc"
	"github.com/schjonhaug/ledger-apdu-go/transport/replay"
	"github.com/schjonhaug/ledger-apdu-go/transport/speculos"
)

// Transport kinds accepted by --transport and the config file.
const (
	transportHID      = "hid"
	transportSpeculos = "speculos"
	transportPCSC     = "pcsc"
	transportReplay   = "replay"
)

// These settings keep the TOML keys identical to the Go field names.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

type hidConfig struct {
	VendorID   uint16
	ProductID  uint16
	Path       string
	PacketSize int
}

type speculosConfig struct {
	Address string
}

type pcscConfig struct {
	Reader string
	Wait   bool
}

type replayConfig struct {
	File string
}

type config struct {
	Transport string
	Timeout   string
	Account   uint32
	Path      string
	Confirm   bool

	HID      hidConfig
	Speculos speculosConfig
	PCSC     pcscConfig
	Replay   replayConfig
}

func defaultConfig() config {
	return config{
		Transport: transportHID,
		Timeout:   ledger.DefaultTimeout.String(),
		Account:   12345,
		HID: hidConfig{
			VendorID:   hid.LedgerVendorID,
			PacketSize: hid.DefaultPacketSize,
		},
		Speculos: speculosConfig{Address: speculos.DefaultAddress},
	}
}

func loadConfig(file string, cfg *config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the config file, if any, and applies command line flags
// on top of it.
func makeConfig(ctx *cli.Context) (config, error) {
	cfg := defaultConfig()

	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			return config{}, err
		}
	}

	if ctx.IsSet(transportFlag.Name) {
		cfg.Transport = ctx.String(transportFlag.Name)
	}
	if ctx.IsSet(timeoutFlag.Name) {
		cfg.Timeout = ctx.Duration(timeoutFlag.Name).String()
	}
	if ctx.IsSet(accountFlag.Name) {
		account := ctx.Uint(accountFlag.Name)
		if uint64(account) > math.MaxUint32 {
			return config{}, fmt.Errorf("%w: account %d does not fit in 32 bits", ledger.ErrInvalidArgument, account)
		}
		cfg.Account = uint32(account)
	}
	if ctx.IsSet(pathFlag.Name) {
		cfg.Path = ctx.String(pathFlag.Name)
	}
	if ctx.IsSet(confirmFlag.Name) {
		cfg.Confirm = ctx.Bool(confirmFlag.Name)
	}
	if ctx.IsSet(hidPathFlag.Name) {
		cfg.HID.Path = ctx.String(hidPathFlag.Name)
	}
	if ctx.IsSet(speculosAddrFlag.Name) {
		cfg.Speculos.Address = ctx.String(speculosAddrFlag.Name)
	}
	if ctx.IsSet(readerFlag.Name) {
		cfg.PCSC.Reader = ctx.String(readerFlag.Name)
	}
	if ctx.IsSet(replayFileFlag.Name) {
		cfg.Replay.File = ctx.String(replayFileFlag.Name)
	}

	return cfg, nil
}

func (cfg config) timeout() (time.Duration, error) {
	if cfg.Timeout == "" {
		return ledger.DefaultTimeout, nil
	}
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", cfg.Timeout, err)
	}
	return timeout, nil
}

// derivationPath prefers an explicit path over the account shorthand.
func (cfg config) derivationPath() (ledger.DerivationPath, error) {
	if cfg.Path != "" {
		return ledger.ParsePath(cfg.Path)
	}
	path := ledger.SolanaPath(cfg.Account)
	return path, path.Validate()
}

// opener returns the device id and opener for the configured transport.
func (cfg config) opener() (string, ledger.Opener, error) {
	switch cfg.Transport {
	case transportHID:
		hidCfg := hid.Config{
			VendorID:   cfg.HID.VendorID,
			ProductID:  cfg.HID.ProductID,
			Path:       cfg.HID.Path,
			PacketSize: cfg.HID.PacketSize,
		}
		id := "hid:" + cfg.HID.Path
		return id, hid.Opener(hidCfg), nil
	case transportSpeculos:
		return "speculos:" + cfg.Speculos.Address, speculos.Opener(cfg.Speculos.Address), nil
	case transportPCSC:
		pcscCfg := pcsc.Config{Reader: cfg.PCSC.Reader, Wait: cfg.PCSC.Wait}
		return "pcsc:" + cfg.PCSC.Reader, pcsc.Opener(pcscCfg), nil
	case transportReplay:
		if cfg.Replay.File == "" {
			return "", nil, errors.New("replay transport needs a recording file")
		}
		return "replay:" + cfg.Replay.File, replay.Opener(cfg.Replay.File), nil
	default:
		return "", nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
