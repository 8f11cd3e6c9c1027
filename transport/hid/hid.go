// Package hid implements the Ledger USB HID link.
package hid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/karalabe/usb"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

const (
	// LedgerVendorID is the USB vendor id of Ledger devices.
	LedgerVendorID uint16 = 0x2c97

	// ledgerUsagePage identifies the APDU interface on devices exposing
	// several HID interfaces (U2F, WebUSB, ...).
	ledgerUsagePage uint16 = 0xffa0
)

var errUnsupported = errors.New("hid: USB HID not supported on this platform")

// Config selects a device and tunes the link.
type Config struct {
	VendorID   uint16 // Zero means LedgerVendorID
	ProductID  uint16 // Zero matches any product
	Path       string // Optional platform path, first match otherwise
	PacketSize int    // Zero means DefaultPacketSize
}

func (c Config) withDefaults() Config {
	if c.VendorID == 0 {
		c.VendorID = LedgerVendorID
	}
	if c.PacketSize == 0 {
		c.PacketSize = DefaultPacketSize
	}
	return c
}

// Enumerate lists the APDU interfaces of the attached devices.
func Enumerate(vendorID, productID uint16) ([]usb.DeviceInfo, error) {
	if !usb.Supported() {
		return nil, errUnsupported
	}
	if vendorID == 0 {
		vendorID = LedgerVendorID
	}

	infos, err := usb.EnumerateHid(vendorID, productID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ledger.ErrTransport, err)
	}

	var devices []usb.DeviceInfo
	for _, info := range infos {
		// Windows and macOS report the usage page, Linux only the interface.
		if info.UsagePage == ledgerUsagePage || info.Interface == 0 {
			devices = append(devices, info)
		}
	}
	return devices, nil
}

// Find returns the device matching cfg.
func Find(cfg Config) (usb.DeviceInfo, error) {
	cfg = cfg.withDefaults()

	devices, err := Enumerate(cfg.VendorID, cfg.ProductID)
	if err != nil {
		return usb.DeviceInfo{}, err
	}
	for _, info := range devices {
		if cfg.Path == "" || info.Path == cfg.Path {
			return info, nil
		}
	}
	return usb.DeviceInfo{}, fmt.Errorf("%w: no HID device for vendor %04x product %04x", ledger.ErrDeviceNotFound, cfg.VendorID, cfg.ProductID)
}

// Opener returns a ledger.Opener for the device described by cfg.
func Opener(cfg Config) ledger.Opener {
	return func(ctx context.Context) (ledger.Transport, error) {
		return Open(cfg)
	}
}

// Transport is a ledger.Transport over a USB HID device.
type Transport struct {
	info       usb.DeviceInfo
	device     usb.Device
	channel    uint16
	packetSize int

	closeOnce sync.Once
	closeErr  error
}

// Open opens the device described by cfg.
func Open(cfg Config) (*Transport, error) {
	cfg = cfg.withDefaults()

	info, err := Find(cfg)
	if err != nil {
		return nil, err
	}

	device, err := info.Open()
	if err != nil {
		// hidapi does not tell busy from gone; the device was enumerated a
		// moment ago so assume another process holds it.
		return nil, fmt.Errorf("%w: %s: %w", ledger.ErrDeviceBusy, info.Path, err)
	}

	slog.Debug("HID device opened", "Path", info.Path, "Product", info.Product)

	return &Transport{
		info:       info,
		device:     device,
		channel:    DefaultChannel,
		packetSize: cfg.PacketSize,
	}, nil
}

// Exchange implements ledger.Transport.
func (t *Transport) Exchange(ctx context.Context, command []byte) ([]byte, error) {
	packets, err := wrapCommand(t.channel, command, t.packetSize)
	if err != nil {
		return nil, err
	}

	for _, packet := range packets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		slog.Debug("HID", "Sent", fmt.Sprintf("%x", packet))
		if _, err := t.device.Write(packet); err != nil {
			return nil, t.ioError(err)
		}
	}

	r := newReassembler(t.channel)
	buf := make([]byte, t.packetSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := t.device.Read(buf)
		if err != nil {
			return nil, t.ioError(err)
		}
		slog.Debug("HID", "Received", fmt.Sprintf("%x", buf[:n]))

		done, err := r.feed(buf[:n])
		if err != nil {
			return nil, err
		}
		if done {
			return r.reply, nil
		}
	}
}

// Reset drops the link. hidapi has no way to abort a request on the device,
// closing unblocks the pending read and the device discards the exchange
// when the host reconnects.
func (t *Transport) Reset() error {
	return t.Close()
}

// Close implements ledger.Transport.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.device.Close()
	})
	return t.closeErr
}

// ioError tells an unplugged device from a plain I/O failure by checking
// whether the device is still enumerated.
func (t *Transport) ioError(err error) error {
	devices, enumErr := Enumerate(t.info.VendorID, t.info.ProductID)
	if enumErr == nil {
		for _, info := range devices {
			if info.Path == t.info.Path {
				return fmt.Errorf("%w: %w", ledger.ErrTransport, err)
			}
		}
	}
	return fmt.Errorf("%w: %s: %w", ledger.ErrDeviceDisconnected, t.info.Path, err)
}
