// Package ledger talks to the Solana app on a Ledger device over APDUs.
//
// The GET_PUBKEY exchange is defined as follows:
//
//	CLA | INS | P1 | P2 | Lc  | Data
//	----+-----+----+----+-----+------------------------------------
//	 E0 | 02  | 00 return key directly
//	            01 show key and wait for approval
//	               | 00 | var | count (1 byte), count × BE u32 | 0x80000000
//
// The reply is the 32 byte ed25519 public key followed by SW1 SW2.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
)

// Client issues Solana app requests over an open Device.
type Client struct {
	device *Device
}

// NewClient returns a client for device. The caller keeps ownership of the
// device and closes it.
func NewClient(device *Device) *Client {
	return &Client{device: device}
}

// GetPublicKey returns the public key at path. With confirm set the device
// displays the key and the call blocks until the user approves or rejects; a
// rejection is returned as a StatusError of kind UserDenied.
func (c *Client) GetPublicKey(ctx context.Context, path DerivationPath, confirm bool) (PublicKey, error) {
	cmd, err := GetPubkeyCommand(path, confirm)
	if err != nil {
		return PublicKey{}, err
	}

	slog.Debug("Request public key", "Path", path.String(), "Confirm", confirm)

	response, err := c.device.Transmit(ctx, cmd)
	if err != nil {
		return PublicKey{}, err
	}

	key, err := DecodePublicKey(response)
	if err != nil {
		return PublicKey{}, fmt.Errorf("get public key %v: %w", path, err)
	}

	slog.Debug("PUBKEY", "Key", fmt.Sprintf("%x", key[:]))

	return key, nil
}

// GetPublicKey opens the device, fetches one key and closes the device again.
func GetPublicKey(ctx context.Context, id string, opener Opener, path DerivationPath, confirm bool, opts ...Option) (PublicKey, error) {
	// Fail on bad input before touching the device.
	if err := path.Validate(); err != nil {
		return PublicKey{}, err
	}

	device, err := Open(ctx, id, opener, opts...)
	if err != nil {
		return PublicKey{}, err
	}
	defer device.Close()

	return NewClient(device).GetPublicKey(ctx, path, confirm)
}

// EnableDebugLogging installs a debug level text handler on stderr as the
// default slog logger.
func EnableDebugLogging() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
}
