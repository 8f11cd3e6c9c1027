package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"gopkg.in/urfave/cli.v1"

	ledger "github.com/schjonhaug/ledger-apdu-go"
	"github.com/schjonhaug/ledger-apdu-go/transport/replay"
)

var pubkeyCommand = cli.Command{
	Action: pubkey,
	Name:   "pubkey",
	Usage:  "Retrieve a public key from the device",
	Flags: append([]cli.Flag{
		accountFlag,
		pathFlag,
		confirmFlag,
		recordFlag,
		hexFlag,
	}, deviceFlags...),
	Description: `
The pubkey command asks the Solana app for the public key at a hardened
derivation path and prints it base58 encoded. Without --path the key of
m/44'/501'/<account>' is returned.`,
}

func pubkey(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}
	path, err := cfg.derivationPath()
	if err != nil {
		return err
	}
	timeout, err := cfg.timeout()
	if err != nil {
		return err
	}
	id, opener, err := cfg.opener()
	if err != nil {
		return err
	}

	var recorder *replay.Recorder
	if file := ctx.String(recordFlag.Name); file != "" {
		opener = replay.RecordingOpener(id, opener, func(r *replay.Recorder) { recorder = r })
		defer func() {
			if recorder == nil {
				return
			}
			if err := recorder.WriteFile(file); err != nil {
				fmt.Println("could not write recording:", err)
			}
		}()
	}

	if cfg.Confirm {
		fmt.Println("Please confirm on your Ledger...")
	}

	key, err := ledger.GetPublicKey(context.Background(), id, opener, path, cfg.Confirm, ledger.WithTimeout(timeout))
	if err != nil {
		return describe(err)
	}

	if ctx.Bool(hexFlag.Name) {
		fmt.Println(key.String())
		return nil
	}
	fmt.Println("Pubkey received: " + base58.Encode(key[:]))
	return nil
}

// describe turns the errors a user can act on into hints.
func describe(err error) error {
	status, isStatus := ledger.IsStatus(err)
	switch {
	case ledger.IsUserDenied(err):
		return errors.New("request rejected on the device")
	case isStatus && status.Kind == ledger.DeviceLocked:
		return errors.New("device is locked, unlock it and retry")
	case isStatus && (status.Kind == ledger.ClassNotSupported || status.Kind == ledger.InstructionNotSupported):
		return fmt.Errorf("open the Solana app on the device and retry (%w)", err)
	case errors.Is(err, ledger.ErrDeviceNotFound):
		return fmt.Errorf("no Ledger found, make sure it is connected and unlocked (%w)", err)
	case errors.Is(err, ledger.ErrTimeout):
		return fmt.Errorf("the device did not answer in time (%w)", err)
	default:
		return err
	}
}
