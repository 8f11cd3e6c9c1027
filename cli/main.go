// Command ledger-pubkey reads Solana public keys from a Ledger device.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/urfave/cli.v1"

	ledger "github.com/schjonhaug/ledger-apdu-go"
)

var (
	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	debugFlag = cli.BoolFlag{
		Name:  "debug",
		Usage: "Log APDUs and link packets to stderr",
	}

	transportFlag = cli.StringFlag{
		Name:  "transport",
		Usage: "Device link: hid, speculos, pcsc or replay",
		Value: transportHID,
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Usage: "Maximum time to wait for the device, including user confirmation",
		Value: ledger.DefaultTimeout,
	}
	accountFlag = cli.UintFlag{
		Name:  "account",
		Usage: "BIP32 account to retrieve, expands to m/44'/501'/<account>'",
		Value: 12345,
	}
	pathFlag = cli.StringFlag{
		Name:  "path",
		Usage: "Full derivation path, e.g. m/44'/501'/0'/0' (overrides --account)",
	}
	confirmFlag = cli.BoolFlag{
		Name:  "confirm",
		Usage: "Show the key on the device and wait for approval",
	}
	hidPathFlag = cli.StringFlag{
		Name:  "hid.path",
		Usage: "Platform path of the HID device (first Ledger when empty)",
	}
	speculosAddrFlag = cli.StringFlag{
		Name:  "speculos.addr",
		Usage: "Speculos APDU address",
		Value: "127.0.0.1:9999",
	}
	readerFlag = cli.StringFlag{
		Name:  "pcsc.reader",
		Usage: "PC/SC reader name (first reader with a card when empty)",
	}
	replayFileFlag = cli.StringFlag{
		Name:  "replay.file",
		Usage: "Recorded session to play back",
	}
	recordFlag = cli.StringFlag{
		Name:  "record",
		Usage: "Record the session to this file",
	}
	hexFlag = cli.BoolFlag{
		Name:  "hex",
		Usage: "Print the key as hex instead of base58",
	}

	deviceFlags = []cli.Flag{
		transportFlag,
		timeoutFlag,
		hidPathFlag,
		speculosAddrFlag,
		readerFlag,
		replayFileFlag,
	}
)

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = filepath.Base(os.Args[0])
	app.Usage = "Read Solana public keys from a Ledger"
	app.HideVersion = true
	app.Flags = []cli.Flag{configFileFlag, debugFlag}
	app.Before = func(ctx *cli.Context) error {
		if ctx.GlobalBool(debugFlag.Name) {
			ledger.EnableDebugLogging()
		}
		return nil
	}
	app.CommandNotFound = func(ctx *cli.Context, cmd string) {
		fmt.Fprintf(os.Stderr, "No such command: %s\n", cmd)
		os.Exit(1)
	}
	app.Commands = []cli.Command{
		pubkeyCommand,
		devicesCommand,
		emulatorCommand,
	}
	return app
}

func exit(err error) {
	if err == nil {
		os.Exit(0)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func main() {
	exit(newApp().Run(os.Args))
}
