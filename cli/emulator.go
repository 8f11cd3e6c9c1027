package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/urfave/cli.v1"

	ledger "github.com/schjonhaug/ledger-apdu-go"
	"github.com/schjonhaug/ledger-apdu-go/emulator"
)

var (
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "Address to serve the Speculos APDU protocol on",
		Value: "127.0.0.1:9999",
	}
	seedFlag = cli.StringFlag{
		Name:  "seed",
		Usage: "Seed the emulated keys are derived from",
		Value: "ledger-apdu-go emulator",
	}
	denyFlag = cli.BoolFlag{
		Name:  "deny",
		Usage: "Reject every confirmation request",
	}
)

var emulatorCommand = cli.Command{
	Action: serveEmulator,
	Name:   "emulator",
	Usage:  "Serve a software Solana app over the Speculos protocol",
	Flags:  []cli.Flag{listenFlag, seedFlag, denyFlag},
	Description: `
The emulator command answers GET_PUBKEY requests with deterministic keys so
the pubkey command can be tried with --transport speculos and no hardware.
The keys are not the ones a real device holds.`,
}

func serveEmulator(ctx *cli.Context) error {
	approve := emulator.AlwaysApprove
	if ctx.Bool(denyFlag.Name) {
		approve = func(path ledger.DerivationPath) bool {
			fmt.Println("Rejecting", path)
			return false
		}
	}
	device := emulator.New([]byte(ctx.String(seedFlag.Name)), emulator.WithApprover(approve))

	server, err := emulator.Listen(ctx.String(listenFlag.Name), device)
	if err != nil {
		return err
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		server.Close()
	}()

	fmt.Println("Emulator listening on", server.Addr())
	return server.Serve()
}
