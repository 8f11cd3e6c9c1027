package main

import (
	"fmt"

	"gopkg.in/urfave/cli.v1"

	"github.com/schjonhaug/ledger-apdu-go/transport/hid"
	"github.com/schjonhaug/ledger-apdu-go/transport/pcsc"
)

var devicesCommand = cli.Command{
	Action: devices,
	Name:   "devices",
	Usage:  "List attached Ledger devices and smart card readers",
}

func devices(ctx *cli.Context) error {
	cfg, err := makeConfig(ctx)
	if err != nil {
		return err
	}

	infos, err := hid.Enumerate(cfg.HID.VendorID, cfg.HID.ProductID)
	if err != nil {
		fmt.Println("HID:", err)
	} else {
		fmt.Printf("Found %d HID devices:\n", len(infos))
		for i, info := range infos {
			fmt.Printf("[%d] %s %s (%04x:%04x) %s\n", i, info.Manufacturer, info.Product, info.VendorID, info.ProductID, info.Path)
		}
	}

	readers, err := pcsc.Readers()
	if err != nil {
		fmt.Println("PC/SC:", err)
		return nil
	}
	fmt.Printf("Found %d readers:\n", len(readers))
	for i, reader := range readers {
		fmt.Printf("[%d] %s\n", i, reader)
	}
	return nil
}
