// Package main is the usbdisk command itself.
package main

import (
	"os"

	"go.viam.com/usbdisk/cli"
)

func main() {
	app := cli.NewApp(os.Stdin, os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		cli.Errorf(app.ErrWriter, "%v", err)
	}
}
