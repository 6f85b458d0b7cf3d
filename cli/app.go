// Package cli contains the usbdisk command line app.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

const (
	// Flags.
	generalFlagDebug            = "debug"
	generalFlagConfig           = "config"
	generalFlagSysRoot          = "sys-root"
	generalFlagProcRoot         = "proc-root"
	generalFlagAllowRegularFile = "allow-regular-file"

	selectFlagVendorID  = "vendor-id"
	selectFlagProductID = "product-id"
	selectFlagID        = "id"
	selectFlagDevice    = "device"

	findFlagJSON = "json"

	writeFlagInput  = "input"
	writeFlagOffset = "offset"
	writeFlagYes    = "yes"
)

func selectFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  selectFlagVendorID,
			Usage: "USB vendor `ID` in hex, as shown by lsusb",
		},
		&cli.StringFlag{
			Name:  selectFlagProductID,
			Usage: "USB product `ID` in hex, as shown by lsusb",
		},
		&cli.StringFlag{
			Name:  selectFlagID,
			Usage: "USB vendor and product as `VENDOR:PRODUCT`",
		},
		&cli.StringFlag{
			Name:    selectFlagDevice,
			Aliases: []string{"d"},
			Usage:   "block device `PATH`, e.g. /dev/sdb",
		},
	}
}

// NewApp returns a new app with the CLI API, Reader set to in, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(in io.Reader, out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "usbdisk",
		Usage:           "find USB storage devices and write images to them",
		HideHelpCommand: true,
		Reader:          in,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    generalFlagConfig,
				Aliases: []string{"c"},
				Usage:   "load job from `FILE`",
			},
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  generalFlagSysRoot,
				Usage: "read the device graph from sysfs mounted at `DIR` instead of libudev",
			},
			&cli.StringFlag{
				Name:  generalFlagProcRoot,
				Usage: "read the mount table from procfs mounted at `DIR`",
			},
			&cli.BoolFlag{
				Name:   generalFlagAllowRegularFile,
				Hidden: true,
				Usage:  "allow the resolved device node to be a regular file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "list USB storage devices",
				Action: ListAction,
			},
			{
				Name:      "find",
				Usage:     "find one USB storage device by USB id or block device path",
				UsageText: "usbdisk find (--id VENDOR:PRODUCT | --vendor-id V --product-id P | --device PATH) [--json]",
				Flags: append([]cli.Flag{
					&cli.BoolFlag{
						Name:  findFlagJSON,
						Usage: "print the device as JSON",
					},
				}, selectFlags()...),
				Action: FindAction,
			},
			{
				Name:      "write",
				Usage:     "write an image to a USB storage device at a byte offset",
				UsageText: "usbdisk write (--id VENDOR:PRODUCT | --vendor-id V --product-id P | --device PATH) --input FILE",
				Flags: append([]cli.Flag{
					&cli.PathFlag{
						Name:    writeFlagInput,
						Aliases: []string{"i"},
						Usage:   "image `FILE` to write",
					},
					&cli.StringFlag{
						Name:  writeFlagOffset,
						Usage: "byte `OFFSET` on the disk, units like KiB allowed (default 128KiB)",
					},
					&cli.BoolFlag{
						Name:    writeFlagYes,
						Aliases: []string{"y"},
						Usage:   "do not ask for confirmation",
					},
				}, selectFlags()...),
				Action: WriteAction,
			},
		},
	}
}
