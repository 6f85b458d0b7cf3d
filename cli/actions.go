package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.viam.com/usbdisk/blockdev"
	"go.viam.com/usbdisk/config"
	"go.viam.com/usbdisk/logging"
	"go.viam.com/usbdisk/mounts"
	"go.viam.com/usbdisk/resolver"
	"go.viam.com/usbdisk/udev"
	"go.viam.com/usbdisk/usb"
)

// runner carries what every command needs once flags and the job file are merged.
type runner struct {
	job      *config.Job
	logger   logging.Logger
	resolver *resolver.Resolver
	ctx      context.Context
}

// newRunner loads the job file, applies flags over it and, when a disk has to be picked, validates
// the result.
func newRunner(c *cli.Context, needSelector, needInput bool) (*runner, error) {
	job := &config.Job{}
	if path := c.String(generalFlagConfig); path != "" {
		fileJob, err := config.Read(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %q", path)
		}
		job = fileJob
	}

	flags := config.Job{
		VendorID:  c.String(selectFlagVendorID),
		ProductID: c.String(selectFlagProductID),
		Device:    c.String(selectFlagDevice),
		Input:     c.Path(writeFlagInput),
		Offset:    c.String(writeFlagOffset),
		SysRoot:   c.String(generalFlagSysRoot),
		ProcRoot:  c.String(generalFlagProcRoot),
		Debug:     c.Bool(generalFlagDebug),
	}
	if raw := c.String(selectFlagID); raw != "" {
		if flags.VendorID != "" || flags.ProductID != "" {
			return nil, errors.Errorf("--%s cannot be combined with --%s/--%s", selectFlagID, selectFlagVendorID, selectFlagProductID)
		}
		id, err := usb.ParseIdentifier(raw)
		if err != nil {
			return nil, err
		}
		flags.VendorID, flags.ProductID = id.Vendor, id.Product
	}
	// a disk picked on the command line replaces whichever way the job file picked one.
	if flags.Device != "" {
		job.VendorID, job.ProductID = "", ""
	}
	if flags.VendorID != "" || flags.ProductID != "" {
		job.Device = ""
	}
	job.Merge(flags)

	if needSelector {
		path := "job"
		if job.ConfigFilePath != "" {
			path = job.ConfigFilePath
		}
		if err := job.Validate(path, needInput); err != nil {
			return nil, err
		}
	}

	logger := logging.NewWriterLogger("usbdisk", c.App.ErrWriter, logging.INFO)
	ctx := c.Context
	if job.Debug {
		logger.SetLevel(logging.DEBUG)
		ctx = logging.EnableDebugMode(ctx)
	}
	logger.Debugw("running job", "job", job)

	return &runner{
		job:      job,
		logger:   logger,
		resolver: resolver.New(udev.Default(job.SysRoot), logger.Sublogger("resolver")),
		ctx:      ctx,
	}, nil
}

func (r *runner) resolve() (*resolver.ResolvedDevice, error) {
	if r.job.Device != "" {
		return r.resolver.ResolveByBlockPath(r.ctx, devicePath(r.job.Device))
	}
	id, err := r.job.Identifier()
	if err != nil {
		return nil, err
	}
	return r.resolver.ResolveByVendorProduct(r.ctx, id.Vendor, id.Product)
}

// devicePath follows links like /dev/disk/by-id/* to the kernel device node.
func devicePath(path string) string {
	if !strings.HasPrefix(path, "/dev/") {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}

// describe renders a device on one line, e.g. "/dev/sdb  0781:5567  SanDisk Cruzer Blade  14.3GiB".
func describe(info resolver.DeviceInfo) string {
	parts := []string{info.DevNode, info.ID().String()}
	if name := displayName(info); name != "" {
		parts = append(parts, name)
	}
	if info.SizeBytes > 0 {
		parts = append(parts, units.BytesSize(float64(info.SizeBytes)))
	}
	return strings.Join(parts, "  ")
}

func displayName(info resolver.DeviceInfo) string {
	return strings.Join(lo.Compact([]string{info.Manufacturer, info.Product}), " ")
}

// deviceTable renders one row per device with columns of device node, usb id, name, serial and
// size.
func deviceTable(infos []resolver.DeviceInfo) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Device", "USB ID", "Name", "Serial", "Size"})
	for i, info := range infos {
		size := ""
		if info.SizeBytes > 0 {
			size = units.BytesSize(float64(info.SizeBytes))
		}
		t.AppendRow(table.Row{
			fmt.Sprintf("%d", i+1),
			info.DevNode,
			info.ID().String(),
			displayName(info),
			info.Serial,
			size,
		})
	}
	return t.Render()
}

// ListAction prints every USB storage device.
func ListAction(c *cli.Context) error {
	r, err := newRunner(c, false, false)
	if err != nil {
		return err
	}
	infos, err := r.resolver.List(r.ctx)
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		infof(c.App.ErrWriter, "no USB storage devices found")
		return nil
	}
	printf(c.App.Writer, "%s", deviceTable(infos))
	return nil
}

// FindAction resolves one device and prints what is known about it.
func FindAction(c *cli.Context) (err error) {
	r, err := newRunner(c, true, false)
	if err != nil {
		return err
	}
	dev, err := r.resolve()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, dev.Close())
	}()

	info := dev.Info()
	if c.Bool(findFlagJSON) {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	printf(c.App.Writer, "device:       %s", info.DevNode)
	printf(c.App.Writer, "usb id:       %s", info.ID())
	if info.Manufacturer != "" {
		printf(c.App.Writer, "manufacturer: %s", info.Manufacturer)
	}
	if info.Product != "" {
		printf(c.App.Writer, "product:      %s", info.Product)
	}
	if info.Serial != "" {
		printf(c.App.Writer, "serial:       %s", info.Serial)
	}
	if info.SizeBytes > 0 {
		printf(c.App.Writer, "size:         %s", units.BytesSize(float64(info.SizeBytes)))
	}
	printf(c.App.Writer, "usb device:   %s", info.USBSyspath)
	return nil
}

// WriteAction writes the input image to the resolved device at the configured offset. It refuses
// to touch a disk with mounted partitions.
func WriteAction(c *cli.Context) (err error) {
	r, err := newRunner(c, true, true)
	if err != nil {
		return err
	}
	offset, err := r.job.OffsetBytes()
	if err != nil {
		return err
	}
	imageInfo, err := os.Stat(r.job.Input)
	if err != nil {
		return errors.Wrap(err, "reading input")
	}

	dev, err := r.resolve()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, dev.Close())
	}()
	info := dev.Info()

	table, err := mounts.Read(r.job.ProcRoot)
	if err != nil {
		return err
	}
	if mounted := table.MountsOf(info.DevNode); len(mounted) > 0 {
		for _, m := range mounted {
			warningf(c.App.ErrWriter, "%s is mounted on %s", m.Source, m.MountPoint)
		}
		return errors.Errorf("%s has mounted filesystems; unmount them and try again", info.DevNode)
	}

	target, err := blockdev.Open(info.DevNode, blockdev.OpenOptions{
		SysRoot:          r.job.SysRoot,
		ProcRoot:         r.job.ProcRoot,
		AllowRegularFile: c.Bool(generalFlagAllowRegularFile),
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, target.Close())
	}()
	if err := target.CheckFits(imageInfo.Size(), offset); err != nil {
		return err
	}

	summary := fmt.Sprintf("%s (%s) to %s at offset %d",
		r.job.Input, units.BytesSize(float64(imageInfo.Size())), describe(info), offset)
	if !c.Bool(writeFlagYes) {
		if err := confirmWrite(c, summary); err != nil {
			return err
		}
	}
	logger := r.logger.WithFields("device", info.DevNode)
	logger.Infow("writing image", "input", r.job.Input, "offset", offset)

	total := units.BytesSize(float64(imageInfo.Size()))
	spinner, err := defaultSpinnerFactory(c.App.ErrWriter, "writing "+info.DevNode)
	if err != nil {
		return err
	}
	written, err := target.WriteFileAt(r.ctx, r.job.Input, offset, func(written int64) {
		spinner.UpdateText(fmt.Sprintf("writing %s: %s / %s", info.DevNode, units.BytesSize(float64(written)), total))
	})
	if err != nil {
		spinner.Fail(fmt.Sprintf("writing %s: %v", info.DevNode, err))
		return err
	}
	spinner.Success(fmt.Sprintf("wrote %s to %s", units.BytesSize(float64(written)), info.DevNode))
	logger.Debugw("image written", "bytes", written)
	printf(c.App.Writer, "wrote %d bytes to %s at offset %d", written, info.DevNode, offset)
	return nil
}

func confirmWrite(c *cli.Context, summary string) error {
	printf(c.App.Writer, "Write %s? Data in that range will be overwritten. (y/N): ", summary)
	if err := c.Err(); err != nil {
		return err
	}

	rawInput, err := bufio.NewReader(c.App.Reader).ReadString('\n')
	if err != nil && rawInput == "" {
		return err
	}

	if input := strings.ToUpper(strings.TrimSpace(rawInput)); input != "Y" {
		return errors.New("aborted")
	}
	return nil
}
