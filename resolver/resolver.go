// Package resolver finds USB mass storage devices in the device registry. It walks every SCSI
// device, pairs it with its block child, scsi_disk child and owning USB device, and returns the
// first such triple accepted by a predicate.
package resolver

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/usbdisk/logging"
	"go.viam.com/usbdisk/udev"
)

// A Predicate decides whether a structurally valid candidate is the one being looked for.
type Predicate func(Candidate) bool

// MatchBlockPath matches the candidate whose block device node equals devicePath.
func MatchBlockPath(devicePath string) Predicate {
	return func(c Candidate) bool {
		devnode := c.DevNode()
		return devnode != "" && devnode == devicePath
	}
}

// MatchVendorProduct matches candidates whose USB device has exactly these idVendor and idProduct
// attributes. The comparison is case-sensitive and a missing attribute never matches.
func MatchVendorProduct(idVendor, idProduct string) Predicate {
	return func(c Candidate) bool {
		vendor, ok := c.USBAttribute(udev.AttrIDVendor)
		if !ok {
			return false
		}
		product, ok := c.USBAttribute(udev.AttrIDProduct)
		if !ok {
			return false
		}
		return vendor == idVendor && product == idProduct
	}
}

// Resolver scans a registry for USB storage devices. Each call opens its own session; a Resolver
// holds no state between calls.
type Resolver struct {
	registry udev.Registry
	logger   logging.Logger
}

// New returns a Resolver over registry.
func New(registry udev.Registry, logger logging.Logger) *Resolver {
	return &Resolver{registry: registry, logger: logger}
}

// ResolveByBlockPath returns the USB storage device whose block device node is devicePath.
func (r *Resolver) ResolveByBlockPath(ctx context.Context, devicePath string) (*ResolvedDevice, error) {
	dev, err := r.Resolve(ctx, MatchBlockPath(devicePath))
	if err != nil {
		return nil, errors.Wrapf(err, "block device %q", devicePath)
	}
	return dev, nil
}

// ResolveByVendorProduct returns the first USB storage device whose USB ids are idVendor and
// idProduct.
func (r *Resolver) ResolveByVendorProduct(ctx context.Context, idVendor, idProduct string) (*ResolvedDevice, error) {
	dev, err := r.Resolve(ctx, MatchVendorProduct(idVendor, idProduct))
	if err != nil {
		return nil, errors.Wrapf(err, "usb device %s:%s", idVendor, idProduct)
	}
	return dev, nil
}

// Resolve returns the first structurally valid candidate, in registry order, accepted by match.
// On success the returned device owns the registry session and must be closed. Otherwise the
// session is closed before returning and the error is ErrNotFound, a RegistryUnavailableError, or
// the context's error.
func (r *Resolver) Resolve(ctx context.Context, match Predicate) (*ResolvedDevice, error) {
	session, err := r.registry.Open(ctx)
	if err != nil {
		return nil, NewRegistryUnavailableError(err)
	}

	var resolved *ResolvedDevice
	err = r.scan(ctx, session, func(c *candidate) bool {
		if !match(c.view()) {
			return false
		}
		resolved = newResolvedDevice(session, c.keep())
		return true
	})
	if resolved != nil {
		r.logger.CDebugw(ctx, "resolved usb storage device",
			"devnode", resolved.DevNode(), "vendor_id", resolved.VendorID(), "product_id", resolved.ProductID())
		return resolved, nil
	}
	if err == nil {
		err = ErrNotFound
	}
	return nil, multierr.Combine(err, session.Close())
}

// List returns a snapshot of every structurally valid candidate in registry order. No references
// are held once it returns.
func (r *Resolver) List(ctx context.Context) (infos []DeviceInfo, err error) {
	session, err := r.registry.Open(ctx)
	if err != nil {
		return nil, NewRegistryUnavailableError(err)
	}
	defer func() {
		err = multierr.Combine(err, session.Close())
	}()

	err = r.scan(ctx, session, func(c *candidate) bool {
		infos = append(infos, c.view().Info())
		return false
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// scan enumerates SCSI devices and calls visit with each structurally valid candidate until visit
// returns true. Every reference not kept by visit is released before the next candidate.
func (r *Resolver) scan(ctx context.Context, session udev.Session, visit func(*candidate) bool) error {
	scsiDevs, err := session.Enumerate(ctx, udev.Filter{
		Subsystem:  udev.SubsystemSCSI,
		Properties: map[string]string{udev.PropertyDevtype: udev.DevtypeSCSIDevice},
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return NewRegistryUnavailableError(errors.Wrap(err, "enumerating scsi devices"))
	}
	r.logger.CDebugw(ctx, "enumerated scsi devices", "count", len(scsiDevs))

	for i, scsi := range scsiDevs {
		if err := ctx.Err(); err != nil {
			udev.ReleaseAll(scsiDevs[i:]...)
			return err
		}
		if r.inspect(ctx, session, scsi, visit) {
			udev.ReleaseAll(scsiDevs[i+1:]...)
			return nil
		}
	}
	return nil
}

// inspect takes ownership of scsi, correlates it, and hands it to visit if it is structurally
// valid.
func (r *Resolver) inspect(
	ctx context.Context,
	session udev.Session,
	scsi udev.Device,
	visit func(*candidate) bool,
) bool {
	cand := &candidate{scsi: scsi}
	defer cand.releaseUnlessKept()

	cand.block = r.firstChild(ctx, session, scsi, udev.SubsystemBlock)
	cand.scsiDisk = r.firstChild(ctx, session, scsi, udev.SubsystemSCSIDisk)
	cand.usb = session.Ancestor(scsi, udev.SubsystemUSB, udev.DevtypeUSBDevice)

	if !cand.valid() {
		r.logger.CDebugw(ctx, "skipping scsi device",
			"syspath", scsi.Syspath(),
			"has_block", cand.block != nil,
			"has_scsi_disk", cand.scsiDisk != nil,
			"has_usb", cand.usb != nil)
		return false
	}
	return visit(cand)
}

// firstChild returns the first child of parent in subsystem, or nil. A SCSI device is treated as
// a single LUN: any further children (e.g. partitions under the disk) are released and ignored.
// A failed lookup counts as no child.
func (r *Resolver) firstChild(ctx context.Context, session udev.Session, parent udev.Device, subsystem string) udev.Device {
	children, err := session.Children(ctx, parent, subsystem)
	if err != nil {
		r.logger.CDebugw(ctx, "child lookup failed", "parent", parent.Syspath(), "subsystem", subsystem, "error", err)
		return nil
	}
	if len(children) == 0 {
		return nil
	}
	if len(children) > 1 {
		r.logger.CDebugw(ctx, "ignoring extra children",
			"parent", parent.Syspath(), "subsystem", subsystem, "ignored", len(children)-1)
		udev.ReleaseAll(children[1:]...)
	}
	return children[0]
}
