package resolver

import (
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/usbdisk/udev"
)

// errClosed is returned by live reads on a closed device.
var errClosed = errors.New("resolved device is closed")

// ResolvedDevice is a USB storage device found by a Resolver. It owns the registry session it was
// found in together with the block, SCSI and USB references, and Close releases all of them. The
// identifying fields are snapshotted at resolution and remain readable after Close.
type ResolvedDevice struct {
	info DeviceInfo

	mu      sync.Mutex
	session udev.Session
	devs    devices
	closed  bool
}

func newResolvedDevice(session udev.Session, devs devices) *ResolvedDevice {
	return &ResolvedDevice{
		info:    devs.info(),
		session: session,
		devs:    devs,
	}
}

// Info returns the snapshot taken at resolution.
func (d *ResolvedDevice) Info() DeviceInfo {
	return d.info
}

// DevNode returns the block device node, e.g. /dev/sdb.
func (d *ResolvedDevice) DevNode() string {
	return d.info.DevNode
}

// VendorID returns the USB idVendor attribute.
func (d *ResolvedDevice) VendorID() string {
	return d.info.VendorID
}

// ProductID returns the USB idProduct attribute.
func (d *ResolvedDevice) ProductID() string {
	return d.info.ProductID
}

// Manufacturer returns the USB manufacturer string, if any.
func (d *ResolvedDevice) Manufacturer() string {
	return d.info.Manufacturer
}

// Product returns the USB product string, if any.
func (d *ResolvedDevice) Product() string {
	return d.info.Product
}

// Serial returns the USB serial number, if any.
func (d *ResolvedDevice) Serial() string {
	return d.info.Serial
}

// BlockSyspath returns the sysfs path of the block device.
func (d *ResolvedDevice) BlockSyspath() string {
	return d.info.BlockSyspath
}

// SCSISyspath returns the sysfs path of the SCSI device.
func (d *ResolvedDevice) SCSISyspath() string {
	return d.info.SCSISyspath
}

// USBSyspath returns the sysfs path of the USB device.
func (d *ResolvedDevice) USBSyspath() string {
	return d.info.USBSyspath
}

// USBAttribute reads a sysfs attribute of the USB device now rather than from the snapshot.
func (d *ResolvedDevice) USBAttribute(key string) (string, error) {
	return d.attribute(key, func(devs devices) udev.Device { return devs.usb })
}

// BlockAttribute reads a sysfs attribute of the block device now rather than from the snapshot.
func (d *ResolvedDevice) BlockAttribute(key string) (string, error) {
	return d.attribute(key, func(devs devices) udev.Device { return devs.block })
}

func (d *ResolvedDevice) attribute(key string, pick func(devices) udev.Device) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return "", errClosed
	}
	dev := pick(d.devs)
	value, ok := dev.Attribute(key)
	if !ok {
		return "", errors.Errorf("%s has no attribute %q", dev.Syspath(), key)
	}
	return value, nil
}

// Close releases the device references and then the session. Calling it again is a no-op.
func (d *ResolvedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	udev.ReleaseAll(d.devs.block, d.devs.scsi, d.devs.usb)
	d.devs = devices{}
	err := d.session.Close()
	d.session = nil
	return errors.Wrap(err, "closing device registry session")
}
