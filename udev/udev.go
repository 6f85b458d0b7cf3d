// Package udev models the system device registry that usbdisk walks: sessions, enumeration
// filters, and reference counted device handles.
//
// Two registries are provided. The sysfs registry reads /sys directly and works everywhere. The
// libudev registry goes through libudev and needs its headers at build time, so it is only built on
// linux with cgo enabled and the libudev build tag:
//
//	go build -tags libudev ./...
//
// Default picks the best one available.
package udev

import (
	"context"
)

// Well known subsystems, device types and keys.
const (
	SubsystemSCSI     = "scsi"
	SubsystemSCSIDisk = "scsi_disk"
	SubsystemBlock    = "block"
	SubsystemUSB      = "usb"

	DevtypeSCSIDevice = "scsi_device"
	DevtypeUSBDevice  = "usb_device"
	DevtypeDisk       = "disk"
	DevtypePartition  = "partition"

	PropertyDevtype = "DEVTYPE"
	PropertyDevname = "DEVNAME"

	AttrIDVendor     = "idVendor"
	AttrIDProduct    = "idProduct"
	AttrManufacturer = "manufacturer"
	AttrProduct      = "product"
	AttrSerial       = "serial"
)

// DefaultSysRoot is where sysfs is normally mounted.
const DefaultSysRoot = "/sys"

// Device is a reference to one node of the device graph. A device obtained from a Session must be
// released exactly once.
type Device interface {
	Syspath() string
	Subsystem() string
	Devtype() string
	// Devnode returns the /dev path, or "" when the device has none.
	Devnode() string
	// Attribute returns a sysfs attribute value and whether it was present.
	Attribute(key string) (string, bool)
	// Property returns a udev property value and whether it was present.
	Property(key string) (string, bool)
	// Release drops this reference.
	Release()
}

// Filter restricts an enumeration.
type Filter struct {
	Subsystem string
	// Properties must all match exactly.
	Properties map[string]string
	// Parent restricts results to descendants of this device.
	Parent Device
}

// A Session is an open connection to the registry. Devices returned by a session are only valid
// until they are released or the session is closed.
type Session interface {
	// Enumerate returns matching devices in registry order. The caller owns every returned device.
	Enumerate(ctx context.Context, filter Filter) ([]Device, error)
	// Children returns the descendants of parent in the given subsystem.
	Children(ctx context.Context, parent Device, subsystem string) ([]Device, error)
	// Ancestor returns the nearest ancestor of dev with the given subsystem and devtype, or nil.
	Ancestor(dev Device, subsystem, devtype string) Device
	Close() error
}

// Registry opens sessions.
type Registry interface {
	Open(ctx context.Context) (Session, error)
}

// ReleaseAll releases every non-nil device in devs.
func ReleaseAll(devs ...Device) {
	for _, dev := range devs {
		if dev != nil {
			dev.Release()
		}
	}
}

// Default returns the libudev registry when it is compiled in, and the sysfs registry rooted at
// sysRoot otherwise. An explicit non-default sysRoot always selects the sysfs registry since
// libudev cannot be pointed elsewhere.
func Default(sysRoot string) Registry {
	if sysRoot == "" {
		sysRoot = DefaultSysRoot
	}
	if sysRoot == DefaultSysRoot && libudevAvailable {
		return NewLibudevRegistry()
	}
	return NewSysfsRegistry(sysRoot)
}
