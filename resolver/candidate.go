package resolver

import (
	"strconv"

	"go.viam.com/usbdisk/udev"
	"go.viam.com/usbdisk/usb"
)

// sectorSize is the unit of the block "size" attribute, regardless of the disk's logical sector
// size.
const sectorSize = 512

// devices is the block/scsi/usb triple shared by Candidate and ResolvedDevice.
type devices struct {
	block udev.Device
	scsi  udev.Device
	usb   udev.Device
}

func (d devices) usbAttr(key string) string {
	value, _ := d.usb.Attribute(key)
	return value
}

func (d devices) info() DeviceInfo {
	info := DeviceInfo{
		DevNode:      d.block.Devnode(),
		VendorID:     d.usbAttr(udev.AttrIDVendor),
		ProductID:    d.usbAttr(udev.AttrIDProduct),
		Manufacturer: d.usbAttr(udev.AttrManufacturer),
		Product:      d.usbAttr(udev.AttrProduct),
		Serial:       d.usbAttr(udev.AttrSerial),
		BlockSyspath: d.block.Syspath(),
		SCSISyspath:  d.scsi.Syspath(),
		USBSyspath:   d.usb.Syspath(),
	}
	if sectors, ok := d.block.Attribute("size"); ok {
		if n, err := strconv.ParseUint(sectors, 10, 64); err == nil {
			info.SizeBytes = n * sectorSize
		}
	}
	return info
}

// DeviceInfo is a snapshot of a resolved device. It holds no references and stays valid after the
// device is closed.
type DeviceInfo struct {
	DevNode      string `json:"devnode"`
	VendorID     string `json:"vendor_id"`
	ProductID    string `json:"product_id"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty"`
	Serial       string `json:"serial,omitempty"`
	SizeBytes    uint64 `json:"size_bytes,omitempty"`
	BlockSyspath string `json:"block_syspath"`
	SCSISyspath  string `json:"scsi_syspath"`
	USBSyspath   string `json:"usb_syspath"`
}

// ID returns the USB vendor/product pair.
func (info DeviceInfo) ID() usb.Identifier {
	return usb.Identifier{Vendor: info.VendorID, Product: info.ProductID}
}

// Candidate is what a Predicate sees of a structurally valid SCSI device. It only exposes reads;
// the references behind it stay owned by the resolver.
type Candidate struct {
	devs devices
}

// DevNode returns the block device node, e.g. /dev/sdb.
func (c Candidate) DevNode() string {
	return c.devs.block.Devnode()
}

// USBAttribute reads a sysfs attribute of the owning USB device.
func (c Candidate) USBAttribute(key string) (string, bool) {
	return c.devs.usb.Attribute(key)
}

// BlockAttribute reads a sysfs attribute of the block device.
func (c Candidate) BlockAttribute(key string) (string, bool) {
	return c.devs.block.Attribute(key)
}

// Info snapshots the candidate.
func (c Candidate) Info() DeviceInfo {
	return c.devs.info()
}

// candidate holds every reference acquired while one SCSI device is inspected. The inspecting
// function defers releaseUnlessKept, so all exit paths drop whatever was not handed off by keep.
type candidate struct {
	scsi     udev.Device
	block    udev.Device
	scsiDisk udev.Device
	usb      udev.Device
	kept     bool
}

// valid reports whether the block child, scsi_disk child and usb ancestor were all found.
func (c *candidate) valid() bool {
	return c.block != nil && c.scsiDisk != nil && c.usb != nil
}

func (c *candidate) view() Candidate {
	return Candidate{devs: devices{block: c.block, scsi: c.scsi, usb: c.usb}}
}

// keep hands the block, scsi and usb references to the caller. The scsi_disk reference only
// proves the device is a disk and is released here.
func (c *candidate) keep() devices {
	c.kept = true
	udev.ReleaseAll(c.scsiDisk)
	c.scsiDisk = nil
	return devices{block: c.block, scsi: c.scsi, usb: c.usb}
}

func (c *candidate) releaseUnlessKept() {
	if c.kept {
		return
	}
	udev.ReleaseAll(c.block, c.scsiDisk, c.usb, c.scsi)
}
