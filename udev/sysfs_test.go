package udev_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/usbdisk/testutils"
	"go.viam.com/usbdisk/udev"
)

func openTree(t *testing.T, tree *testutils.SysfsTree) (udev.Session, string) {
	t.Helper()
	session, err := udev.NewSysfsRegistry(tree.Root).Open(context.Background())
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, session.Close(), test.ShouldBeNil) })
	root, err := filepath.EvalSymlinks(tree.Root)
	test.That(t, err, test.ShouldBeNil)
	return session, root
}

func TestSysfsOpen(t *testing.T) {
	_, err := udev.NewSysfsRegistry(filepath.Join(t.TempDir(), "missing")).Open(context.Background())
	test.That(t, err, test.ShouldNotBeNil)

	_, err = udev.NewSysfsRegistry(t.TempDir()).Open(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not a sysfs mount")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = udev.NewSysfsRegistry(testutils.NewSysfsTree(t).Root).Open(ctx)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestSysfsEnumerate(t *testing.T) {
	tree := testutils.NewSysfsTree(t)
	tree.AddUSBDisk(testutils.USBDisk{Host: 2, Block: "sdc", Sectors: 100, VendorID: "090c", ProductID: "1000"})
	tree.AddUSBDisk(testutils.USBDisk{Host: 1, Block: "sdb", Sectors: 200, VendorID: "0781", ProductID: "5567"})
	session, root := openTree(t, tree)
	ctx := context.Background()

	scsiDevs, err := session.Enumerate(ctx, udev.Filter{
		Subsystem:  udev.SubsystemSCSI,
		Properties: map[string]string{udev.PropertyDevtype: udev.DevtypeSCSIDevice},
	})
	test.That(t, err, test.ShouldBeNil)
	defer udev.ReleaseAll(scsiDevs...)
	test.That(t, scsiDevs, test.ShouldHaveLength, 2)

	usbBase := filepath.Join(root, "devices/pci0000:00/0000:00:14.0/usb2")
	test.That(t, scsiDevs[0].Syspath(), test.ShouldEqual,
		filepath.Join(usbBase, "2-1/2-1:1.0/host1/target1:0:0/1:0:0:0"))
	test.That(t, scsiDevs[1].Syspath(), test.ShouldEqual,
		filepath.Join(usbBase, "2-2/2-2:1.0/host2/target2:0:0/2:0:0:0"))
	test.That(t, scsiDevs[0].Subsystem(), test.ShouldEqual, udev.SubsystemSCSI)
	test.That(t, scsiDevs[0].Devtype(), test.ShouldEqual, udev.DevtypeSCSIDevice)
	model, ok := scsiDevs[0].Attribute("model")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, model, test.ShouldEqual, "Flash Disk")

	hosts, err := session.Enumerate(ctx, udev.Filter{
		Subsystem:  udev.SubsystemSCSI,
		Properties: map[string]string{udev.PropertyDevtype: "scsi_host"},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hosts, test.ShouldHaveLength, 2)
	udev.ReleaseAll(hosts...)

	none, err := session.Enumerate(ctx, udev.Filter{Subsystem: "nvme"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, none, test.ShouldBeEmpty)

	all, err := session.Enumerate(ctx, udev.Filter{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(all), test.ShouldBeGreaterThan, 10)
	udev.ReleaseAll(all...)
}

func TestSysfsChildrenAndAncestor(t *testing.T) {
	tree := testutils.NewSysfsTree(t)
	scsiPath := tree.AddUSBDisk(testutils.USBDisk{
		Host:         1,
		Block:        "sdb",
		Partitions:   []string{"sdb1", "sdb2"},
		Sectors:      4096,
		VendorID:     "0781",
		ProductID:    "5567",
		Manufacturer: "SanDisk",
		Serial:       "4C530001",
	})
	session, root := openTree(t, tree)
	ctx := context.Background()

	scsiDevs, err := session.Enumerate(ctx, udev.Filter{
		Subsystem:  udev.SubsystemSCSI,
		Properties: map[string]string{udev.PropertyDevtype: udev.DevtypeSCSIDevice},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scsiDevs, test.ShouldHaveLength, 1)
	scsi := scsiDevs[0]
	defer scsi.Release()
	realSCSIPath, err := filepath.EvalSymlinks(scsiPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scsi.Syspath(), test.ShouldEqual, realSCSIPath)

	blocks, err := session.Children(ctx, scsi, udev.SubsystemBlock)
	test.That(t, err, test.ShouldBeNil)
	defer udev.ReleaseAll(blocks...)
	test.That(t, blocks, test.ShouldHaveLength, 3)
	test.That(t, blocks[0].Devnode(), test.ShouldEqual, "/dev/sdb")
	test.That(t, blocks[0].Devtype(), test.ShouldEqual, udev.DevtypeDisk)
	test.That(t, blocks[1].Devnode(), test.ShouldEqual, "/dev/sdb1")
	test.That(t, blocks[1].Devtype(), test.ShouldEqual, udev.DevtypePartition)
	size, ok := blocks[0].Attribute("size")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, size, test.ShouldEqual, "4096")
	major, ok := blocks[0].Property("MAJOR")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, major, test.ShouldEqual, "8")

	disks, err := session.Children(ctx, scsi, udev.SubsystemSCSIDisk)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, disks, test.ShouldHaveLength, 1)
	test.That(t, disks[0].Devnode(), test.ShouldEqual, "")
	udev.ReleaseAll(disks...)

	usbDev := session.Ancestor(scsi, udev.SubsystemUSB, udev.DevtypeUSBDevice)
	test.That(t, usbDev, test.ShouldNotBeNil)
	defer usbDev.Release()
	test.That(t, usbDev.Syspath(), test.ShouldEqual, filepath.Join(root, "devices/pci0000:00/0000:00:14.0/usb2/2-1"))
	for key, want := range map[string]string{
		udev.AttrIDVendor:     "0781",
		udev.AttrIDProduct:    "5567",
		udev.AttrManufacturer: "SanDisk",
		udev.AttrSerial:       "4C530001",
	} {
		got, ok := usbDev.Attribute(key)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got, test.ShouldEqual, want)
	}
	_, ok = usbDev.Attribute(udev.AttrProduct)
	test.That(t, ok, test.ShouldBeFalse)
	// directories and symlinks are not attributes.
	_, ok = usbDev.Attribute("subsystem")
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = usbDev.Attribute("../uevent")
	test.That(t, ok, test.ShouldBeFalse)

	iface := session.Ancestor(scsi, udev.SubsystemUSB, "")
	test.That(t, iface, test.ShouldNotBeNil)
	test.That(t, iface.Devtype(), test.ShouldEqual, "usb_interface")
	iface.Release()

	test.That(t, session.Ancestor(scsi, "pci", "nope"), test.ShouldBeNil)
}

func TestSysfsNoUSBAncestor(t *testing.T) {
	tree := testutils.NewSysfsTree(t)
	tree.AddUSBDisk(testutils.USBDisk{Host: 0, Block: "sda", NoUSB: true})
	session, _ := openTree(t, tree)

	scsiDevs, err := session.Enumerate(context.Background(), udev.Filter{
		Subsystem:  udev.SubsystemSCSI,
		Properties: map[string]string{udev.PropertyDevtype: udev.DevtypeSCSIDevice},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scsiDevs, test.ShouldHaveLength, 1)
	defer udev.ReleaseAll(scsiDevs...)
	test.That(t, session.Ancestor(scsiDevs[0], udev.SubsystemUSB, udev.DevtypeUSBDevice), test.ShouldBeNil)
}

func TestSysfsRelease(t *testing.T) {
	tree := testutils.NewSysfsTree(t)
	tree.AddUSBDisk(testutils.USBDisk{Host: 1, Block: "sdb", VendorID: "0781", ProductID: "5567"})
	session, _ := openTree(t, tree)
	ctx := context.Background()

	scsiDevs, err := session.Enumerate(ctx, udev.Filter{Subsystem: udev.SubsystemSCSI})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(scsiDevs), test.ShouldBeGreaterThan, 0)
	dev := scsiDevs[len(scsiDevs)-1]
	udev.ReleaseAll(scsiDevs...)

	test.That(t, dev.Syspath(), test.ShouldEqual, "")
	_, ok := dev.Attribute("model")
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, session.Ancestor(dev, udev.SubsystemUSB, udev.DevtypeUSBDevice), test.ShouldBeNil)
	_, err = session.Children(ctx, dev, udev.SubsystemBlock)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSysfsClosedSession(t *testing.T) {
	tree := testutils.NewSysfsTree(t)
	session, err := udev.NewSysfsRegistry(tree.Root).Open(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, session.Close(), test.ShouldBeNil)
	_, err = session.Enumerate(context.Background(), udev.Filter{Subsystem: udev.SubsystemSCSI})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSysfsAbsoluteDevname(t *testing.T) {
	tree := testutils.NewSysfsTree(t)
	image := filepath.Join(t.TempDir(), "disk.img")
	test.That(t, os.WriteFile(image, nil, 0o600), test.ShouldBeNil)
	tree.AddUSBDisk(testutils.USBDisk{Host: 1, Block: "sdb", DevName: image, VendorID: "0781", ProductID: "5567"})
	session, _ := openTree(t, tree)

	blocks, err := session.Enumerate(context.Background(), udev.Filter{Subsystem: udev.SubsystemBlock})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, blocks, test.ShouldHaveLength, 1)
	test.That(t, blocks[0].Devnode(), test.ShouldEqual, image)
	udev.ReleaseAll(blocks...)
}

func TestDefault(t *testing.T) {
	tree := testutils.NewSysfsTree(t)
	reg := udev.Default(tree.Root)
	session, err := reg.Open(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, session.Close(), test.ShouldBeNil)
}
