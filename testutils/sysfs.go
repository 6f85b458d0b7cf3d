package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"go.viam.com/test"
)

// classSubsystems live under /sys/class; everything else is a bus under /sys/bus.
var classSubsystems = map[string]bool{
	"block":     true,
	"scsi_disk": true,
	"tty":       true,
}

// SysfsTree is a fake sysfs hierarchy rooted in a temp directory.
type SysfsTree struct {
	Root string
	tb   testing.TB
}

// NewSysfsTree creates an empty sysfs tree with a devices directory.
func NewSysfsTree(tb testing.TB) *SysfsTree {
	tb.Helper()
	root := tb.TempDir()
	test.That(tb, os.MkdirAll(filepath.Join(root, "devices"), 0o755), test.ShouldBeNil)
	return &SysfsTree{Root: root, tb: tb}
}

// AddDevice creates (or updates) the device directory devices/<devpath> with the given uevent
// properties and attribute files, links it into its subsystem, and returns its path. An empty
// subsystem creates a plain directory with a uevent file.
func (tree *SysfsTree) AddDevice(devpath, subsystem string, uevent, attrs map[string]string) string {
	tree.tb.Helper()
	dir := filepath.Join(tree.Root, "devices", devpath)
	test.That(tree.tb, os.MkdirAll(dir, 0o755), test.ShouldBeNil)

	keys := make([]string, 0, len(uevent))
	for key := range uevent {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&sb, "%s=%s\n", key, uevent[key])
	}
	WriteFile(tree.tb, filepath.Join(dir, "uevent"), []byte(sb.String()))

	for key, value := range attrs {
		WriteFile(tree.tb, filepath.Join(dir, key), []byte(value+"\n"))
	}

	if subsystem == "" {
		return dir
	}
	var subsystemDir, memberDir string
	if classSubsystems[subsystem] {
		subsystemDir = filepath.Join(tree.Root, "class", subsystem)
		memberDir = subsystemDir
	} else {
		subsystemDir = filepath.Join(tree.Root, "bus", subsystem)
		memberDir = filepath.Join(subsystemDir, "devices")
	}
	test.That(tree.tb, os.MkdirAll(memberDir, 0o755), test.ShouldBeNil)
	Symlink(tree.tb, subsystemDir, filepath.Join(dir, "subsystem"))
	Symlink(tree.tb, dir, filepath.Join(memberDir, filepath.Base(dir)))
	return dir
}

// USBDisk describes one SCSI disk for AddUSBDisk. Zero values omit the corresponding piece so
// tests can build structurally incomplete devices.
type USBDisk struct {
	// Host is the SCSI host number; it keeps paths unique.
	Host int
	// Block is the kernel name of the disk, e.g. "sdb". Empty omits the block child.
	Block string
	// DevName overrides the DEVNAME uevent value of the disk.
	DevName    string
	Partitions []string
	// Sectors is written to the disk's size attribute.
	Sectors uint64

	NoSCSIDisk bool
	NoUSB      bool

	// VendorID and ProductID become idVendor/idProduct; empty omits the attribute.
	VendorID     string
	ProductID    string
	Manufacturer string
	Product      string
	Serial       string
}

// AddUSBDisk builds the scsi host/target/device chain for disk, its block and scsi_disk children,
// and, unless NoUSB is set, the USB device and interface above it. It returns the syspath of the
// SCSI device.
func (tree *SysfsTree) AddUSBDisk(disk USBDisk) string {
	tree.tb.Helper()
	h := disk.Host
	var base string
	if disk.NoUSB {
		base = fmt.Sprintf("pci0000:00/0000:00:17.0/ata%d", h)
		tree.AddDevice("pci0000:00/0000:00:17.0", "pci", nil, nil)
	} else {
		tree.AddDevice("pci0000:00/0000:00:14.0", "pci", nil, nil)
		tree.AddDevice("pci0000:00/0000:00:14.0/usb2", "usb",
			map[string]string{"DEVTYPE": "usb_device", "DEVNAME": "bus/usb/002/001"},
			map[string]string{"idVendor": "1d6b", "idProduct": "0003"})

		usbPath := fmt.Sprintf("pci0000:00/0000:00:14.0/usb2/2-%d", h)
		attrs := map[string]string{}
		for key, value := range map[string]string{
			"idVendor":     disk.VendorID,
			"idProduct":    disk.ProductID,
			"manufacturer": disk.Manufacturer,
			"product":      disk.Product,
			"serial":       disk.Serial,
		} {
			if value != "" {
				attrs[key] = value
			}
		}
		tree.AddDevice(usbPath, "usb",
			map[string]string{"DEVTYPE": "usb_device", "DEVNAME": fmt.Sprintf("bus/usb/002/%03d", h+1)},
			attrs)
		base = fmt.Sprintf("%s/2-%d:1.0", usbPath, h)
		tree.AddDevice(base, "usb", map[string]string{"DEVTYPE": "usb_interface"}, nil)
	}

	hostPath := fmt.Sprintf("%s/host%d", base, h)
	tree.AddDevice(hostPath, "scsi", map[string]string{"DEVTYPE": "scsi_host"}, nil)
	targetPath := fmt.Sprintf("%s/target%d:0:0", hostPath, h)
	tree.AddDevice(targetPath, "scsi", map[string]string{"DEVTYPE": "scsi_target"}, nil)
	lun := fmt.Sprintf("%d:0:0:0", h)
	scsiPath := fmt.Sprintf("%s/%s", targetPath, lun)
	scsiDir := tree.AddDevice(scsiPath, "scsi", map[string]string{"DEVTYPE": "scsi_device"},
		map[string]string{"vendor": "Generic", "model": "Flash Disk"})

	if !disk.NoSCSIDisk {
		tree.AddDevice(fmt.Sprintf("%s/scsi_disk/%s", scsiPath, lun), "scsi_disk", nil, nil)
	}

	if disk.Block != "" {
		devName := disk.DevName
		if devName == "" {
			devName = disk.Block
		}
		blockPath := fmt.Sprintf("%s/block/%s", scsiPath, disk.Block)
		blockDir := tree.AddDevice(blockPath, "block",
			map[string]string{"DEVTYPE": "disk", "DEVNAME": devName, "MAJOR": "8", "MINOR": fmt.Sprint(16 * h)},
			map[string]string{"size": fmt.Sprint(disk.Sectors), "removable": "1"})
		Symlink(tree.tb, blockDir, filepath.Join(tree.Root, "block", disk.Block))
		for i, part := range disk.Partitions {
			tree.AddDevice(fmt.Sprintf("%s/%s", blockPath, part), "block",
				map[string]string{"DEVTYPE": "partition", "DEVNAME": part, "PARTN": fmt.Sprint(i + 1)},
				nil)
		}
	}
	return scsiDir
}
