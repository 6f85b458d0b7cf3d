package mounts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.viam.com/usbdisk/testutils"
)

const mountinfo = `22 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw,errors=remount-ro
25 22 0:21 / /proc rw,nosuid,nodev,noexec,relatime shared:12 - proc proc rw
40 22 8:17 / /media/usb rw,nosuid,nodev,relatime shared:30 - vfat /dev/sdb1 rw,fmask=0022
41 22 8:18 / /media/usb2 ro,nosuid,nodev,relatime shared:31 - ext4 /dev/sdb2 ro
42 22 179:1 / /boot rw,relatime shared:32 - vfat /dev/mmcblk0p1 rw
`

func fakeProc(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	testutils.WriteFile(t, filepath.Join(root, "42", "mountinfo"), []byte(content))
	test.That(t, os.Symlink("42", filepath.Join(root, "self")), test.ShouldBeNil)
	return root
}

func TestRead(t *testing.T) {
	table, err := Read(fakeProc(t, mountinfo))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table, test.ShouldHaveLength, 5)
	test.That(t, table[2], test.ShouldResemble, Mount{
		Source:     "/dev/sdb1",
		MountPoint: "/media/usb",
		FSType:     "vfat",
	})
	test.That(t, table[3].ReadOnly, test.ShouldBeTrue)

	sdb := table.MountsOf("/dev/sdb")
	test.That(t, sdb, test.ShouldHaveLength, 2)
	test.That(t, sdb[0].MountPoint, test.ShouldEqual, "/media/usb")
	test.That(t, sdb[1].MountPoint, test.ShouldEqual, "/media/usb2")

	test.That(t, table.MountsOf("/dev/sdc"), test.ShouldBeEmpty)
	test.That(t, table.MountsOf("/dev/sd"), test.ShouldBeEmpty)
	test.That(t, table.MountsOf("/dev/mmcblk0"), test.ShouldHaveLength, 1)
	test.That(t, table.MountsOf(""), test.ShouldBeEmpty)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing"))
	test.That(t, err, test.ShouldNotBeNil)

	noSelf := t.TempDir()
	_, err = Read(noSelf)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "own process")

	_, err = Read(fakeProc(t, strings.Repeat("garbage\n", 2)))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestIsPartitionOf(t *testing.T) {
	for _, tc := range []struct {
		source, devnode string
		want            bool
	}{
		{"/dev/sdb", "/dev/sdb", true},
		{"/dev/sdb1", "/dev/sdb", true},
		{"/dev/sdb12", "/dev/sdb", true},
		{"/dev/sdba", "/dev/sdb", false},
		{"/dev/sdb1a", "/dev/sdb", false},
		{"/dev/mmcblk0p1", "/dev/mmcblk0", true},
		{"/dev/mmcblk01", "/dev/mmcblk0", false},
		{"/dev/mmcblk0p", "/dev/mmcblk0", false},
		{"/dev/nvme0n1p2", "/dev/nvme0n1", true},
		{"tmpfs", "/dev/sdb", false},
	} {
		test.That(t, IsPartitionOf(tc.source, tc.devnode), test.ShouldEqual, tc.want)
	}
}
