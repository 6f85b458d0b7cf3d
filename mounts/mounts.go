// Package mounts reads the mount table of the running process so a disk is never written while
// it, or one of its partitions, is mounted.
package mounts

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"github.com/samber/lo"
)

// DefaultProcRoot is where procfs is normally mounted.
const DefaultProcRoot = procfs.DefaultMountPoint

// Mount is one entry of the mount table.
type Mount struct {
	Source     string
	MountPoint string
	FSType     string
	ReadOnly   bool
}

// Table is a snapshot of the mount table.
type Table []Mount

// Read returns the mount table of the current process from /proc/self/mountinfo under procRoot.
func Read(procRoot string) (Table, error) {
	if procRoot == "" {
		procRoot = DefaultProcRoot
	}
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "opening procfs at %q", procRoot)
	}
	self, err := fs.Self()
	if err != nil {
		return nil, errors.Wrap(err, "finding own process")
	}
	infos, err := self.MountInfo()
	if err != nil {
		return nil, errors.Wrap(err, "reading mountinfo")
	}
	return lo.Map(infos, func(info *procfs.MountInfo, _ int) Mount {
		_, ro := info.Options["ro"]
		return Mount{
			Source:     info.Source,
			MountPoint: info.MountPoint,
			FSType:     info.FSType,
			ReadOnly:   ro,
		}
	}), nil
}

// MountsOf returns the mounts whose source is devnode itself or one of its partitions.
func (t Table) MountsOf(devnode string) []Mount {
	if devnode == "" {
		return nil
	}
	return lo.Filter(t, func(m Mount, _ int) bool {
		return IsPartitionOf(m.Source, devnode)
	})
}

// IsPartitionOf reports whether source is devnode or a partition of it. Partitions are named by
// appending the number, or "p" and the number when the disk name ends in a digit
// (/dev/sdb1, /dev/mmcblk0p1, /dev/nvme0n1p2).
func IsPartitionOf(source, devnode string) bool {
	source = filepath.Clean(source)
	devnode = filepath.Clean(devnode)
	if source == devnode {
		return true
	}
	rest, ok := strings.CutPrefix(source, devnode)
	if !ok || rest == "" {
		return false
	}
	if lastIsDigit(devnode) {
		rest, ok = strings.CutPrefix(rest, "p")
		if !ok {
			return false
		}
	}
	return rest != "" && strings.Trim(rest, "0123456789") == ""
}

func lastIsDigit(s string) bool {
	return s != "" && s[len(s)-1] >= '0' && s[len(s)-1] <= '9'
}
