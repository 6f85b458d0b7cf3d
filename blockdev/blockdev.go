// Package blockdev writes disk images to block devices at a byte offset.
package blockdev

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"github.com/prometheus/procfs/blockdevice"
	goutils "go.viam.com/utils"
	"golang.org/x/sys/unix"

	"go.viam.com/usbdisk/udev"
)

// chunkSize is how much is written between progress reports and cancellation checks.
const chunkSize = 1 << 20

// OpenOptions controls Open.
type OpenOptions struct {
	// SysRoot and ProcRoot locate sysfs and procfs for the capacity lookup.
	SysRoot  string
	ProcRoot string
	// AllowRegularFile lets a plain file stand in for the device. Its capacity is unbounded.
	AllowRegularFile bool
}

// ProgressFunc is called after every chunk with the bytes written so far.
type ProgressFunc func(written int64)

// Target is a device opened for writing.
type Target struct {
	path     string
	file     *os.File
	capacity uint64
}

// Open checks that path is a block device (or, if allowed, a regular file) and opens it write
// only. Symlinks such as /dev/disk/by-id entries are followed.
func Open(path string, opts OpenOptions) (*Target, error) {
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %q", path)
	}
	var st unix.Stat_t
	if err := unix.Stat(realPath, &st); err != nil {
		return nil, errors.Wrapf(err, "stat %q", realPath)
	}

	var capacity uint64
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		capacity, err = deviceCapacity(opts.ProcRoot, opts.SysRoot, filepath.Base(realPath))
		if err != nil {
			return nil, err
		}
	case unix.S_IFREG:
		if !opts.AllowRegularFile {
			return nil, errors.Errorf("%q is a regular file, not a block device", path)
		}
	default:
		return nil, errors.Errorf("%q is not a block device", path)
	}

	//nolint:gosec
	file, err := os.OpenFile(realPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q for writing", realPath)
	}
	return &Target{path: realPath, file: file, capacity: capacity}, nil
}

// deviceCapacity reads /sys/block/<name>/size.
func deviceCapacity(procRoot, sysRoot, name string) (uint64, error) {
	if procRoot == "" {
		procRoot = procfs.DefaultMountPoint
	}
	if sysRoot == "" {
		sysRoot = udev.DefaultSysRoot
	}
	fs, err := blockdevice.NewFS(procRoot, sysRoot)
	if err != nil {
		return 0, errors.Wrap(err, "opening sysfs")
	}
	size, err := fs.SysBlockDeviceSize(name)
	if err != nil {
		return 0, errors.Wrapf(err, "reading size of %s", name)
	}
	return size, nil
}

// Path returns the resolved path of the target.
func (t *Target) Path() string {
	return t.path
}

// Capacity returns the device size in bytes, or 0 when unbounded.
func (t *Target) Capacity() uint64 {
	return t.capacity
}

// CheckFits returns an error if length bytes at offset would run past the end of the device.
func (t *Target) CheckFits(length, offset int64) error {
	if offset < 0 {
		return errors.Errorf("negative offset %d", offset)
	}
	if length < 0 {
		return errors.Errorf("negative length %d", length)
	}
	if t.capacity == 0 {
		return nil
	}
	if uint64(offset)+uint64(length) > t.capacity {
		return errors.Errorf("%s at offset %s does not fit on %s (%s)",
			units.BytesSize(float64(length)), units.BytesSize(float64(offset)),
			t.path, units.BytesSize(float64(t.capacity)))
	}
	return nil
}

// WriteImage copies length bytes from r to the device starting at offset and syncs. It returns
// the number of bytes written, which is short only on error.
func (t *Target) WriteImage(ctx context.Context, r io.Reader, length, offset int64, progress ProgressFunc) (int64, error) {
	if err := t.CheckFits(length, offset); err != nil {
		return 0, err
	}
	buf := make([]byte, chunkSize)
	var written int64
	for written < length {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		want := int64(len(buf))
		if remaining := length - written; remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(r, buf[:want])
		if n > 0 {
			if _, werr := t.file.WriteAt(buf[:n], offset+written); werr != nil {
				return written, errors.Wrapf(werr, "writing %s at %d", t.path, offset+written)
			}
			written += int64(n)
			if progress != nil {
				progress(written)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return written, errors.Errorf("image ended after %d of %d bytes", written, length)
			}
			return written, errors.Wrap(err, "reading image")
		}
	}
	if err := t.file.Sync(); err != nil {
		return written, errors.Wrapf(err, "syncing %s", t.path)
	}
	return written, nil
}

// WriteFileAt writes the whole file at imagePath to the device at offset.
func (t *Target) WriteFileAt(ctx context.Context, imagePath string, offset int64, progress ProgressFunc) (int64, error) {
	//nolint:gosec
	image, err := os.Open(imagePath)
	if err != nil {
		return 0, errors.Wrap(err, "opening image")
	}
	defer goutils.UncheckedErrorFunc(image.Close)

	info, err := image.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat image")
	}
	if !info.Mode().IsRegular() {
		return 0, errors.Errorf("image %q is not a regular file", imagePath)
	}
	return t.WriteImage(ctx, image, info.Size(), offset, progress)
}

// Close closes the device.
func (t *Target) Close() error {
	return t.file.Close()
}
