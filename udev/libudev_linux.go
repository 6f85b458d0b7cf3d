//go:build linux && cgo && libudev

package udev

import (
	"context"
	"os"
	"path/filepath"

	goudev "github.com/jochenvg/go-udev"
	"github.com/pkg/errors"
)

const libudevAvailable = true

type libudevRegistry struct{}

// NewLibudevRegistry returns a registry backed by libudev.
func NewLibudevRegistry() Registry {
	return libudevRegistry{}
}

func (libudevRegistry) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// libudev silently enumerates nothing without sysfs; surface that as an open failure instead.
	if _, err := os.Stat(filepath.Join(DefaultSysRoot, "devices")); err != nil {
		return nil, errors.Wrap(err, "libudev: sysfs unavailable")
	}
	return &libudevSession{u: &goudev.Udev{}}, nil
}

type libudevSession struct {
	u      *goudev.Udev
	closed bool
}

func (s *libudevSession) Enumerate(ctx context.Context, filter Filter) ([]Device, error) {
	if s.closed {
		return nil, errors.New("libudev: session closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	enum := s.u.NewEnumerate()
	if filter.Subsystem != "" {
		if err := enum.AddMatchSubsystem(filter.Subsystem); err != nil {
			return nil, errors.Wrapf(err, "libudev: match subsystem %q", filter.Subsystem)
		}
	}
	for key, value := range filter.Properties {
		if err := enum.AddMatchProperty(key, value); err != nil {
			return nil, errors.Wrapf(err, "libudev: match property %s=%s", key, value)
		}
	}
	var parentPath string
	if filter.Parent != nil {
		parent, ok := filter.Parent.(*libudevDevice)
		if !ok || parent.d == nil {
			return nil, errors.Errorf("libudev: parent %T is not a live libudev device", filter.Parent)
		}
		if err := enum.AddMatchParent(parent.d); err != nil {
			return nil, errors.Wrapf(err, "libudev: match parent %s", parent.Syspath())
		}
		parentPath = parent.Syspath()
	}

	devs, err := enum.Devices()
	if err != nil {
		return nil, errors.Wrap(err, "libudev: scan devices")
	}
	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		// libudev includes the parent itself in a parent match.
		if d == nil || (parentPath != "" && d.Syspath() == parentPath) {
			continue
		}
		out = append(out, &libudevDevice{d: d})
	}
	return out, nil
}

func (s *libudevSession) Children(ctx context.Context, parent Device, subsystem string) ([]Device, error) {
	return s.Enumerate(ctx, Filter{Subsystem: subsystem, Parent: parent})
}

func (s *libudevSession) Ancestor(dev Device, subsystem, devtype string) Device {
	d, ok := dev.(*libudevDevice)
	if !ok || d.d == nil {
		return nil
	}
	parent := d.d.ParentWithSubsystemDevtype(subsystem, devtype)
	if parent == nil {
		return nil
	}
	return &libudevDevice{d: parent}
}

func (s *libudevSession) Close() error {
	// go-udev unrefs the context from a finalizer; dropping our pointer is all that is left.
	s.closed = true
	s.u = nil
	return nil
}

// libudevDevice wraps a go-udev device. go-udev unrefs the underlying handle from a finalizer, so
// Release only drops the pointer.
type libudevDevice struct {
	d *goudev.Device
}

func (dev *libudevDevice) Syspath() string {
	if dev.d == nil {
		return ""
	}
	return dev.d.Syspath()
}

func (dev *libudevDevice) Subsystem() string {
	if dev.d == nil {
		return ""
	}
	return dev.d.Subsystem()
}

func (dev *libudevDevice) Devtype() string {
	if dev.d == nil {
		return ""
	}
	return dev.d.Devtype()
}

func (dev *libudevDevice) Devnode() string {
	if dev.d == nil {
		return ""
	}
	return dev.d.Devnode()
}

// Attribute treats an empty value as absent; libudev returns NULL for missing attributes and
// go-udev converts that to "".
func (dev *libudevDevice) Attribute(key string) (string, bool) {
	if dev.d == nil {
		return "", false
	}
	value := dev.d.SysattrValue(key)
	return value, value != ""
}

func (dev *libudevDevice) Property(key string) (string, bool) {
	if dev.d == nil {
		return "", false
	}
	value, ok := dev.d.Properties()[key]
	return value, ok
}

func (dev *libudevDevice) Release() {
	dev.d = nil
}
