package udev

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// NewSysfsRegistry returns a registry that reads the device graph straight out of a sysfs tree
// mounted at root.
func NewSysfsRegistry(root string) Registry {
	return sysfsRegistry{root: root}
}

type sysfsRegistry struct {
	root string
}

func (reg sysfsRegistry) Open(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	realRoot, err := filepath.EvalSymlinks(reg.root)
	if err != nil {
		return nil, errors.Wrapf(err, "sysfs: cannot resolve %q", reg.root)
	}
	info, err := os.Stat(filepath.Join(realRoot, "devices"))
	if err != nil {
		return nil, errors.Wrapf(err, "sysfs: %q is not a sysfs mount", reg.root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("sysfs: %q has no devices directory", reg.root)
	}
	return &sysfsSession{root: realRoot}, nil
}

type sysfsSession struct {
	root   string
	closed bool
}

func (s *sysfsSession) devicesDir() string {
	return filepath.Join(s.root, "devices")
}

// Enumerate lists /sys/class/<subsystem> and /sys/bus/<subsystem>/devices, or walks all of
// /sys/devices when no subsystem is given. Results are sorted by syspath.
func (s *sysfsSession) Enumerate(ctx context.Context, filter Filter) ([]Device, error) {
	if s.closed {
		return nil, errors.New("sysfs: session closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var paths []string
	var err error
	if filter.Subsystem == "" {
		paths, err = s.walkDevices()
	} else {
		paths, err = s.subsystemMembers(filter.Subsystem)
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var parentPath string
	if filter.Parent != nil {
		parentPath = filter.Parent.Syspath()
		if parentPath == "" {
			return nil, errors.New("sysfs: parent device has been released")
		}
	}

	var out []Device
	for _, path := range paths {
		if parentPath != "" && !strings.HasPrefix(path, parentPath+string(filepath.Separator)) {
			continue
		}
		dev, ok := s.load(path)
		if !ok {
			continue
		}
		if filter.Subsystem != "" && dev.subsystem != filter.Subsystem {
			continue
		}
		if !dev.matchesProperties(filter.Properties) {
			continue
		}
		out = append(out, dev)
	}
	return out, nil
}

func (s *sysfsSession) Children(ctx context.Context, parent Device, subsystem string) ([]Device, error) {
	return s.Enumerate(ctx, Filter{Subsystem: subsystem, Parent: parent})
}

// Ancestor walks up the directory chain from dev, stopping at /sys/devices.
func (s *sysfsSession) Ancestor(dev Device, subsystem, devtype string) Device {
	if s.closed || dev == nil || dev.Syspath() == "" {
		return nil
	}
	top := s.devicesDir()
	for dir := filepath.Dir(dev.Syspath()); strings.HasPrefix(dir, top+string(filepath.Separator)); dir = filepath.Dir(dir) {
		parent, ok := s.load(dir)
		if !ok {
			continue
		}
		if parent.subsystem == subsystem && (devtype == "" || parent.Devtype() == devtype) {
			return parent
		}
	}
	return nil
}

func (s *sysfsSession) Close() error {
	s.closed = true
	return nil
}

func (s *sysfsSession) subsystemMembers(subsystem string) ([]string, error) {
	seen := map[string]struct{}{}
	var paths []string
	for _, dir := range []string{
		filepath.Join(s.root, "class", subsystem),
		filepath.Join(s.root, "bus", subsystem, "devices"),
	} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "sysfs: read %q", dir)
		}
		for _, entry := range entries {
			realPath, err := filepath.EvalSymlinks(filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			if _, ok := seen[realPath]; ok {
				continue
			}
			seen[realPath] = struct{}{}
			paths = append(paths, realPath)
		}
	}
	return paths, nil
}

func (s *sysfsSession) walkDevices() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.devicesDir(), func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.Type()&os.ModeSymlink != 0 || !entry.IsDir() {
			return nil
		}
		if _, statErr := os.Stat(filepath.Join(path, "uevent")); statErr == nil {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "sysfs: walk devices")
	}
	return paths, nil
}

// load reads a device directory. Directories without a uevent file are not devices.
func (s *sysfsSession) load(path string) (*sysfsDevice, bool) {
	props, err := readUevent(filepath.Join(path, "uevent"))
	if err != nil {
		return nil, false
	}
	dev := &sysfsDevice{syspath: path, props: props}
	if link, err := os.Readlink(filepath.Join(path, "subsystem")); err == nil {
		dev.subsystem = filepath.Base(link)
	}
	return dev, true
}

func readUevent(path string) (map[string]string, error) {
	f, err := os.Open(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	props := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || key == "" {
			continue
		}
		props[key] = value
	}
	return props, scanner.Err()
}

type sysfsDevice struct {
	syspath   string
	subsystem string
	props     map[string]string
}

func (dev *sysfsDevice) Syspath() string {
	return dev.syspath
}

func (dev *sysfsDevice) Subsystem() string {
	return dev.subsystem
}

func (dev *sysfsDevice) Devtype() string {
	return dev.props[PropertyDevtype]
}

func (dev *sysfsDevice) Devnode() string {
	name := dev.props[PropertyDevname]
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	return "/dev/" + name
}

// Attribute reads a regular file in the device directory, trimming the trailing newline.
func (dev *sysfsDevice) Attribute(key string) (string, bool) {
	if dev.syspath == "" || key == "" || strings.Contains(key, "..") {
		return "", false
	}
	path := filepath.Join(dev.syspath, key)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

func (dev *sysfsDevice) Property(key string) (string, bool) {
	value, ok := dev.props[key]
	return value, ok
}

func (dev *sysfsDevice) matchesProperties(want map[string]string) bool {
	for key, value := range want {
		if got, ok := dev.props[key]; !ok || got != value {
			return false
		}
	}
	return true
}

// Release drops the reference; later calls see an empty device.
func (dev *sysfsDevice) Release() {
	dev.syspath = ""
	dev.props = nil
}
