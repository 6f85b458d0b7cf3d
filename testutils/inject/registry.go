package inject

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/usbdisk/udev"
)

// FakeDevice is a node in an in-memory device graph.
type FakeDevice struct {
	Syspath   string
	Subsystem string
	Devtype   string
	Devnode   string
	Attrs     map[string]string
	Props     map[string]string
	Parent    *FakeDevice
}

// Registry is an injected device registry that counts every handle it hands out and every
// release, so tests can assert nothing leaks or is released twice.
type Registry struct {
	// Devices is the graph in enumeration order.
	Devices []*FakeDevice

	OpenFunc      func(ctx context.Context) (udev.Session, error)
	EnumerateFunc func(ctx context.Context, filter udev.Filter) ([]udev.Device, error)
	ChildrenFunc  func(ctx context.Context, parent udev.Device, subsystem string) ([]udev.Device, error)

	mu             sync.Mutex
	acquired       int
	released       int
	doubleReleases int
	sessionsOpened int
	sessionsClosed int
	live           map[*fakeHandle]struct{}
}

// Open calls the injected Open or opens a session on the fake graph.
func (r *Registry) Open(ctx context.Context) (udev.Session, error) {
	if r.OpenFunc != nil {
		return r.OpenFunc(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionsOpened++
	return &fakeSession{reg: r}, nil
}

// Acquired returns how many device handles were handed out.
func (r *Registry) Acquired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acquired
}

// Released returns how many handles were released for the first time.
func (r *Registry) Released() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// DoubleReleases returns how many times an already released handle was released again.
func (r *Registry) DoubleReleases() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doubleReleases
}

// Outstanding returns the sorted syspaths of handles that have not been released.
func (r *Registry) Outstanding() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for h := range r.live {
		out = append(out, h.dev.Syspath)
	}
	sort.Strings(out)
	return out
}

// OpenSessions returns how many sessions are open.
func (r *Registry) OpenSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionsOpened - r.sessionsClosed
}

func (r *Registry) acquire(dev *FakeDevice) *fakeHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.live == nil {
		r.live = map[*fakeHandle]struct{}{}
	}
	h := &fakeHandle{reg: r, dev: dev}
	r.acquired++
	r.live[h] = struct{}{}
	return h
}

func (r *Registry) release(h *fakeHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live[h]; !ok {
		r.doubleReleases++
		return
	}
	delete(r.live, h)
	r.released++
}

type fakeSession struct {
	reg    *Registry
	closed bool
}

func (s *fakeSession) Enumerate(ctx context.Context, filter udev.Filter) ([]udev.Device, error) {
	if s.reg.EnumerateFunc != nil {
		return s.reg.EnumerateFunc(ctx, filter)
	}
	if s.closed {
		return nil, errors.New("session closed")
	}
	var parent *FakeDevice
	if filter.Parent != nil {
		h, ok := filter.Parent.(*fakeHandle)
		if !ok {
			return nil, errors.Errorf("unexpected parent type %T", filter.Parent)
		}
		if h.isReleased() {
			return nil, errors.New("parent handle used after release")
		}
		parent = h.dev
	}

	var out []udev.Device
	for _, dev := range s.reg.Devices {
		if filter.Subsystem != "" && dev.Subsystem != filter.Subsystem {
			continue
		}
		if parent != nil && (dev == parent || !descends(dev, parent)) {
			continue
		}
		matched := true
		for key, value := range filter.Properties {
			if got, ok := dev.Props[key]; !ok || got != value {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, s.reg.acquire(dev))
		}
	}
	return out, nil
}

func (s *fakeSession) Children(ctx context.Context, parent udev.Device, subsystem string) ([]udev.Device, error) {
	if s.reg.ChildrenFunc != nil {
		return s.reg.ChildrenFunc(ctx, parent, subsystem)
	}
	return s.Enumerate(ctx, udev.Filter{Subsystem: subsystem, Parent: parent})
}

func (s *fakeSession) Ancestor(dev udev.Device, subsystem, devtype string) udev.Device {
	h, ok := dev.(*fakeHandle)
	if !ok || h.isReleased() {
		return nil
	}
	for p := h.dev.Parent; p != nil; p = p.Parent {
		if p.Subsystem == subsystem && (devtype == "" || p.Devtype == devtype) {
			return s.reg.acquire(p)
		}
	}
	return nil
}

func (s *fakeSession) Close() error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	if s.closed {
		return errors.New("session closed twice")
	}
	s.closed = true
	s.reg.sessionsClosed++
	return nil
}

func descends(dev, ancestor *FakeDevice) bool {
	for p := dev.Parent; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

type fakeHandle struct {
	reg *Registry
	dev *FakeDevice
}

func (h *fakeHandle) isReleased() bool {
	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	_, ok := h.reg.live[h]
	return !ok
}

func (h *fakeHandle) Syspath() string   { return h.dev.Syspath }
func (h *fakeHandle) Subsystem() string { return h.dev.Subsystem }
func (h *fakeHandle) Devtype() string   { return h.dev.Devtype }
func (h *fakeHandle) Devnode() string   { return h.dev.Devnode }

func (h *fakeHandle) Attribute(key string) (string, bool) {
	value, ok := h.dev.Attrs[key]
	return value, ok
}

func (h *fakeHandle) Property(key string) (string, bool) {
	value, ok := h.dev.Props[key]
	return value, ok
}

func (h *fakeHandle) Release() {
	h.reg.release(h)
}
