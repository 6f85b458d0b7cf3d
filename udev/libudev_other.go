//go:build !linux || !cgo || !libudev

package udev

import (
	"context"

	"github.com/pkg/errors"
)

const libudevAvailable = false

type libudevRegistry struct{}

// NewLibudevRegistry returns a registry that always fails to open. libudev support needs linux,
// cgo and the libudev build tag.
func NewLibudevRegistry() Registry {
	return libudevRegistry{}
}

func (libudevRegistry) Open(ctx context.Context) (Session, error) {
	return nil, errors.New("libudev support is not compiled in (build on linux with cgo and -tags libudev)")
}
