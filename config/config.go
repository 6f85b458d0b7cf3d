// Package config defines the job file that describes which disk to find and what to write to it.
package config

import (
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/usbdisk/usb"
)

// DefaultOffset is where images are written when no offset is given.
const DefaultOffset = 128 * units.KiB

// Job selects a disk and, for writes, the image and offset.
type Job struct {
	VendorID  string `json:"vendor_id,omitempty"`
	ProductID string `json:"product_id,omitempty"`
	Device    string `json:"device,omitempty"`
	Input     string `json:"input,omitempty"`
	// Offset is a byte count, optionally with a binary unit suffix ("128KiB", "1m").
	Offset   string `json:"offset,omitempty"`
	SysRoot  string `json:"sys_root,omitempty"`
	ProcRoot string `json:"proc_root,omitempty"`
	Debug    bool   `json:"debug,omitempty"`

	ConfigFilePath string `json:"-"`
}

// Validate ensures the job selects exactly one disk, by device path or by USB ids, and names an
// input when one is needed.
func (j *Job) Validate(path string, needInput bool) error {
	byID := j.VendorID != "" || j.ProductID != ""
	switch {
	case j.Device != "" && byID:
		return utils.NewConfigValidationError(path,
			errors.New("device cannot be combined with vendor_id/product_id"))
	case j.Device == "" && !byID:
		return utils.NewConfigValidationFieldRequiredError(path, "device")
	case byID && j.VendorID == "":
		return utils.NewConfigValidationFieldRequiredError(path, "vendor_id")
	case byID && j.ProductID == "":
		return utils.NewConfigValidationFieldRequiredError(path, "product_id")
	}
	if byID {
		if _, err := usb.NewIdentifier(j.VendorID, j.ProductID); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	if needInput && j.Input == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "input")
	}
	if _, err := j.OffsetBytes(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	return nil
}

// Identifier returns the normalized USB ids. It is the zero Identifier when the job selects by
// device path.
func (j *Job) Identifier() (usb.Identifier, error) {
	if j.VendorID == "" && j.ProductID == "" {
		return usb.Identifier{}, nil
	}
	return usb.NewIdentifier(j.VendorID, j.ProductID)
}

// OffsetBytes parses Offset, defaulting to DefaultOffset.
func (j *Job) OffsetBytes() (int64, error) {
	if j.Offset == "" {
		return DefaultOffset, nil
	}
	n, err := units.RAMInBytes(j.Offset)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid offset %q", j.Offset)
	}
	if n < 0 {
		return 0, errors.Errorf("invalid offset %q", j.Offset)
	}
	return n, nil
}

// Merge overrides j with every field set in other. Debug is only ever turned on.
func (j *Job) Merge(other Job) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&j.VendorID, other.VendorID)
	set(&j.ProductID, other.ProductID)
	set(&j.Device, other.Device)
	set(&j.Input, other.Input)
	set(&j.Offset, other.Offset)
	set(&j.SysRoot, other.SysRoot)
	set(&j.ProcRoot, other.ProcRoot)
	j.Debug = j.Debug || other.Debug
}
