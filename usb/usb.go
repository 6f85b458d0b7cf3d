// Package usb provides the vendor/product identifiers usbdisk uses to pick a USB device.
package usb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Identifier identifies a specific USB device by the vendor
// who produced it and the product that it is. Both are kept in
// the form sysfs reports them: four lowercase hex digits.
type Identifier struct {
	Vendor  string
	Product string
}

// ParseIdentifier parses "vvvv:pppp" as printed by lsusb.
func ParseIdentifier(s string) (Identifier, error) {
	vendor, product, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Identifier{}, errors.Errorf("usb id %q must have the form vendor:product", s)
	}
	return NewIdentifier(vendor, product)
}

// NewIdentifier normalizes vendor and product with NormalizeID.
func NewIdentifier(vendor, product string) (Identifier, error) {
	v, err := NormalizeID(vendor)
	if err != nil {
		return Identifier{}, errors.Wrap(err, "vendor id")
	}
	p, err := NormalizeID(product)
	if err != nil {
		return Identifier{}, errors.Wrap(err, "product id")
	}
	return Identifier{Vendor: v, Product: p}, nil
}

// NormalizeID turns a user supplied 16 bit hex id ("0x781", "0781", "ABCD") into the sysfs form.
func NormalizeID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return "", errors.Errorf("empty id %q", id)
	}
	n, err := strconv.ParseUint(trimmed, 16, 16)
	if err != nil {
		return "", errors.Errorf("id %q is not a 16 bit hex number", id)
	}
	return fmt.Sprintf("%04x", n), nil
}

// String returns "vvvv:pppp".
func (id Identifier) String() string {
	return id.Vendor + ":" + id.Product
}

// IsZero returns whether neither half is set.
func (id Identifier) IsZero() bool {
	return id.Vendor == "" && id.Product == ""
}
