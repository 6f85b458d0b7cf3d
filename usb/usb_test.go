package usb

import (
	"testing"

	"go.viam.com/test"
)

func TestNormalizeID(t *testing.T) {
	for _, tc := range []struct {
		in, out string
	}{
		{"0781", "0781"},
		{"781", "0781"},
		{"0x781", "0781"},
		{"ABCD", "abcd"},
		{" 5567 ", "5567"},
		{"0", "0000"},
	} {
		got, err := NormalizeID(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, tc.out)
	}

	for _, bad := range []string{"", "0x", "xyz", "10000", "-1"} {
		_, err := NormalizeID(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestParseIdentifier(t *testing.T) {
	id, err := ParseIdentifier("0781:5567")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldResemble, Identifier{Vendor: "0781", Product: "5567"})
	test.That(t, id.String(), test.ShouldEqual, "0781:5567")
	test.That(t, id.IsZero(), test.ShouldBeFalse)

	id, err = ParseIdentifier("90C:1000")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id.String(), test.ShouldEqual, "090c:1000")

	_, err = ParseIdentifier("0781")
	test.That(t, err, test.ShouldBeError, `usb id "0781" must have the form vendor:product`)

	_, err = ParseIdentifier("0781:zz")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "product id")

	test.That(t, Identifier{}.IsZero(), test.ShouldBeTrue)
}
