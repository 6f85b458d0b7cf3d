package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

// WriteFile creates any missing parent directories and writes data to path, failing the test on
// error.
func WriteFile(tb testing.TB, path string, data []byte) {
	tb.Helper()
	test.That(tb, os.MkdirAll(filepath.Dir(path), 0o755), test.ShouldBeNil)
	test.That(tb, os.WriteFile(path, data, 0o644), test.ShouldBeNil)
}

// Symlink creates a symlink at link pointing to target unless one already exists.
func Symlink(tb testing.TB, target, link string) {
	tb.Helper()
	if _, err := os.Lstat(link); err == nil {
		return
	}
	test.That(tb, os.MkdirAll(filepath.Dir(link), 0o755), test.ShouldBeNil)
	test.That(tb, os.Symlink(target, link), test.ShouldBeNil)
}
