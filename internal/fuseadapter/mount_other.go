//go:build !linux

package fuseadapter

import (
	"fmt"

	"github.com/dargueta/gofat/driver"
)

// Mount reports that FUSE mounting isn't available on this platform.
func Mount(mountpoint string, base *driver.BaseDriver) error {
	return fmt.Errorf("fuse mount is only supported on linux")
}
