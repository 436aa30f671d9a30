//go:build linux

package fsisolate

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// devNodes are the character devices spec §4.3 requires inside the chroot
// skeleton: major/minor pairs for /dev/null and /dev/zero.
var devNodes = map[string][2]uint32{
	"null": {1, 3},
	"zero": {1, 5},
}

// createDeviceNodes creates /dev/null and /dev/zero as character devices.
// If mknod is refused (unprivileged containers, restrictive LSM policy),
// it falls back to an empty regular file at the same path so the payload
// at least finds something there, per spec §4.3.
func createDeviceNodes(root string) error {
	dev := filepath.Join(root, "dev")
	if err := os.MkdirAll(dev, 0o755); err != nil {
		return err
	}

	for name, nums := range devNodes {
		path := filepath.Join(dev, name)
		devNo := unix.Mkdev(nums[0], nums[1])
		if err := unix.Mknod(path, unix.S_IFCHR|0o666, int(devNo)); err != nil {
			f, ferr := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o666)
			if ferr != nil {
				return ferr
			}
			_ = f.Close()
		}
	}
	return nil
}
