package fsisolate

import (
	"os"
	"path/filepath"
)

// chmodTmp makes the skeleton's /tmp world-writable and sticky (mode 1777),
// matching what most interpreters and compilers expect to find there.
func chmodTmp(root string) error {
	return os.Chmod(filepath.Join(root, "tmp"), 0o1777)
}
