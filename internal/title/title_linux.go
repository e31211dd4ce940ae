//go:build linux

package title

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

type prctlSetter struct{}

// New returns the platform title setter. On Linux the kernel comm name
// is updated via prctl; it is truncated to 15 bytes, which is enough
// for the program and role prefix to show up in ps and top.
func New() Setter {
	return prctlSetter{}
}

func (prctlSetter) Set(title string) {
	b := make([]byte, 0, len(title)+1)
	b = append(b, title...)
	b = append(b, 0)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&b[0])), 0, 0, 0)
}
