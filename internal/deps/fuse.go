package deps

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const fuseDevice = "/dev/fuse"

// CheckFUSE reports whether the FUSE device is usable by the current process.
func CheckFUSE() Status {
	return checkDevice(fuseDevice)
}

func checkDevice(path string) Status {
	status := Status{
		Name:        "FUSE",
		Command:     path,
		Description: "Kernel interface gocryptfs mounts through",
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		status.Detail = fmt.Sprintf("%s not accessible: %v", path, err)
		return status
	}
	status.Available = true
	return status
}
