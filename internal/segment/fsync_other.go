//go:build !linux

package segment

import "golang.org/x/sys/unix"

// fdatasync falls back to a full fsync on platforms without a distinct
// fdatasync syscall (e.g. darwin).
func fdatasync(fd uintptr) error {
	return unix.Fsync(int(fd))
}
