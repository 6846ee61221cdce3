package ipc

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// SocketPath returns the conventional socket location for name:
// $XDG_RUNTIME_DIR/<name>.sock, or /tmp/<name>.sock when the runtime
// directory is not set.
func SocketPath(name string) string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}
	return filepath.Join(dir, name+".sock")
}

// dialUnix opens a stream socket to path and switches it to non-blocking
// mode. The descriptor is closed on every failure path.
func dialUnix(path string) (int, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
