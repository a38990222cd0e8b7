package filerpc

import (
	"errors"
	"io/fs"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// The syscall layer is shared by the server's dispatch handlers and the
// client's local-handle shortcut, so both sides observe identical
// semantics for handles below Offset.

func sysOpen(path string, flags int, mode uint32) (int, error) {
	fd, err := unix.Open(path, flags, mode)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

func sysClose(fd int) error {
	return unix.Close(fd)
}

func sysRead(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func sysWrite(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		return -1, err
	}
	return n, nil
}

func sysLseek(fd int, offset int64, whence int) (int64, error) {
	off, err := unix.Seek(fd, offset, whence)
	if err != nil {
		return -1, err
	}
	return off, nil
}

func sysStat(path string) (*unix.Stat_t, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func sysUnlink(path string) error {
	return unix.Unlink(path)
}

// sysGetdirentries reads directory entries in the platform's native blob
// format, maintaining the caller's stream position through basep. Linux
// has no getdirentries syscall, so the basep contract is kept by seeking
// to *basep, reading with getdents64, and reporting the resulting
// directory offset back.
func sysGetdirentries(fd int, buf []byte, basep *int64) (int, error) {
	if _, err := unix.Seek(fd, *basep, unix.SEEK_SET); err != nil {
		return -1, err
	}
	n, err := unix.Getdents(fd, buf)
	if err != nil {
		return -1, err
	}
	pos, err := unix.Seek(fd, 0, unix.SEEK_CUR)
	if err != nil {
		return -1, err
	}
	*basep = pos
	return n, nil
}

// errnoOf extracts the errno a syscall-shaped error carries. Errors that
// did not originate from the kernel (walk failures wrapped by the os
// package, transport-adjacent surprises) map to the closest classical
// value, with EIO as the fallback.
func errnoOf(err error) int {
	if err == nil {
		return 0
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	var sysErrno syscall.Errno
	if errors.As(err, &sysErrno) {
		return int(sysErrno)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return int(unix.ENOENT)
	case errors.Is(err, fs.ErrPermission):
		return int(unix.EACCES)
	case errors.Is(err, fs.ErrExist):
		return int(unix.EEXIST)
	case errors.Is(err, os.ErrInvalid):
		return int(unix.EINVAL)
	}
	return int(unix.EIO)
}
