package sendfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// ErrShortTransfer is returned when the file ended before count bytes were sent
var ErrShortTransfer = errors.New("sendfile: short transfer")

// maxChunk caps a single sendfile call, matching the kernel's own limit
const maxChunk = 0x7ffff000

// SendFile streams count bytes of file to connFd with the zero-copy
// sendfile syscall. Partial transfers caused by signals are resumed from
// the returned offset.
func SendFile(connFd int, file *os.File, count int64) (int64, error) {
	fileFd := int(file.Fd())

	var offset int64
	for offset < count {
		chunk := count - offset
		if chunk > maxChunk {
			chunk = maxChunk
		}
		n, err := unix.Sendfile(connFd, fileFd, &offset, int(chunk))
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return offset, fmt.Errorf("sendfile: %w", err)
		}
		if n == 0 {
			return offset, ErrShortTransfer
		}
	}

	return offset, nil
}

// WriteAll writes p to fd, retrying partial writes
func WriteAll(fd int, p []byte) error {
	written := 0
	for written < len(p) {
		n, err := unix.Write(fd, p[written:])
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("write: %w", err)
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		written += n
	}
	return nil
}

// Read reads once from fd into p, retrying only on EINTR. A return of
// (0, nil) means the peer closed its side.
func Read(fd int, p []byte) (int, error) {
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read: %w", err)
		}
		return n, nil
	}
}
