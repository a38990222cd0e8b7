package filerpc

import (
	"errors"
	"io"
	"net"
	"time"
)

// writeFull writes all of b to conn. Transient conditions are retried; a
// short write is never reported as success. It returns the bytes written
// and the first hard error.
func writeFull(conn net.Conn, b []byte) (int, error) {
	written := 0
	for written < len(b) {
		// The runtime's netpoller already retries EINTR/EAGAIN inside
		// Write; the loop covers short writes on the boundary.
		n, err := conn.Write(b[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// readSome pulls whatever the transport has ready into b, blocking until
// at least one byte arrives. It returns the byte count and whether the
// peer closed the stream. The runtime netpoller already hands back only
// the bytes available, so a single Read gives the drain semantics the
// receive loop wants; message boundaries are the framer's job.
func readSome(conn net.Conn, b []byte) (int, bool, error) {
	for {
		n, err := conn.Read(b)
		if n > 0 {
			// EOF delivered together with data: report the data now,
			// the close shows up on the next call.
			return n, false, nil
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			return 0, true, nil
		}
		if ne, ok := err.(net.Error); ok && ne.Temporary() && !ne.Timeout() {
			time.Sleep(time.Millisecond)
			continue
		}
		return 0, false, err
	}
}
