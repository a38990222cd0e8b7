package filerpc

import (
	"bytes"
	"fmt"
	"net"
	"strconv"
)

// appendFrame wraps payload in the Message-Length envelope.
func appendFrame(dst, payload []byte) []byte {
	dst = append(dst, headerMessageLength...)
	dst = append(dst, ':')
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, headerSplit...)
	return append(dst, payload...)
}

// sendMessage frames payload and writes it out whole.
func sendMessage(conn net.Conn, payload []byte) error {
	frame := appendFrame(make([]byte, 0, len(payload)+len(headerMessageLength)+24), payload)
	if n, err := writeFull(conn, frame); err != nil {
		return fmt.Errorf("writing %d-byte frame (wrote %d): %w", len(frame), n, err)
	}
	return nil
}

// rxBuffer accumulates raw bytes from a connection and hands out complete
// framed messages one at a time. It is the per-session receive state on
// both endpoints.
type rxBuffer struct {
	buf []byte
	max int // payload size cap; 0 means DefaultMaxMessageSize
}

func (rx *rxBuffer) limit() int {
	if rx.max > 0 {
		return rx.max
	}
	return DefaultMaxMessageSize
}

// readFrom performs one transport read into the buffer's free space.
// It reports whether the peer has closed the stream.
func (rx *rxBuffer) readFrom(conn net.Conn) (peerClosed bool, err error) {
	free := cap(rx.buf) - len(rx.buf)
	if free < 4096 {
		grow := make([]byte, len(rx.buf), cap(rx.buf)+32*1024)
		copy(grow, rx.buf)
		rx.buf = grow
	}
	n, closed, err := readSome(conn, rx.buf[len(rx.buf):cap(rx.buf)])
	if err != nil {
		return false, err
	}
	rx.buf = rx.buf[:len(rx.buf)+n]
	return closed, nil
}

// extract removes and returns the first complete message from the buffer.
// It returns (nil, nil) when no complete message has arrived yet, and is
// safe to call any number of times between reads; each call consumes at
// most one message and compacts the remainder to the buffer's start.
func (rx *rxBuffer) extract() ([]byte, error) {
	split := bytes.Index(rx.buf, []byte(headerSplit))
	if split < 0 {
		return nil, nil
	}
	header := rx.buf[:split]
	colon := bytes.IndexByte(header, ':')
	if colon < 0 {
		return nil, fmt.Errorf("%w: header %q has no colon", ErrMalformedFrame, header)
	}
	if string(header[:colon]) != headerMessageLength {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrMalformedFrame, header[:colon])
	}
	size, err := strconv.Atoi(string(header[colon+1:]))
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: bad length %q", ErrMalformedFrame, header[colon+1:])
	}
	if size > rx.limit() {
		return nil, fmt.Errorf("%w: length %d exceeds limit %d", ErrMalformedFrame, size, rx.limit())
	}
	total := split + len(headerSplit) + size
	if len(rx.buf) < total {
		return nil, nil
	}
	msg := make([]byte, size)
	copy(msg, rx.buf[split+len(headerSplit):total])
	n := copy(rx.buf, rx.buf[total:])
	rx.buf = rx.buf[:n]
	return msg, nil
}
