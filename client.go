package filerpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Addr is the server's host:port. Empty means EnvDialAddr().
	Addr string

	// MaxMessageSize caps a single response frame. 0 means
	// DefaultMaxMessageSize.
	MaxMessageSize int

	// Logger is used for client-side diagnostics. If nil, errors are
	// logged to stderr.
	Logger *slog.Logger
}

// Client executes the interposed file operations against one server
// connection. Handle-bearing operations whose handle is below Offset are
// serviced by the real local syscall instead of being forwarded.
//
// A Client is safe for concurrent use: a mutex serializes each full
// request/response window, preserving the one-outstanding-call ordering
// the protocol requires. Callers wanting parallelism should open one
// Client per goroutine.
type Client struct {
	logger *slog.Logger

	mu     sync.Mutex
	conn   net.Conn
	rx     rxBuffer
	broken error
}

// Dial connects to the server and returns a ready Client.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = EnvDialAddr()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
	}
	return &Client{
		logger: logger.With("server", addr),
		conn:   conn,
		rx:     rxBuffer{max: cfg.MaxMessageSize},
	}, nil
}

// DialEnv connects to the server named by the environment (see
// EnvServerHost and EnvServerPort).
func DialEnv(ctx context.Context) (*Client, error) {
	return Dial(ctx, ClientConfig{})
}

// Disconnect closes the server connection. The Client is unusable for
// remote operations afterwards.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken == nil {
		c.broken = fmt.Errorf("%w: client disconnected", ErrTransport)
	}
	return c.conn.Close()
}

// fail poisons the session. Transport, framing and decode errors are not
// recoverable mid-stream: the next message boundary is unknowable, so the
// connection is closed and every later call fails fast.
func (c *Client) fail(err error) error {
	if c.broken == nil {
		if errors.Is(err, ErrTransport) || errors.Is(err, ErrMalformedFrame) || errors.Is(err, ErrMalformedMessage) {
			c.broken = fmt.Errorf("%w (session over): %v", ErrTransport, err)
		} else {
			c.broken = fmt.Errorf("%w: %v", ErrTransport, err)
		}
		c.logger.Error("session failed", "err", err)
		_ = c.conn.Close()
	}
	return c.broken
}

// call sends one request and blocks until its response has been framed,
// decoded and validated to carry at least minReturns slots.
func (c *Client) call(op Opcode, params [][]byte, minReturns int) (*Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return nil, c.broken
	}

	req := Request{Op: op, Params: params}
	if err := sendMessage(c.conn, req.Encode()); err != nil {
		return nil, c.fail(err)
	}

	for {
		msg, err := c.rx.extract()
		if err != nil {
			return nil, c.fail(err)
		}
		if msg != nil {
			resp, err := DecodeResponse(msg)
			if err != nil {
				return nil, c.fail(err)
			}
			if len(resp.Returns) < minReturns {
				return nil, c.fail(fmt.Errorf("%w: %s response has %d returns, want %d",
					ErrMalformedMessage, op, len(resp.Returns), minReturns))
			}
			return resp, nil
		}
		closed, err := c.rx.readFrom(c.conn)
		if err != nil {
			return nil, c.fail(err)
		}
		if closed {
			return nil, c.fail(fmt.Errorf("peer closed connection awaiting %s response", op))
		}
	}
}

// remoteErrno converts a response errno into the error the caller sees.
func remoteErrno(resp *Response) error {
	if resp.Errno == 0 {
		// Failure sentinel without errno; the closest honest answer.
		return syscall.EIO
	}
	return syscall.Errno(resp.Errno)
}

// Open opens path on the server and returns a client-visible handle in
// the remote band (>= Offset). mode is consulted by the kernel only when
// flags includes O_CREAT, matching the variadic original.
func (c *Client) Open(path string, flags int, mode uint32) (int, error) {
	resp, err := c.call(OpOpen, [][]byte{
		[]byte(path),
		IntSlot(int64(flags)),
		IntSlot(int64(mode)),
	}, 1)
	if err != nil {
		return -1, err
	}
	fd, err := SlotInt(resp.Returns[0])
	if err != nil {
		return -1, c.failLocked(err)
	}
	if fd < 0 {
		return -1, remoteErrno(resp)
	}
	return int(fd), nil
}

// failLocked re-acquires the session lock to poison it; used by callers
// that discover malformed content after call returned.
func (c *Client) failLocked(err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fail(err)
}

// Close closes a handle. Handles below Offset are closed locally.
func (c *Client) Close(fd int) error {
	if IsLocalHandle(fd) {
		if err := sysClose(fd); err != nil {
			return err
		}
		return nil
	}
	resp, err := c.call(OpClose, [][]byte{IntSlot(int64(fd))}, 1)
	if err != nil {
		return err
	}
	ret, err := SlotInt(resp.Returns[0])
	if err != nil {
		return c.failLocked(err)
	}
	if ret < 0 {
		return remoteErrno(resp)
	}
	return nil
}

// Read reads up to len(buf) bytes from a handle. Handles below Offset
// read locally. On success the returned count of bytes have been copied
// into buf.
func (c *Client) Read(fd int, buf []byte) (int, error) {
	if IsLocalHandle(fd) {
		return sysRead(fd, buf)
	}
	// The placeholder slot conveys the caller's capacity by its size;
	// its content is never consulted.
	resp, err := c.call(OpRead, [][]byte{
		IntSlot(int64(fd)),
		make([]byte, len(buf)),
		IntSlot(int64(len(buf))),
	}, 2)
	if err != nil {
		return -1, err
	}
	n, err := SlotInt(resp.Returns[0])
	if err != nil {
		return -1, c.failLocked(err)
	}
	if n < 0 {
		return -1, remoteErrno(resp)
	}
	data := resp.Returns[1]
	if int64(len(data)) != n || n > int64(len(buf)) {
		return -1, c.failLocked(fmt.Errorf("%w: read returned count %d with %d data bytes (capacity %d)",
			ErrMalformedMessage, n, len(data), len(buf)))
	}
	copy(buf, data)
	return int(n), nil
}

// Write writes buf to a handle. Handles below Offset write locally.
func (c *Client) Write(fd int, buf []byte) (int, error) {
	if IsLocalHandle(fd) {
		return sysWrite(fd, buf)
	}
	resp, err := c.call(OpWrite, [][]byte{
		IntSlot(int64(fd)),
		buf,
		IntSlot(int64(len(buf))),
	}, 1)
	if err != nil {
		return -1, err
	}
	n, err := SlotInt(resp.Returns[0])
	if err != nil {
		return -1, c.failLocked(err)
	}
	if n < 0 {
		return -1, remoteErrno(resp)
	}
	return int(n), nil
}

// Lseek repositions a handle's file offset and returns the new offset.
func (c *Client) Lseek(fd int, offset int64, whence int) (int64, error) {
	if IsLocalHandle(fd) {
		return sysLseek(fd, offset, whence)
	}
	resp, err := c.call(OpLseek, [][]byte{
		IntSlot(int64(fd)),
		IntSlot(offset),
		IntSlot(int64(whence)),
	}, 1)
	if err != nil {
		return -1, err
	}
	off, err := SlotInt(resp.Returns[0])
	if err != nil {
		return -1, c.failLocked(err)
	}
	if off < 0 {
		return -1, remoteErrno(resp)
	}
	return off, nil
}

// StatRaw stats path on the server and returns the platform-format stat
// image verbatim. Client and server must share the same platform ABI for
// the image to be meaningful.
func (c *Client) StatRaw(path string) ([]byte, error) {
	resp, err := c.call(OpStat, [][]byte{[]byte(path)}, 2)
	if err != nil {
		return nil, err
	}
	ret, err := SlotInt(resp.Returns[0])
	if err != nil {
		return nil, c.failLocked(err)
	}
	if ret < 0 {
		return nil, remoteErrno(resp)
	}
	return resp.Returns[1], nil
}

// Stat stats path on the server and decodes the stat image.
func (c *Client) Stat(path string) (*unix.Stat_t, error) {
	img, err := c.StatRaw(path)
	if err != nil {
		return nil, err
	}
	st, err := statFromImage(img)
	if err != nil {
		return nil, c.failLocked(err)
	}
	return st, nil
}

// Unlink removes path on the server.
func (c *Client) Unlink(path string) error {
	resp, err := c.call(OpUnlink, [][]byte{[]byte(path)}, 1)
	if err != nil {
		return err
	}
	ret, err := SlotInt(resp.Returns[0])
	if err != nil {
		return c.failLocked(err)
	}
	if ret < 0 {
		return remoteErrno(resp)
	}
	return nil
}

// Getdirentries reads directory entries from a handle into buf in the
// platform's native blob format, maintaining the read position through
// basep. Handles below Offset are serviced locally.
func (c *Client) Getdirentries(fd int, buf []byte, basep *int64) (int, error) {
	if IsLocalHandle(fd) {
		return sysGetdirentries(fd, buf, basep)
	}
	resp, err := c.call(OpGetdirentries, [][]byte{
		IntSlot(int64(fd)),
		IntSlot(int64(len(buf))),
		IntSlot(*basep),
	}, 3)
	if err != nil {
		return -1, err
	}
	n, err := SlotInt(resp.Returns[0])
	if err != nil {
		return -1, c.failLocked(err)
	}
	if n < 0 {
		return -1, remoteErrno(resp)
	}
	data := resp.Returns[1]
	if int64(len(data)) != n || n > int64(len(buf)) {
		return -1, c.failLocked(fmt.Errorf("%w: getdirentries returned count %d with %d data bytes",
			ErrMalformedMessage, n, len(data)))
	}
	newBase, err := SlotInt(resp.Returns[2])
	if err != nil {
		return -1, c.failLocked(err)
	}
	copy(buf, data)
	*basep = newBase
	return int(n), nil
}

// GetDirTree enumerates the directory subtree rooted at path on the
// server and returns the decoded tree.
func (c *Client) GetDirTree(path string) (*DirTreeNode, error) {
	resp, err := c.call(OpGetdirtree, [][]byte{[]byte(path)}, 1)
	if err != nil {
		return nil, err
	}
	if resp.Errno != 0 {
		return nil, syscall.Errno(resp.Errno)
	}
	tree, err := DecodeDirTree(resp.Returns[0])
	if err != nil {
		return nil, c.failLocked(err)
	}
	return tree, nil
}

// FreeDirTree releases a tree obtained from GetDirTree. Purely local;
// nothing is sent to the server.
func (c *Client) FreeDirTree(n *DirTreeNode) {
	FreeDirTree(n)
}

// statImage exposes a stat structure as raw platform bytes, and
// statFromImage is its inverse. Both sides must be binary-compatible.

func statImage(st *unix.Stat_t) []byte {
	img := make([]byte, unsafe.Sizeof(*st))
	copy(img, (*(*[unsafe.Sizeof(unix.Stat_t{})]byte)(unsafe.Pointer(st)))[:])
	return img
}

func statFromImage(img []byte) (*unix.Stat_t, error) {
	var st unix.Stat_t
	if uintptr(len(img)) != unsafe.Sizeof(st) {
		return nil, fmt.Errorf("%w: stat image is %d bytes, platform wants %d",
			ErrMalformedMessage, len(img), unsafe.Sizeof(st))
	}
	copy((*(*[unsafe.Sizeof(unix.Stat_t{})]byte)(unsafe.Pointer(&st)))[:], img)
	return &st, nil
}
