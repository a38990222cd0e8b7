package filerpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type sessionConfig struct {
	maxMessageSize int
	root           string
}

func buildSessionConfig(opts Options) (*slog.Logger, *sessionConfig, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))
	}
	if opts.MaxMessageSize < 0 {
		return nil, nil, errors.New("filerpc: negative MaxMessageSize")
	}
	root := opts.Root
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, nil, fmt.Errorf("filerpc: resolving root %q: %w", root, err)
		}
		root = abs
	}
	return logger, &sessionConfig{
		maxMessageSize: opts.MaxMessageSize,
		root:           root,
	}, nil
}

// ServeConn serves a single client session over conn.
//
// It runs until the peer closes the connection, a frame or decode error
// ends the session, or ctx is canceled.
//
// The connection is always closed before returning, along with every file
// handle opened on the client's behalf.
func ServeConn(ctx context.Context, conn net.Conn, opts Options) error {
	if conn == nil {
		return errors.New("filerpc: nil conn")
	}
	logger, cfg, err := buildSessionConfig(opts)
	if err != nil {
		_ = conn.Close()
		return err
	}
	return newSession(cfg, logger, conn).serve(ctx)
}

// ServeListener accepts connections from ln and serves each in its own
// goroutine, so a slow or stuck client never blocks progress on other
// clients. The listener is closed when ctx is canceled to unblock Accept.
// For custom acceptance/shutdown policies, accept connections yourself
// and call ServeConn.
func ServeListener(ctx context.Context, ln net.Listener, opts Options) error {
	if ln == nil {
		return errors.New("filerpc: nil listener")
	}
	logger, cfg, err := buildSessionConfig(opts)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	// Ensure Accept unblocks on cancellation.
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	addr := ln.Addr().Network() + ":" + ln.Addr().String()
	logger.InfoContext(ctx, "Starting listener", "listener", addr)
	defer logger.InfoContext(ctx, "Stopping listener", "listener", addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return err
		}

		logger.InfoContext(ctx, "Accepted connection", "listener", addr, "remote", conn.RemoteAddr().String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = newSession(cfg, logger, conn).serve(ctx)
		}()
	}
}

// session is the per-client worker state: the receive buffer the framer
// works over and the native handles opened on the client's behalf. A
// session shares no mutable state with other sessions.
type session struct {
	cfg    *sessionConfig
	logger *slog.Logger
	conn   net.Conn
	rx     rxBuffer

	// fds tracks native handles this session opened, so they can be
	// released when the client goes away without closing them.
	fds map[int]struct{}
}

func newSession(cfg *sessionConfig, logger *slog.Logger, conn net.Conn) *session {
	return &session{
		cfg:    cfg,
		logger: logger.With("remote", conn.RemoteAddr().String()),
		conn:   conn,
		rx:     rxBuffer{max: cfg.maxMessageSize},
		fds:    make(map[int]struct{}),
	}
}

func (s *session) serve(ctx context.Context) error {
	defer func() {
		_ = s.conn.Close()
		for fd := range s.fds {
			_ = sysClose(fd)
		}
		s.logger.InfoContext(ctx, "Closed connection", "leaked_handles", len(s.fds))
	}()

	// Unblock the read loop when the parent shuts down.
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	for {
		closed, err := s.rx.readFrom(s.conn)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.ErrorContext(ctx, "Read failed", "err", err)
			return err
		}
		for {
			msg, err := s.rx.extract()
			if err != nil {
				s.logger.ErrorContext(ctx, "Dropping client", "err", err)
				return err
			}
			if msg == nil {
				break
			}
			req, err := DecodeRequest(msg)
			if err != nil {
				s.logger.ErrorContext(ctx, "Dropping client", "err", err)
				return err
			}
			if err := s.dispatch(ctx, req); err != nil {
				if !errors.Is(err, net.ErrClosed) {
					s.logger.ErrorContext(ctx, "Write failed", "err", err)
				}
				return err
			}
		}
		if closed {
			s.logger.InfoContext(ctx, "Client closed connection")
			return nil
		}
	}
}

// dispatch runs one request through its handler and transmits the
// response. An unknown opcode is logged and skipped; the connection
// continues.
func (s *session) dispatch(ctx context.Context, req *Request) error {
	var resp *Response
	switch req.Op {
	case OpOpen:
		resp = s.serveOpen(req)
	case OpClose:
		resp = s.serveClose(req)
	case OpRead:
		resp = s.serveRead(req)
	case OpWrite:
		resp = s.serveWrite(req)
	case OpLseek:
		resp = s.serveLseek(req)
	case OpStat:
		resp = s.serveStat(req)
	case OpUnlink:
		resp = s.serveUnlink(req)
	case OpGetdirentries:
		resp = s.serveGetdirentries(req)
	case OpGetdirtree:
		resp = s.serveGetdirtree(req)
	default:
		// OpFreedirtree is purely client-local and should never arrive.
		s.logger.WarnContext(ctx, "Unknown command", "op", int(req.Op), "params", len(req.Params))
		return nil
	}
	return sendMessage(s.conn, resp.Encode())
}

// badRequest answers a structurally valid request whose slots do not fit
// the per-op contract. The syscall never runs; the client sees EINVAL.
func (s *session) badRequest(op Opcode, why string) *Response {
	s.logger.Warn("Bad request", "op", op.String(), "why", why)
	// Keep the op's return slot count so the client reads the errno
	// instead of rejecting the response as short.
	returns := [][]byte{IntSlot(-1)}
	switch op {
	case OpRead, OpStat:
		returns = append(returns, nil)
	case OpGetdirentries:
		returns = append(returns, nil, nil)
	}
	return &Response{Errno: int(errnoEINVAL), Returns: returns}
}
