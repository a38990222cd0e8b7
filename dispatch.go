package filerpc

import (
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

var errnoEINVAL = unix.EINVAL

// resolvePath applies the session's root confinement. It returns the
// effective path and a zero errno, or an empty path and EACCES when the
// client tries to escape the configured subtree.
func (s *session) resolvePath(p string) (string, int) {
	if s.cfg.root == "" {
		return p, 0
	}
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(s.cfg.root, p)
	}
	if abs != s.cfg.root && !strings.HasPrefix(abs, s.cfg.root+string(filepath.Separator)) {
		return "", int(unix.EACCES)
	}
	return abs, 0
}

// paramInt parses the integer parameter at index i.
func paramInt(req *Request, i int) (int64, error) {
	if i >= len(req.Params) {
		return 0, fmt.Errorf("%w: %s missing param %d", ErrMalformedMessage, req.Op, i)
	}
	return SlotInt(req.Params[i])
}

func (s *session) serveOpen(req *Request) *Response {
	if len(req.Params) != 3 {
		return s.badRequest(req.Op, fmt.Sprintf("want 3 params, got %d", len(req.Params)))
	}
	flags, err1 := paramInt(req, 1)
	mode, err2 := paramInt(req, 2)
	if err1 != nil || err2 != nil {
		return s.badRequest(req.Op, "non-integer flags or mode")
	}
	path, pe := s.resolvePath(string(req.Params[0]))
	if pe != 0 {
		return &Response{Errno: pe, Returns: [][]byte{IntSlot(-1)}}
	}
	fd, err := sysOpen(path, int(flags), uint32(mode))
	if err != nil {
		return &Response{Errno: errnoOf(err), Returns: [][]byte{IntSlot(-1)}}
	}
	s.fds[fd] = struct{}{}
	return &Response{Returns: [][]byte{IntSlot(int64(ToClientHandle(fd)))}}
}

func (s *session) serveClose(req *Request) *Response {
	if len(req.Params) != 1 {
		return s.badRequest(req.Op, fmt.Sprintf("want 1 param, got %d", len(req.Params)))
	}
	h, err := paramInt(req, 0)
	if err != nil {
		return s.badRequest(req.Op, "non-integer handle")
	}
	fd := ToServerHandle(int(h))
	if err := sysClose(fd); err != nil {
		return &Response{Errno: errnoOf(err), Returns: [][]byte{IntSlot(-1)}}
	}
	delete(s.fds, fd)
	return &Response{Returns: [][]byte{IntSlot(0)}}
}

func (s *session) serveRead(req *Request) *Response {
	if len(req.Params) != 3 {
		return s.badRequest(req.Op, fmt.Sprintf("want 3 params, got %d", len(req.Params)))
	}
	h, err1 := paramInt(req, 0)
	count, err2 := paramInt(req, 2)
	if err1 != nil || err2 != nil {
		return s.badRequest(req.Op, "non-integer handle or count")
	}
	if count < 0 || count > int64(s.rx.limit()) {
		return s.badRequest(req.Op, fmt.Sprintf("count %d out of range", count))
	}
	buf := make([]byte, count)
	n, err := sysRead(ToServerHandle(int(h)), buf)
	if err != nil {
		return &Response{Errno: errnoOf(err), Returns: [][]byte{IntSlot(-1), nil}}
	}
	return &Response{Returns: [][]byte{IntSlot(int64(n)), buf[:n]}}
}

func (s *session) serveWrite(req *Request) *Response {
	if len(req.Params) != 3 {
		return s.badRequest(req.Op, fmt.Sprintf("want 3 params, got %d", len(req.Params)))
	}
	h, err1 := paramInt(req, 0)
	count, err2 := paramInt(req, 2)
	if err1 != nil || err2 != nil {
		return s.badRequest(req.Op, "non-integer handle or count")
	}
	data := req.Params[1]
	if count < 0 || count > int64(len(data)) {
		return s.badRequest(req.Op, fmt.Sprintf("count %d exceeds %d data bytes", count, len(data)))
	}
	n, err := sysWrite(ToServerHandle(int(h)), data[:count])
	if err != nil {
		return &Response{Errno: errnoOf(err), Returns: [][]byte{IntSlot(-1)}}
	}
	return &Response{Returns: [][]byte{IntSlot(int64(n))}}
}

func (s *session) serveLseek(req *Request) *Response {
	if len(req.Params) != 3 {
		return s.badRequest(req.Op, fmt.Sprintf("want 3 params, got %d", len(req.Params)))
	}
	h, err1 := paramInt(req, 0)
	offset, err2 := paramInt(req, 1)
	whence, err3 := paramInt(req, 2)
	if err1 != nil || err2 != nil || err3 != nil {
		return s.badRequest(req.Op, "non-integer handle, offset or whence")
	}
	off, err := sysLseek(ToServerHandle(int(h)), offset, int(whence))
	if err != nil {
		return &Response{Errno: errnoOf(err), Returns: [][]byte{IntSlot(-1)}}
	}
	return &Response{Returns: [][]byte{IntSlot(off)}}
}

func (s *session) serveStat(req *Request) *Response {
	if len(req.Params) != 1 {
		return s.badRequest(req.Op, fmt.Sprintf("want 1 param, got %d", len(req.Params)))
	}
	path, pe := s.resolvePath(string(req.Params[0]))
	if pe != 0 {
		return &Response{Errno: pe, Returns: [][]byte{IntSlot(-1), statImage(&unix.Stat_t{})}}
	}
	st, err := sysStat(path)
	if err != nil {
		// The image slot keeps its platform size even on failure.
		return &Response{Errno: errnoOf(err), Returns: [][]byte{IntSlot(-1), statImage(&unix.Stat_t{})}}
	}
	return &Response{Returns: [][]byte{IntSlot(0), statImage(st)}}
}

func (s *session) serveUnlink(req *Request) *Response {
	if len(req.Params) != 1 {
		return s.badRequest(req.Op, fmt.Sprintf("want 1 param, got %d", len(req.Params)))
	}
	path, pe := s.resolvePath(string(req.Params[0]))
	if pe != 0 {
		return &Response{Errno: pe, Returns: [][]byte{IntSlot(-1)}}
	}
	if err := sysUnlink(path); err != nil {
		return &Response{Errno: errnoOf(err), Returns: [][]byte{IntSlot(-1)}}
	}
	return &Response{Returns: [][]byte{IntSlot(0)}}
}

func (s *session) serveGetdirentries(req *Request) *Response {
	if len(req.Params) != 3 {
		return s.badRequest(req.Op, fmt.Sprintf("want 3 params, got %d", len(req.Params)))
	}
	h, err1 := paramInt(req, 0)
	nbytes, err2 := paramInt(req, 1)
	base, err3 := paramInt(req, 2)
	if err1 != nil || err2 != nil || err3 != nil {
		return s.badRequest(req.Op, "non-integer handle, nbytes or basep")
	}
	if nbytes < 0 || nbytes > int64(s.rx.limit()) {
		return s.badRequest(req.Op, fmt.Sprintf("nbytes %d out of range", nbytes))
	}
	buf := make([]byte, nbytes)
	n, err := sysGetdirentries(ToServerHandle(int(h)), buf, &base)
	if err != nil {
		return &Response{Errno: errnoOf(err), Returns: [][]byte{IntSlot(-1), nil, IntSlot(base)}}
	}
	return &Response{Returns: [][]byte{IntSlot(int64(n)), buf[:n], IntSlot(base)}}
}

func (s *session) serveGetdirtree(req *Request) *Response {
	if len(req.Params) != 1 {
		return s.badRequest(req.Op, fmt.Sprintf("want 1 param, got %d", len(req.Params)))
	}
	path, pe := s.resolvePath(string(req.Params[0]))
	if pe != 0 {
		return &Response{Errno: pe, Returns: [][]byte{nil}}
	}
	tree, err := WalkDirTree(path)
	if err != nil {
		return &Response{Errno: errnoOf(err), Returns: [][]byte{nil}}
	}
	payload, err := EncodeDirTree(tree)
	if err != nil {
		// A name in the subtree cannot be represented on the wire.
		s.logger.Warn("Unserializable directory tree", "path", path, "err", err)
		return &Response{Errno: int(unix.EILSEQ), Returns: [][]byte{nil}}
	}
	return &Response{Returns: [][]byte{payload}}
}
