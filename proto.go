package filerpc

import (
	"errors"
	"fmt"
)

// Opcode selects the remote procedure.
type Opcode int

// Opcode values are part of the wire contract and must not be renumbered.
const (
	OpOpen Opcode = iota
	OpClose
	OpRead
	OpWrite
	OpLseek
	OpStat
	OpUnlink
	OpGetdirentries
	OpGetdirtree
	OpFreedirtree
)

func (op Opcode) String() string {
	switch op {
	case OpOpen:
		return "open"
	case OpClose:
		return "close"
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpLseek:
		return "lseek"
	case OpStat:
		return "stat"
	case OpUnlink:
		return "unlink"
	case OpGetdirentries:
		return "getdirentries"
	case OpGetdirtree:
		return "getdirtree"
	case OpFreedirtree:
		return "freedirtree"
	}
	return fmt.Sprintf("Opcode(%d)", int(op))
}

// Offset is the additive bias separating remote handles from local ones in
// the client-visible handle namespace. A client-visible handle h >= Offset
// refers to server handle h-Offset; h < Offset is a plain local handle.
//
// Changing this requires a coordinated client+server upgrade.
const Offset = 12345

// ToClientHandle translates a server-local handle into the client-visible
// remote band.
func ToClientHandle(h int) int { return h + Offset }

// ToServerHandle translates a client-visible remote handle back into the
// server-local handle space.
func ToServerHandle(h int) int { return h - Offset }

// IsLocalHandle reports whether a client-visible handle refers to a handle
// owned by the local process rather than the server.
func IsLocalHandle(h int) bool { return h >= 0 && h < Offset }

// Wire header names. Case-sensitive ASCII; the value follows the first ':'.
const (
	headerMessageLength = "Message-Length"
	headerCommand       = "Command"
	headerParamNum      = "ParamNum"
	headerErrno         = "Errno"
	headerReturnNum     = "ReturnNum"
	headerNodeName      = "NodeName"
	headerChildNum      = "ChildNum"
)

const (
	crlf        = "\r\n"
	headerSplit = "\r\n\r\n"
)

// DefaultMaxMessageSize caps a single framed message (header line excluded).
// Larger frames are treated as malformed and the connection is dropped.
const DefaultMaxMessageSize = 8 << 20

var (
	// ErrMalformedFrame reports an unparseable Message-Length envelope.
	ErrMalformedFrame = errors.New("filerpc: malformed frame")

	// ErrMalformedMessage reports an unparseable request, response or
	// directory tree payload.
	ErrMalformedMessage = errors.New("filerpc: malformed message")

	// ErrMalformedArgument reports a value that cannot be represented on
	// the wire. It is raised by encoders and never transmitted.
	ErrMalformedArgument = errors.New("filerpc: malformed argument")

	// ErrTransport reports a connection-level failure: refused, reset,
	// peer closed mid-message, or a frame/decode error that ended the
	// session. Once a Client returns ErrTransport its session is over.
	ErrTransport = errors.New("filerpc: transport failure")
)
