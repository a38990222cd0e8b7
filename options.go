package filerpc

import (
	"log/slog"
)

// Options configures serving file RPC connections.
type Options struct {
	// Logger is used for all server logs. If nil, a default text handler
	// on stderr is created.
	Logger *slog.Logger

	// MaxMessageSize caps a single request frame. 0 means
	// DefaultMaxMessageSize. Oversized frames close the connection.
	MaxMessageSize int

	// Root, when non-empty, confines every path a client names to that
	// directory subtree. Escaping paths fail with EACCES. Empty means
	// clients may name any path the server process can reach.
	Root string
}
