// Package filerpc implements a remote procedure call core for a fixed set
// of file-oriented system calls. A client forwards open/close/read/write/
// lseek/stat/unlink/getdirentries/getdirtree to a server, which invokes the
// real system call and ships back the results and errno, so the caller
// observes the same behavior as a local call.
//
// The wire protocol is text-framed: every message travels in a
// "Message-Length:<n>\r\n\r\n" envelope, and requests/responses are
// self-describing lists of length-prefixed byte slots with decimal-ASCII
// integer headers. File handles returned to clients live in a disjoint
// band offset by Offset so they can coexist with handles owned by
// non-forwarded code paths.
//
// Use Dial or DialEnv to create a Client, and ServeListener or ServeConn
// to run the server side. The cmd/filerpcd command wraps ServeListener in
// a daemon.
package filerpc
