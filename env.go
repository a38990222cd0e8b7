package filerpc

import (
	"net"
	"os"
)

// Environment variables selecting the server endpoint, shared by client
// and server so a deployment only configures them once.
const (
	EnvServerHost = "server15440"
	EnvServerPort = "serverport15440"

	DefaultServerHost = "127.0.0.1"
	DefaultServerPort = "20080"
)

// EnvDialAddr returns the host:port a client should connect to, from the
// environment with defaults.
func EnvDialAddr() string {
	host := os.Getenv(EnvServerHost)
	if host == "" {
		host = DefaultServerHost
	}
	port := os.Getenv(EnvServerPort)
	if port == "" {
		port = DefaultServerPort
	}
	return net.JoinHostPort(host, port)
}

// EnvListenAddr returns the address the server should bind, from the
// environment with defaults. The server listens on all interfaces; only
// the port is taken from the environment.
func EnvListenAddr() string {
	port := os.Getenv(EnvServerPort)
	if port == "" {
		port = DefaultServerPort
	}
	return ":" + port
}
