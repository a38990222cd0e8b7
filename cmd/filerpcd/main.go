// Command filerpcd serves file RPC requests over TCP.
//
// Configuration precedence: flags override the config file, which
// overrides the environment (serverport15440; the daemon listens on all
// interfaces, so server15440 is not consulted), which overrides built-in
// defaults.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	daemon "github.com/sevlyar/go-daemon"
	"golang.org/x/net/netutil"
	"gopkg.in/yaml.v2"

	filerpc "github.com/andrewchambers/gofilerpc"
)

type fileConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	MaxMessageSize int    `yaml:"max_message_size"`
	MaxConns       int    `yaml:"max_conns"`
	Root           string `yaml:"root"`
	Debug          bool   `yaml:"debug"`
	PidFile        string `yaml:"pid_file"`
	LogFile        string `yaml:"log_file"`
}

func loadConfig(path string) (*fileConfig, error) {
	var cfg fileConfig
	if path == "" {
		return &cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func main() {
	var (
		addr       string
		configPath string
		root       string
		maxConns   int
		debug      bool
		daemonize  bool
	)
	flag.StringVar(&addr, "addr", "", "listen address (host:port); overrides config file and environment")
	flag.StringVar(&configPath, "config", "", "path to YAML config file")
	flag.StringVar(&root, "root", "", "confine clients to this directory subtree")
	flag.IntVar(&maxConns, "max-conns", 0, "maximum concurrent client connections (0 = unlimited)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.BoolVar(&daemonize, "daemonize", false, "detach and run in the background")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if addr == "" {
		addr = cfg.ListenAddr
	}
	if addr == "" {
		addr = filerpc.EnvListenAddr()
	}
	if root == "" {
		root = cfg.Root
	}
	if maxConns == 0 {
		maxConns = cfg.MaxConns
	}
	debug = debug || cfg.Debug

	if daemonize {
		pidFile := cfg.PidFile
		if pidFile == "" {
			pidFile = "/var/run/filerpcd.pid"
		}
		logFile := cfg.LogFile
		if logFile == "" {
			logFile = "/var/log/filerpcd.log"
		}
		dctx := &daemon.Context{
			PidFileName: pidFile,
			PidFilePerm: 0o644,
			LogFileName: logFile,
			LogFilePerm: 0o640,
			WorkDir:     "/",
			Umask:       0o27,
		}
		child, err := dctx.Reborn()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: daemonize: %v\n", err)
			os.Exit(1)
		}
		if child != nil {
			return // parent
		}
		defer func() { _ = dctx.Release() }()
	}

	hopts := &slog.HandlerOptions{}
	if debug {
		hopts.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) {
		handler = slog.NewTextHandler(os.Stderr, hopts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, hopts)
	}
	logger := slog.New(handler)
	logger.Info("starting", "addr", addr, "pid", os.Getpid(), "debug", debug, "root", root)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("listen", "addr", addr, "err", err)
		os.Exit(1)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down (signal)")
		cancel()
	}()

	err = filerpc.ServeListener(ctx, ln, filerpc.Options{
		Logger:         logger,
		MaxMessageSize: cfg.MaxMessageSize,
		Root:           root,
	})
	if err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Error("serve", "err", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
