// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

// Command igmpproxy runs the IGMPv3 multicast-proxy daemon: one
// upstream interface, one or more downstream interfaces, and the
// kernel multicast routing table wired between them.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/igmpproxy/internal/config"
	"grimm.is/igmpproxy/internal/logging"
	"grimm.is/igmpproxy/internal/metrics"
	"grimm.is/igmpproxy/internal/mroute"
	"grimm.is/igmpproxy/internal/netlink"
	"grimm.is/igmpproxy/internal/proxy"
	"grimm.is/igmpproxy/internal/statusapi"
	"grimm.is/igmpproxy/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("igmpproxy", flag.ContinueOnError)
	noFork := fs.Bool("n", false, "do not fork into the background")
	debug := fs.Bool("d", false, "enable debug output")
	verbose := fs.Bool("v", false, "verbose logging")
	veryVerbose := fs.Bool("vv", false, "very verbose logging")
	statusAddr := fs.String("status-addr", ":8080", "address for the read-only HTTP status API")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: igmpproxy [-n] [-d] [-v|-vv] <configfile>")
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}
	// The daemon never forks itself; -n is accepted only for
	// command-line compatibility with the legacy invocation.
	_ = *noFork

	level := logging.LevelInfo
	if *debug || *verbose || *veryVerbose {
		level = logging.LevelDebug
	}
	logger := logging.New(logging.Config{Output: os.Stderr, Level: level})
	logging.SetDefault(logger)

	cfg, err := config.LoadFile(fs.Arg(0))
	if err != nil {
		logger.WithError(err).Error("loading configuration")
		return 1
	}
	if err := config.Validate(cfg); err != nil {
		logger.WithError(err).Error("invalid configuration")
		return 1
	}

	resolver := netlink.NewResolver()

	kernel, err := mroute.NewLinuxTable()
	if err != nil {
		logger.WithError(err).Error("opening multicast routing socket")
		return 1
	}
	defer kernel.Close()

	sock, err := transport.NewRawSocket()
	if err != nil {
		logger.WithError(err).Error("opening raw igmp socket")
		return 1
	}
	defer sock.Close()

	m := metrics.New()
	m.Register()

	p, err := proxy.NewProxy(cfg, resolver, kernel, sock, m, logger, time.Now)
	if err != nil {
		logger.WithError(err).Error("initializing proxy")
		return 1
	}

	router := mux.NewRouter()
	statusapi.NewServer(p).RegisterRoutes(router)
	httpSrv := &http.Server{Addr: *statusAddr, Handler: router}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("status api server exited")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := p.Run(ctx)
	_ = httpSrv.Close()

	if runErr != nil {
		logger.WithError(runErr).Error("proxy event loop exited")
		return 1
	}
	logger.Info("shutting down")
	return 0
}
