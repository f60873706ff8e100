package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/MrGreensWorkshop/zephyr/internal/bridge"
	"github.com/MrGreensWorkshop/zephyr/internal/can"
	"github.com/MrGreensWorkshop/zephyr/internal/controller"
	"github.com/MrGreensWorkshop/zephyr/internal/metrics"
)

const txQueueSize = 1024 // capacity of the bridge tx funnel

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("canshim %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	bus, err := openBus(cfg)
	if err != nil {
		l.Error("bus_open_error", "bus", cfg.bus, "error", err)
		os.Exit(1)
	}
	ctrl := controller.New(bus, controller.WithMaxFilters(cfg.maxFilters))
	defer func() { _ = ctrl.Close() }()

	mode := can.ModeNormal
	if cfg.loopback {
		mode |= can.ModeLoopback
	}
	if cfg.fdMode {
		mode |= can.ModeFD
	}
	if err := ctrl.SetMode(mode); err != nil {
		l.Error("set_mode_error", "error", err)
		os.Exit(1)
	}
	if err := ctrl.Start(); err != nil {
		l.Error("start_error", "error", err)
		os.Exit(1)
	}
	l.Info("controller_up", "bus", cfg.bus, "loopback", cfg.loopback, "fd", cfg.fdMode,
		"max_filters", ctrl.MaxFilters())

	h := initHub(cfg, l)
	// Everything the controller receives goes to the bridge clients.
	for _, kind := range []can.IDKind{can.StandardID, can.ExtendedID} {
		if _, err := ctrl.AddRxFilter(can.AcceptAll(kind), func(fr can.Frame) { h.Broadcast(fr) }); err != nil {
			l.Error("rx_filter_error", "kind", kind.String(), "error", err)
			os.Exit(1)
		}
	}

	funnel := bridge.NewTxFunnel(ctx, txQueueSize, func(fr can.Frame) error {
		return ctrl.Send(&fr, cfg.sendTimeout, nil)
	})

	srv := bridge.NewServer(
		bridge.WithListenAddr(cfg.listenAddr),
		bridge.WithHub(h),
		bridge.WithSend(funnel.SendFrame),
		bridge.WithLogger(l),
		bridge.WithMaxClients(cfg.maxClients),
		bridge.WithReadDeadline(cfg.clientReadTO),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("bridge_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		var portNum int
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the bridge listener is bound and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	funnel.Close()
	_ = ctrl.Stop()
	wg.Wait()
}
