package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MrGreensWorkshop/zephyr/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rx", snap.Rx,
					"tx", snap.Tx,
					"confirms", snap.TxConfirms,
					"tx_timeouts", snap.TxTimeouts,
					"dispatched", snap.Dispatched,
					"bridge_rx", snap.BridgeRx,
					"bridge_tx", snap.BridgeTx,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
