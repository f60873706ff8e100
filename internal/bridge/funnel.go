package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
	"github.com/MrGreensWorkshop/zephyr/internal/logging"
	"github.com/MrGreensWorkshop/zephyr/internal/metrics"
)

var (
	// ErrTxOverflow is returned when the funnel buffer is full.
	ErrTxOverflow = errors.New("bridge tx overflow")
	// ErrFunnelClosed is returned for sends after Close.
	ErrFunnelClosed = errors.New("bridge tx funnel closed")
)

// TxFunnel fans transmissions from many client readers into a single
// worker goroutine, so a bus that is slow to admit a transmission never
// blocks a client's read loop. Enqueue is non-blocking: a full buffer
// drops the frame with ErrTxOverflow.
type TxFunnel struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	closed atomic.Bool
}

// NewTxFunnel starts the worker with a buffer of buf frames.
func NewTxFunnel(parent context.Context, buf int, send func(can.Frame) error) *TxFunnel {
	ctx, cancel := context.WithCancel(parent)
	f := &TxFunnel{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
	}
	f.wg.Add(1)
	go f.loop()
	return f
}

func (f *TxFunnel) loop() {
	defer f.wg.Done()
	for {
		select {
		case fr, ok := <-f.ch:
			if !ok {
				return
			}
			if err := f.send(fr); err != nil {
				metrics.IncError(metrics.ErrBridgeTx)
				logging.L().Warn("bridge_tx_error", "error", err, "can_id", fr.ID)
			}
		case <-f.ctx.Done():
			return
		}
	}
}

// SendFrame queues a frame for transmission or returns ErrTxOverflow.
func (f *TxFunnel) SendFrame(fr can.Frame) error {
	// Fast-path check so steady-state sends avoid taking the lock when already shut down.
	if f.closed.Load() {
		return ErrFunnelClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed.Load() {
		return ErrFunnelClosed
	}
	select {
	case f.ch <- fr:
		return nil
	default:
		metrics.IncError(metrics.ErrBridgeTx)
		return ErrTxOverflow
	}
}

// Close stops the worker and waits for it to exit.
func (f *TxFunnel) Close() {
	if f.closed.Swap(true) {
		return
	}
	f.cancel()
	f.mu.Lock()
	close(f.ch)
	f.mu.Unlock()
	f.wg.Wait()
}
