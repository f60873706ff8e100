// Package controller implements a CAN-controller control surface on top
// of a host raw-CAN endpoint. The upper bus stack sees start/stop, mode
// and timing configuration, frame transmission with flow control, and
// receive filters; every operation is forwarded to the host bus handle.
package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
	"github.com/MrGreensWorkshop/zephyr/internal/filter"
	"github.com/MrGreensWorkshop/zephyr/internal/logging"
	"github.com/MrGreensWorkshop/zephyr/internal/metrics"
	"github.com/MrGreensWorkshop/zephyr/internal/socketcan"
)

// CoreClockHz is the fixed nominal core clock reported by CoreClock.
// The host endpoint owns real timing; 16 MHz is a realistic placeholder.
const CoreClockHz = 16_000_000

const (
	defaultMaxFilters = 16
	defaultIdleSleep  = time.Millisecond
)

// sleepFn allows tests to intercept the poll loop's idle sleep.
var sleepFn = time.Sleep

// Bus is the host endpoint capability the controller drives. Implemented
// by *socketcan.Device in production, by *slcan.Device for serial
// adapters, and by fakes in tests.
//
// The controller reads only from its single poll loop goroutine and
// writes only while holding the transmit admission token, so
// implementations need no internal locking of the data path.
type Bus interface {
	// PollReadable reports whether a frame is waiting, without blocking
	// beyond a zero/short poll.
	PollReadable() (bool, error)
	// ReadFrame reads one raw frame; the bool is true for the echoed
	// confirmation of a frame written through this handle.
	ReadFrame() (socketcan.RawFrame, bool, error)
	WriteFrame(socketcan.RawFrame) error
	SetFDFrames(enabled bool) error
	Close() error
}

// TxCallback reports asynchronous transmit completion. The error is nil
// once the host endpoint has echoed the frame back.
type TxCallback func(err error)

// Controller is one shim instance. Exactly two kinds of actors touch it:
// the single receive poll loop spawned by New, and arbitrarily many
// caller goroutines using the control surface.
type Controller struct {
	bus Bus

	started  atomic.Bool
	loopback atomic.Bool
	fdMode   atomic.Bool

	// txIdle holds one permit: available means no transmission is in
	// flight. txDone is the rendezvous a synchronous Send blocks on.
	txIdle chan struct{}
	txDone chan struct{}

	// pendMu guards the pending completion record. The admission token
	// alone does not order the sender's store against the poll loop's
	// load, so the record gets its own lock.
	pendMu sync.Mutex
	txCB   TxCallback

	filters *filter.Table

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	idleSleep time.Duration
}

// Option customizes a Controller.
type Option func(*Controller)

// WithMaxFilters sets the receive filter table capacity.
func WithMaxFilters(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.filters = filter.NewTable(n)
		}
	}
}

// WithIdleSleep sets the poll loop's idle sleep. The sleep only yields
// the processor between polls; it is not a protocol requirement.
func WithIdleSleep(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.idleSleep = d
		}
	}
}

// New creates a controller over an already-open host endpoint and starts
// its receive poll loop. The controller starts in the Stopped state.
func New(bus Bus, opts ...Option) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		bus:       bus,
		txIdle:    make(chan struct{}, 1),
		txDone:    make(chan struct{}, 1),
		filters:   filter.NewTable(defaultMaxFilters),
		ctx:       ctx,
		cancel:    cancel,
		idleSleep: defaultIdleSleep,
	}
	c.txIdle <- struct{}{}
	for _, o := range opts {
		o(c)
	}
	c.wg.Add(1)
	go c.rxLoop()
	return c
}

// Close stops the poll loop and closes the host endpoint. Blocked Send
// calls fail with ErrClosed. Safe to call more than once.
func (c *Controller) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	return c.bus.Close()
}

// Start moves the controller to the Started state.
func (c *Controller) Start() error {
	if c.started.Swap(true) {
		return ErrAlreadyStarted
	}
	logging.L().Debug("controller_started")
	return nil
}

// Stop moves the controller back to the Stopped state.
func (c *Controller) Stop() error {
	if !c.started.Swap(false) {
		return ErrAlreadyStopped
	}
	logging.L().Debug("controller_stopped")
	return nil
}

// Capabilities returns the mode bits this controller supports.
func (c *Controller) Capabilities() can.Mode {
	return can.ModeNormal | can.ModeLoopback | can.ModeFD
}

// SetMode configures loopback and FD operation. Only valid while
// stopped. Loopback is handled inside the poll loop; FD is pushed down
// to the host endpoint.
func (c *Controller) SetMode(mode can.Mode) error {
	if mode&^(can.ModeLoopback|can.ModeFD) != 0 {
		return fmt.Errorf("%w: 0x%08x", ErrNotSupported, uint32(mode))
	}
	if c.started.Load() {
		return ErrBusy
	}
	c.loopback.Store(mode&can.ModeLoopback != 0)
	fd := mode&can.ModeFD != 0
	c.fdMode.Store(fd)
	if err := c.bus.SetFDFrames(fd); err != nil {
		return fmt.Errorf("%w: %v", ErrBusIO, err)
	}
	return nil
}

// SetTiming validates nominal bit-timing parameters. Only valid while
// stopped. No hardware is programmed; the host endpoint owns timing.
func (c *Controller) SetTiming(t can.Timing) error {
	if c.started.Load() {
		return ErrBusy
	}
	if !t.Within(can.TimingMin, can.TimingMax) {
		return ErrTimingRange
	}
	return nil
}

// SetTimingData is SetTiming for the FD data phase.
func (c *Controller) SetTimingData(t can.Timing) error {
	return c.SetTiming(t)
}

// State reports the run state and error counters. The host socket does
// not surface CAN error detail, so a started controller always reads as
// error-active with zero counters.
func (c *Controller) State() (can.State, can.ErrorCounters) {
	if !c.started.Load() {
		return can.StateStopped, can.ErrorCounters{}
	}
	return can.StateErrorActive, can.ErrorCounters{}
}

// Recover is the bus-off recovery entry point. The shim never reaches
// bus-off, so it only checks the run state.
func (c *Controller) Recover(timeout time.Duration) error {
	_ = timeout
	if !c.started.Load() {
		return ErrNotStarted
	}
	return nil
}

// SetStateChangeCallback accepts and discards a state change callback;
// the host endpoint never reports state transitions.
func (c *Controller) SetStateChangeCallback(cb func(can.State, can.ErrorCounters)) {
	_ = cb
}

// CoreClock returns the fixed nominal core clock rate in Hz.
func (c *Controller) CoreClock() uint32 { return CoreClockHz }

// MaxFilters returns the receive filter table capacity.
func (c *Controller) MaxFilters() int { return c.filters.Capacity() }

// AddRxFilter registers a receive filter. cb runs on the poll loop
// goroutine with its own copy of each matched frame; it must not block
// and must not call back into filter registration. The returned id is
// required for removal and may be reused after removal.
func (c *Controller) AddRxFilter(f can.Filter, cb func(can.Frame)) (int, error) {
	id, err := c.filters.Add(f, cb)
	if err != nil {
		return id, err
	}
	metrics.SetActiveFilters(c.filters.Active())
	logging.L().Debug("rx_filter_added", "id", id, "can_id", f.ID, "mask", f.Mask, "kind", f.Kind.String())
	return id, nil
}

// RemoveRxFilter removes a previously registered filter. Unknown ids are
// a no-op so teardown stays idempotent.
func (c *Controller) RemoveRxFilter(id int) {
	c.filters.Remove(id)
	metrics.SetActiveFilters(c.filters.Active())
	logging.L().Debug("rx_filter_removed", "id", id)
}
