package controller

import (
	"fmt"
	"time"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
	"github.com/MrGreensWorkshop/zephyr/internal/logging"
	"github.com/MrGreensWorkshop/zephyr/internal/metrics"
	"github.com/MrGreensWorkshop/zephyr/internal/socketcan"
)

// Send queues one frame for transmission. At most one transmission is in
// flight per controller; timeout bounds only the wait for admission, not
// the completion. A negative timeout waits for admission indefinitely.
//
// With a nil callback Send blocks until the host endpoint echoes the
// frame back and then returns nil. With a callback Send returns as soon
// as the frame is written; the callback fires later on the poll loop
// goroutine once the echo arrives.
func (c *Controller) Send(fr *can.Frame, timeout time.Duration, cb TxCallback) error {
	maxDLC := uint8(can.MaxDLC)
	if c.fdMode.Load() && fr.FD {
		maxDLC = can.MaxDLCFD
	}
	if fr.DLC > maxDLC {
		return fmt.Errorf("%w: dlc %d exceeds %d", ErrInvalidFrame, fr.DLC, maxDLC)
	}
	if !c.started.Load() {
		return ErrNotStarted
	}

	raw := socketcan.FromFrame(fr)

	if err := c.takeIdle(timeout); err != nil {
		return err
	}

	c.pendMu.Lock()
	c.txCB = cb
	c.pendMu.Unlock()

	if err := c.bus.WriteFrame(raw); err != nil {
		// A frame that never reached the socket produces no echo, so
		// the permit comes back right here instead of waiting for a
		// confirmation that cannot arrive.
		c.pendMu.Lock()
		c.txCB = nil
		c.pendMu.Unlock()
		c.giveIdle()
		metrics.IncError(metrics.ErrBusWrite)
		logging.L().Error("bus_write_error", "error", err, "can_id", fr.ID, "dlc", fr.DLC)
		return fmt.Errorf("%w: %v", ErrBusIO, err)
	}
	metrics.IncTx()
	logging.L().Debug("tx_frame", "can_id", fr.ID, "kind", fr.Kind.String(), "dlc", fr.DLC, "rtr", fr.RTR)

	if cb == nil {
		select {
		case <-c.txDone:
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
	return nil
}

// takeIdle acquires the single transmit permit within timeout.
func (c *Controller) takeIdle(timeout time.Duration) error {
	select {
	case <-c.txIdle:
		return nil
	default:
	}
	if timeout == 0 {
		metrics.IncTxTimeout()
		return ErrTxTimeout
	}
	if timeout < 0 {
		select {
		case <-c.txIdle:
			return nil
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.txIdle:
		return nil
	case <-t.C:
		metrics.IncTxTimeout()
		return ErrTxTimeout
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// giveIdle returns the transmit permit; the channel caps it at one.
func (c *Controller) giveIdle() {
	select {
	case c.txIdle <- struct{}{}:
	default:
	}
}

// completeTx handles a transmission-confirmation echo observed by the
// poll loop: report completion through the pending callback or wake the
// blocked synchronous sender, then free the permit for the next Send.
func (c *Controller) completeTx() {
	c.pendMu.Lock()
	cb := c.txCB
	c.txCB = nil
	c.pendMu.Unlock()
	if cb != nil {
		cb(nil)
	} else {
		select {
		case c.txDone <- struct{}{}:
		default:
		}
	}
	c.giveIdle()
	metrics.IncTxConfirm()
}
