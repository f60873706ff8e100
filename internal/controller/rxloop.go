package controller

import (
	"github.com/MrGreensWorkshop/zephyr/internal/logging"
	"github.com/MrGreensWorkshop/zephyr/internal/metrics"
	"github.com/MrGreensWorkshop/zephyr/internal/socketcan"
)

// rxLoop is the single long-lived worker owning the host endpoint's read
// side. It drains every waiting frame, routes transmission-confirmation
// echoes to the flow controller and genuine inbound frames to dispatch,
// then sleeps briefly so co-resident work is not starved. All read-side
// failures are transient: the loop only exits on Close.
func (c *Controller) rxLoop() {
	defer c.wg.Done()
	log := logging.L()
	log.Debug("rx_loop_start")
	for {
		select {
		case <-c.ctx.Done():
			log.Debug("rx_loop_end")
			return
		default:
		}
		for {
			ready, err := c.bus.PollReadable()
			if err != nil {
				if c.ctx.Err() == nil {
					metrics.IncError(metrics.ErrBusPoll)
					log.Warn("bus_poll_error", "error", err)
				}
				break
			}
			if !ready {
				break
			}
			raw, confirm, err := c.bus.ReadFrame()
			if confirm {
				c.completeTx()
				// The echo doubles as a loopback delivery: a started
				// controller in loopback mode sees its own frame.
				if !c.loopback.Load() || !c.started.Load() {
					continue
				}
			}
			if err != nil {
				if c.ctx.Err() == nil {
					metrics.IncError(metrics.ErrBusRead)
					log.Warn("bus_read_error", "error", err)
				}
				break
			}
			fr := socketcan.ToFrame(&raw)
			metrics.IncRx()
			log.Debug("rx_frame", "can_id", fr.ID, "kind", fr.Kind.String(), "dlc", fr.DLC, "rtr", fr.RTR)
			matched := c.filters.Dispatch(&fr)
			metrics.AddDispatched(matched)
		}
		// Bounded yield between poll rounds; frames are never lost to
		// it, only delayed, and it keeps a shared core responsive.
		sleepFn(c.idleSleep)
	}
}
