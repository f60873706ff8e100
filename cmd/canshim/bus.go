package main

import (
	"fmt"

	"github.com/MrGreensWorkshop/zephyr/internal/controller"
	"github.com/MrGreensWorkshop/zephyr/internal/slcan"
)

// openSLCANDevice is a hook for tests (overridden in unit tests).
var openSLCANDevice = func(cfg *appConfig) (controller.Bus, error) {
	return slcan.Open(cfg.serialDev, cfg.baud, cfg.serialReadTO)
}

// openBus opens the configured host bus endpoint.
func openBus(cfg *appConfig) (controller.Bus, error) {
	switch cfg.bus {
	case "socketcan":
		return openSocketCANDevice(cfg)
	case "slcan":
		return openSLCANDevice(cfg)
	default:
		return nil, fmt.Errorf("unknown bus %q (use socketcan|slcan)", cfg.bus)
	}
}
