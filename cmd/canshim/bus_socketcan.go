//go:build linux

package main

import (
	"github.com/MrGreensWorkshop/zephyr/internal/controller"
	"github.com/MrGreensWorkshop/zephyr/internal/socketcan"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(cfg *appConfig) (controller.Bus, error) {
	return socketcan.Open(cfg.canIf)
}
