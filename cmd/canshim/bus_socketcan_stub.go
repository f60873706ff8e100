//go:build !linux

package main

import (
	"errors"

	"github.com/MrGreensWorkshop/zephyr/internal/controller"
)

var openSocketCANDevice = func(cfg *appConfig) (controller.Bus, error) {
	return nil, errors.New("socketcan bus requires linux")
}
