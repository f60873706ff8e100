package main

import (
	"testing"
	"time"
)

func defaultTestConfig() *appConfig {
	return &appConfig{
		bus:          "socketcan",
		canIf:        "can0",
		serialDev:    "/dev/ttyUSB0",
		baud:         115200,
		serialReadTO: 20 * time.Millisecond,
		listenAddr:   ":20000",
		logFormat:    "text",
		logLevel:     "info",
		hubBuffer:    512,
		hubPolicy:    "drop",
		clientReadTO: 60 * time.Second,
		sendTimeout:  100 * time.Millisecond,
		maxFilters:   16,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*appConfig)
		wantErr bool
	}{
		{"defaults", func(c *appConfig) {}, false},
		{"slcan bus", func(c *appConfig) { c.bus = "slcan" }, false},
		{"json logs", func(c *appConfig) { c.logFormat = "json" }, false},
		{"kick policy", func(c *appConfig) { c.hubPolicy = "kick" }, false},
		{"fd on socketcan", func(c *appConfig) { c.fdMode = true }, false},
		{"bad bus", func(c *appConfig) { c.bus = "virtio" }, true},
		{"bad log format", func(c *appConfig) { c.logFormat = "yaml" }, true},
		{"bad log level", func(c *appConfig) { c.logLevel = "trace" }, true},
		{"bad hub policy", func(c *appConfig) { c.hubPolicy = "block" }, true},
		{"fd on slcan", func(c *appConfig) { c.bus = "slcan"; c.fdMode = true }, true},
		{"zero hub buffer", func(c *appConfig) { c.hubBuffer = 0 }, true},
		{"negative baud", func(c *appConfig) { c.baud = -1 }, true},
		{"zero serial read timeout", func(c *appConfig) { c.serialReadTO = 0 }, true},
		{"zero client read timeout", func(c *appConfig) { c.clientReadTO = 0 }, true},
		{"zero send timeout", func(c *appConfig) { c.sendTimeout = 0 }, true},
		{"zero max filters", func(c *appConfig) { c.maxFilters = 0 }, true},
		{"negative max clients", func(c *appConfig) { c.maxClients = -1 }, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultTestConfig()
			tc.mutate(cfg)
			err := cfg.validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateNilConfig(t *testing.T) {
	var c *appConfig
	if err := c.validate(); err == nil {
		t.Fatalf("expected error for nil config")
	}
}
