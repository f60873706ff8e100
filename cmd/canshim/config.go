package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	bus             string
	canIf           string
	serialDev       string
	baud            int
	serialReadTO    time.Duration
	listenAddr      string
	logFormat       string
	logLevel        string
	metricsAddr     string
	hubBuffer       int
	hubPolicy       string
	logMetricsEvery time.Duration
	maxClients      int
	clientReadTO    time.Duration
	sendTimeout     time.Duration
	maxFilters      int
	loopback        bool
	fdMode          bool
	mdnsEnable      bool
	mdnsName        string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	bus := flag.String("bus", "socketcan", "Host CAN bus: socketcan|slcan")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --bus=socketcan)")
	serialDev := flag.String("serial", "/dev/ttyUSB0", "Serial device path (when --bus=slcan)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 20*time.Millisecond, "Serial read timeout")
	listen := flag.String("listen", ":20000", "TCP listen address for the bridge")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	hubBuf := flag.Int("hub-buffer", 512, "Per-client hub buffer (frames)")
	hubPolicy := flag.String("hub-policy", "drop", "Backpressure policy: drop|kick")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	maxClients := flag.Int("max-clients", 0, "Maximum simultaneous TCP clients (0 = unlimited)")
	clientReadTO := flag.Duration("client-read-timeout", 60*time.Second, "Per-connection read deadline")
	sendTimeout := flag.Duration("send-timeout", 100*time.Millisecond, "Transmit admission deadline for bridged frames")
	maxFilters := flag.Int("max-filters", 16, "Receive filter table capacity")
	loopback := flag.Bool("loopback", false, "Enable loopback mode (self-reception of transmitted frames)")
	fdMode := flag.Bool("fd", false, "Enable CAN FD mode")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default canshim-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.bus = *bus
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.hubBuffer = *hubBuf
	cfg.hubPolicy = *hubPolicy
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.clientReadTO = *clientReadTO
	cfg.sendTimeout = *sendTimeout
	cfg.maxFilters = *maxFilters
	cfg.loopback = *loopback
	cfg.fdMode = *fdMode
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices or listeners – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.bus {
	case "socketcan", "slcan":
	default:
		return fmt.Errorf("invalid bus: %s", c.bus)
	}
	switch c.hubPolicy {
	case "drop", "kick":
	default:
		return fmt.Errorf("invalid hub-policy: %s", c.hubPolicy)
	}
	if c.bus == "slcan" && c.fdMode {
		return errors.New("fd mode is not available on slcan")
	}
	if c.hubBuffer <= 0 {
		return fmt.Errorf("hub-buffer must be > 0 (got %d)", c.hubBuffer)
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.clientReadTO <= 0 {
		return fmt.Errorf("client-read-timeout must be > 0")
	}
	if c.sendTimeout <= 0 {
		return fmt.Errorf("send-timeout must be > 0")
	}
	if c.maxFilters <= 0 {
		return fmt.Errorf("max-filters must be > 0 (got %d)", c.maxFilters)
	}
	if c.maxClients < 0 {
		return fmt.Errorf("max-clients must be >= 0")
	}
	return nil
}

// applyEnvOverrides maps CAN_SHIM_* environment variables to config fields
// unless a corresponding flag was explicitly set. Boolean & numeric parsing is lax:
// empty values ignored. Duration accepts Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int, min int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("bus", "CAN_SHIM_BUS", &c.bus)
	str("can-if", "CAN_SHIM_IF", &c.canIf)
	str("serial", "CAN_SHIM_SERIAL", &c.serialDev)
	num("baud", "CAN_SHIM_BAUD", &c.baud, 1)
	dur("serial-read-timeout", "CAN_SHIM_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("listen", "CAN_SHIM_LISTEN", &c.listenAddr)
	str("log-format", "CAN_SHIM_LOG_FORMAT", &c.logFormat)
	str("log-level", "CAN_SHIM_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CAN_SHIM_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	num("hub-buffer", "CAN_SHIM_HUB_BUFFER", &c.hubBuffer, 1)
	str("hub-policy", "CAN_SHIM_HUB_POLICY", &c.hubPolicy)
	dur("log-metrics-interval", "CAN_SHIM_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	num("max-clients", "CAN_SHIM_MAX_CLIENTS", &c.maxClients, 0)
	dur("client-read-timeout", "CAN_SHIM_CLIENT_READ_TIMEOUT", &c.clientReadTO)
	dur("send-timeout", "CAN_SHIM_SEND_TIMEOUT", &c.sendTimeout)
	num("max-filters", "CAN_SHIM_MAX_FILTERS", &c.maxFilters, 1)
	boolean("loopback", "CAN_SHIM_LOOPBACK", &c.loopback)
	boolean("fd", "CAN_SHIM_FD", &c.fdMode)
	boolean("mdns-enable", "CAN_SHIM_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "CAN_SHIM_MDNS_NAME", &c.mdnsName)
	return firstErr
}
