// Package slcan adapts a serial-line CAN (SLCAN) adapter to the same
// host bus contract the raw socket fulfills, so the controller can front
// USB serial dongles. SLCAN hardware never echoes transmitted frames, so
// the adapter synthesises the confirmation pseudo-frame itself after a
// successful write.
package slcan

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
	"github.com/MrGreensWorkshop/zephyr/internal/metrics"
	"github.com/MrGreensWorkshop/zephyr/internal/socketcan"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// OpenPort opens the underlying serial device. A short read timeout
// keeps the poll loop's reads bounded.
func OpenPort(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

const readBufSize = 512

// Device speaks the SLCAN ASCII protocol over a serial port. Reads are
// the controller poll loop's alone; writes happen under the transmit
// admission token; only the synthesized echo queue is shared between the
// two sides and carries its own lock.
type Device struct {
	port Port

	acc     []byte               // unparsed serial bytes
	pending []socketcan.RawFrame // parsed inbound frames
	readBuf [readBufSize]byte

	echoMu sync.Mutex
	echo   []socketcan.RawFrame
}

// Open opens an SLCAN device on the named serial port.
func Open(name string, baud int, readTimeout time.Duration) (*Device, error) {
	p, err := OpenPort(name, baud, readTimeout)
	if err != nil {
		return nil, fmt.Errorf("open slcan %s: %w", name, err)
	}
	return NewDevice(p), nil
}

// NewDevice wraps an already-open port (used by tests).
func NewDevice(p Port) *Device {
	return &Device{port: p}
}

func (d *Device) Close() error { return d.port.Close() }

// SetFDFrames rejects enabling FD; SLCAN carries classic frames only.
func (d *Device) SetFDFrames(enabled bool) error {
	if enabled {
		return errors.New("slcan: CAN FD not supported")
	}
	return nil
}

// PollReadable drains the serial port into the line accumulator and
// reports whether a frame (inbound or synthesized echo) is waiting.
func (d *Device) PollReadable() (bool, error) {
	d.echoMu.Lock()
	hasEcho := len(d.echo) > 0
	d.echoMu.Unlock()
	if hasEcho || len(d.pending) > 0 {
		return true, nil
	}
	n, err := d.port.Read(d.readBuf[:])
	if n > 0 {
		d.acc = append(d.acc, d.readBuf[:n]...)
		d.parseAccumulated()
	}
	if err != nil && !errors.Is(err, io.EOF) {
		// Read timeouts surface as EOF on this serial stack; anything
		// else is a genuine port error.
		return len(d.pending) > 0, err
	}
	return len(d.pending) > 0, nil
}

// ReadFrame returns the next waiting frame, echoes first.
func (d *Device) ReadFrame() (socketcan.RawFrame, bool, error) {
	d.echoMu.Lock()
	if len(d.echo) > 0 {
		raw := d.echo[0]
		d.echo = d.echo[1:]
		d.echoMu.Unlock()
		return raw, true, nil
	}
	d.echoMu.Unlock()
	if len(d.pending) > 0 {
		raw := d.pending[0]
		d.pending = d.pending[1:]
		return raw, false, nil
	}
	return socketcan.RawFrame{}, false, io.EOF
}

// WriteFrame encodes and writes one frame, then queues its confirmation
// echo. A failed write queues nothing: no echo will ever arrive for it.
func (d *Device) WriteFrame(raw socketcan.RawFrame) error {
	line, err := EncodeFrame(&raw)
	if err != nil {
		return err
	}
	if _, err := d.port.Write(line); err != nil {
		metrics.IncError(metrics.ErrSlcanWrite)
		return err
	}
	d.echoMu.Lock()
	d.echo = append(d.echo, raw)
	d.echoMu.Unlock()
	return nil
}

// parseAccumulated consumes complete CR-terminated records from the
// accumulator, keeping any trailing partial record for the next read.
func (d *Device) parseAccumulated() {
	for {
		i := indexByte(d.acc, '\r')
		if i < 0 {
			// Reclaim the backing array once fully drained after growth.
			if len(d.acc) == 0 && cap(d.acc) > 4*readBufSize {
				d.acc = nil
			}
			return
		}
		rec := d.acc[:i]
		d.acc = d.acc[i+1:]
		if len(rec) == 0 {
			continue
		}
		raw, err := ParseFrame(rec)
		if err != nil {
			if !errors.Is(err, errNotAFrame) {
				metrics.IncError(metrics.ErrSlcanParse)
			}
			continue
		}
		d.pending = append(d.pending, raw)
	}
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// errNotAFrame marks adapter status records ('z', version replies, bell)
// that are valid protocol but carry no frame.
var errNotAFrame = errors.New("slcan: not a frame record")

const hexDigits = "0123456789ABCDEF"

// EncodeFrame renders one classic frame as an SLCAN transmit record:
// 't'/'T' for standard/extended data frames, 'r'/'R' for RTR, a hex
// identifier, the length digit, hex payload, CR terminator.
func EncodeFrame(raw *socketcan.RawFrame) ([]byte, error) {
	if raw.FD {
		return nil, errors.New("slcan: CAN FD frame not representable")
	}
	n := int(raw.Len)
	if n > 8 {
		return nil, fmt.Errorf("slcan: payload %d exceeds classic CAN", n)
	}
	ext := raw.CANID&socketcan.EFFFlag != 0
	rtr := raw.CANID&socketcan.RTRFlag != 0
	var out []byte
	switch {
	case ext && rtr:
		out = append(out, 'R')
	case ext:
		out = append(out, 'T')
	case rtr:
		out = append(out, 'r')
	default:
		out = append(out, 't')
	}
	idDigits := 3
	id := raw.CANID & can.StdIDMask
	if ext {
		idDigits = 8
		id = raw.CANID & can.ExtIDMask
	}
	for shift := (idDigits - 1) * 4; shift >= 0; shift -= 4 {
		out = append(out, hexDigits[(id>>shift)&0xF])
	}
	out = append(out, hexDigits[n])
	if !rtr {
		for _, b := range raw.Data[:n] {
			out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
		}
	}
	return append(out, '\r'), nil
}

// ParseFrame decodes one SLCAN record (without the CR terminator).
func ParseFrame(rec []byte) (socketcan.RawFrame, error) {
	var raw socketcan.RawFrame
	if len(rec) == 0 {
		return raw, errNotAFrame
	}
	var ext, rtr bool
	switch rec[0] {
	case 't':
	case 'T':
		ext = true
	case 'r':
		rtr = true
	case 'R':
		ext, rtr = true, true
	case 'z', 'Z', 0x07:
		// transmit ack / error bell
		return raw, errNotAFrame
	default:
		return raw, errNotAFrame
	}
	idDigits := 3
	if ext {
		idDigits = 8
	}
	if len(rec) < 1+idDigits+1 {
		return raw, fmt.Errorf("slcan: truncated record %q", rec)
	}
	id, err := parseHex(rec[1 : 1+idDigits])
	if err != nil {
		return raw, err
	}
	dlen := rec[1+idDigits]
	if dlen < '0' || dlen > '8' {
		return raw, fmt.Errorf("slcan: bad length digit %q", dlen)
	}
	n := int(dlen - '0')
	raw.CANID = id
	if ext {
		raw.CANID &= can.ExtIDMask
		raw.CANID |= socketcan.EFFFlag
	} else {
		raw.CANID &= can.StdIDMask
	}
	if rtr {
		raw.CANID |= socketcan.RTRFlag
	}
	raw.Len = uint8(n)
	if !rtr {
		body := rec[1+idDigits+1:]
		if len(body) < 2*n {
			return raw, fmt.Errorf("slcan: payload shorter than length %d", n)
		}
		for i := 0; i < n; i++ {
			v, err := parseHex(body[2*i : 2*i+2])
			if err != nil {
				return raw, err
			}
			raw.Data[i] = uint8(v)
		}
	}
	return raw, nil
}

func parseHex(b []byte) (uint32, error) {
	var v uint32
	for _, c := range b {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint32(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uint32(c-'A') + 10
		default:
			return 0, fmt.Errorf("slcan: bad hex digit %q", c)
		}
	}
	return v, nil
}
