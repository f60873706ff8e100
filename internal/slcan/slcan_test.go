package slcan

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
	"github.com/MrGreensWorkshop/zephyr/internal/socketcan"
)

// fakePort implements Port for tests.
type fakePort struct {
	mu     sync.Mutex
	reads  [][]byte
	idx    int
	writes [][]byte
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx >= len(f.reads) {
		return 0, io.EOF // read timeout
	}
	chunk := f.reads[f.idx]
	f.idx++
	return copy(p, chunk), nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakePort) Close() error { return nil }

func TestEncodeFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  socketcan.RawFrame
		want string
	}{
		{"standard data", socketcan.RawFrame{CANID: 0x123, Len: 2, Data: [can.MaxDLen]byte{0xAA, 0xBB}}, "t1232AABB\r"},
		{"extended data", socketcan.RawFrame{CANID: 0x1ABCDE42 | socketcan.EFFFlag, Len: 1, Data: [can.MaxDLen]byte{0x7F}}, "T1ABCDE4217F\r"},
		{"standard rtr", socketcan.RawFrame{CANID: 0x456 | socketcan.RTRFlag, Len: 4}, "r4564\r"},
		{"extended rtr", socketcan.RawFrame{CANID: 0x42 | socketcan.EFFFlag | socketcan.RTRFlag, Len: 0}, "R000000420\r"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeFrame(&tc.raw)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if string(got) != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestEncodeFrameRejectsFD(t *testing.T) {
	raw := socketcan.RawFrame{CANID: 0x1, Len: 12, FD: true}
	if _, err := EncodeFrame(&raw); err == nil {
		t.Fatalf("expected error for FD frame")
	}
}

func TestParseFrameRoundTrip(t *testing.T) {
	orig := socketcan.RawFrame{CANID: 0x7ED, Len: 3, Data: [can.MaxDLen]byte{0x01, 0x02, 0x03}}
	line, err := EncodeFrame(&orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := ParseFrame(bytes.TrimSuffix(line, []byte("\r")))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != orig {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, orig)
	}
}

func TestParseFrameErrors(t *testing.T) {
	for _, rec := range []string{"t12", "t12X2AABB", "t1239AA", "t1232AA", "x123"} {
		if _, err := ParseFrame([]byte(rec)); err == nil {
			t.Fatalf("expected error for %q", rec)
		}
	}
}

func TestParseFrameSkipsStatusRecords(t *testing.T) {
	for _, rec := range []string{"z", "Z", "\x07"} {
		if _, err := ParseFrame([]byte(rec)); err != errNotAFrame {
			t.Fatalf("expected errNotAFrame for %q, got %v", rec, err)
		}
	}
}

func TestWriteQueuesSyntheticEcho(t *testing.T) {
	port := &fakePort{}
	d := NewDevice(port)
	raw := socketcan.RawFrame{CANID: 0x123, Len: 1, Data: [can.MaxDLen]byte{0x99}}
	if err := d.WriteFrame(raw); err != nil {
		t.Fatalf("write: %v", err)
	}
	ready, err := d.PollReadable()
	if err != nil || !ready {
		t.Fatalf("expected readable after write, got %v %v", ready, err)
	}
	got, confirm, err := d.ReadFrame()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !confirm {
		t.Fatalf("synthesized echo not flagged as confirmation")
	}
	if got != raw {
		t.Fatalf("echo mismatch: %+v", got)
	}
}

func TestReadParsesSerialRecords(t *testing.T) {
	port := &fakePort{reads: [][]byte{
		[]byte("t12"), // record split across reads
		[]byte("32AABB\rT000001081122334455667788\rz\r"),
	}}
	d := NewDevice(port)

	// first poll consumes the partial record only
	ready, err := d.PollReadable()
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if ready {
		t.Fatalf("partial record reported readable")
	}
	ready, err = d.PollReadable()
	if err != nil || !ready {
		t.Fatalf("expected readable, got %v %v", ready, err)
	}

	got, confirm, err := d.ReadFrame()
	if err != nil || confirm {
		t.Fatalf("read: confirm=%v err=%v", confirm, err)
	}
	if got.CANID != 0x123 || got.Len != 2 || got.Data[0] != 0xAA || got.Data[1] != 0xBB {
		t.Fatalf("first frame mismatch: %+v", got)
	}
	got, _, err = d.ReadFrame()
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if got.CANID&socketcan.EFFFlag == 0 || got.CANID&can.ExtIDMask != 0x108 || got.Len != 8 {
		t.Fatalf("second frame mismatch: %+v", got)
	}
	// the 'z' ack produced no frame
	if _, _, err := d.ReadFrame(); err != io.EOF {
		t.Fatalf("expected io.EOF after draining, got %v", err)
	}
}

func TestSetFDFrames(t *testing.T) {
	d := NewDevice(&fakePort{})
	if err := d.SetFDFrames(false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := d.SetFDFrames(true); err == nil {
		t.Fatalf("expected error enabling FD on slcan")
	}
}
