package bridge

import (
	"testing"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
)

func TestFormatFrame(t *testing.T) {
	tests := []struct {
		name string
		fr   can.Frame
		want string
	}{
		{"standard", can.Frame{ID: 0x123, DLC: 3, Data: [can.MaxDLen]byte{0xAA, 0xBB, 0xCC}}, "123#AABBCC"},
		{"extended", can.Frame{ID: 0x1ABCDE42, Kind: can.ExtendedID, DLC: 1, Data: [can.MaxDLen]byte{0x7F}}, "1ABCDE42#7F"},
		{"rtr", can.Frame{ID: 0x456, DLC: 2, RTR: true}, "456#R"},
		{"fd", can.Frame{ID: 0x10, FD: true, DLC: 9, Data: [can.MaxDLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}, "010##00102030405060708090A0B0C"},
		{"empty payload", can.Frame{ID: 0x7FF}, "7FF#"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatFrame(&tc.fr); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name string
		line string
		want can.Frame
	}{
		{"standard", "123#AABBCC", can.Frame{ID: 0x123, DLC: 3, Data: [can.MaxDLen]byte{0xAA, 0xBB, 0xCC}}},
		{"extended", "00000108#11", can.Frame{ID: 0x108, Kind: can.ExtendedID, DLC: 1, Data: [can.MaxDLen]byte{0x11}}},
		{"rtr", "456#R", can.Frame{ID: 0x456, RTR: true}},
		{"fd", "010##00102030405060708090A0B0C", can.Frame{ID: 0x10, FD: true, DLC: 9, Data: [can.MaxDLen]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}},
		{"lowercase hex", "0ab#ff", can.Frame{ID: 0xAB, DLC: 1, Data: [can.MaxDLen]byte{0xFF}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseFrame(tc.line)
			if err != nil {
				t.Fatalf("parse %q: %v", tc.line, err)
			}
			if got != tc.want {
				t.Fatalf("parse %q:\n got %+v\nwant %+v", tc.line, got, tc.want)
			}
		})
	}
}

func TestParseFrameErrors(t *testing.T) {
	lines := []string{
		"123",                      // no separator
		"12#AA",                    // id width
		"1234#AA",                  // id width
		"123#AAB",                  // odd payload
		"123#RAA",                  // data after RTR
		"123#112233445566778899",   // 9 bytes on classic
		"123##",                    // truncated FD record
		"123#GG",                   // bad hex
		"FFF#AA",                   // standard id out of range
	}
	for _, line := range lines {
		if _, err := ParseFrame(line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	frames := []can.Frame{
		{ID: 0x7FF, DLC: 8, Data: [can.MaxDLen]byte{0, 1, 2, 3, 4, 5, 6, 7}},
		{ID: 0x1FFFFFFF, Kind: can.ExtendedID, DLC: 0},
		{ID: 0x1, RTR: true},
	}
	for _, fr := range frames {
		got, err := ParseFrame(FormatFrame(&fr))
		if err != nil {
			t.Fatalf("round trip %+v: %v", fr, err)
		}
		if got != fr {
			t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, fr)
		}
	}
}
