package can

import "testing"

func TestDataLength(t *testing.T) {
	tests := []struct {
		dlc  uint8
		want int
	}{
		{0, 0}, {1, 1}, {8, 8}, {9, 12}, {10, 16}, {13, 32}, {15, 64},
	}
	for _, tc := range tests {
		fr := Frame{DLC: tc.dlc}
		if got := fr.DataLength(); got != tc.want {
			t.Fatalf("dlc %d: expected %d bytes, got %d", tc.dlc, tc.want, got)
		}
	}
}

func TestBytesToDLC(t *testing.T) {
	tests := []struct {
		n    int
		want uint8
	}{
		{0, 0}, {3, 3}, {8, 8}, {9, 9}, {12, 9}, {13, 10}, {48, 14}, {49, 15}, {64, 15},
	}
	for _, tc := range tests {
		if got := BytesToDLC(tc.n); got != tc.want {
			t.Fatalf("%d bytes: expected dlc %d, got %d", tc.n, tc.want, got)
		}
	}
}

func TestMaskedID(t *testing.T) {
	fr := Frame{ID: 0xFFFFFFFF, Kind: StandardID}
	if got := fr.MaskedID(); got != StdIDMask {
		t.Fatalf("standard mask: got 0x%X", got)
	}
	fr.Kind = ExtendedID
	if got := fr.MaskedID(); got != ExtIDMask {
		t.Fatalf("extended mask: got 0x%X", got)
	}
}
