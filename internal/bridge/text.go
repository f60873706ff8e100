package bridge

import (
	"fmt"
	"strings"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
)

// The bridge speaks the same text framing the can-utils tools print:
//
//	123#AABBCC          standard data frame
//	00000123#AABBCC     extended data frame (8 hex id digits)
//	123#R               remote transmission request
//	123##0AABBCC        CAN FD frame (flags nibble after the second '#')
//
// One frame per line.

// FormatFrame renders a frame as one text record (no trailing newline).
func FormatFrame(fr *can.Frame) string {
	var sb strings.Builder
	if fr.Kind == can.ExtendedID {
		fmt.Fprintf(&sb, "%08X#", fr.ID&can.ExtIDMask)
	} else {
		fmt.Fprintf(&sb, "%03X#", fr.ID&can.StdIDMask)
	}
	if fr.RTR {
		sb.WriteByte('R')
		return sb.String()
	}
	if fr.FD {
		sb.WriteString("#0")
	}
	for _, b := range fr.Data[:fr.DataLength()] {
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// ParseFrame decodes one text record into a frame.
func ParseFrame(line string) (can.Frame, error) {
	var fr can.Frame
	idPart, rest, ok := strings.Cut(line, "#")
	if !ok {
		return fr, fmt.Errorf("bridge: missing '#' in %q", line)
	}
	switch len(idPart) {
	case 3:
		fr.Kind = can.StandardID
	case 8:
		fr.Kind = can.ExtendedID
	default:
		return fr, fmt.Errorf("bridge: id must be 3 or 8 hex digits, got %q", idPart)
	}
	id, err := parseHex(idPart)
	if err != nil {
		return fr, err
	}
	fr.ID = id
	if fr.Kind == can.StandardID && fr.ID > can.StdIDMask {
		return fr, fmt.Errorf("bridge: standard id 0x%X out of range", fr.ID)
	}

	if strings.HasPrefix(rest, "R") {
		fr.RTR = true
		if len(rest) > 1 {
			return fr, fmt.Errorf("bridge: trailing data on RTR record %q", line)
		}
		return fr, nil
	}
	if strings.HasPrefix(rest, "#") {
		// FD record: flags nibble then payload
		if len(rest) < 2 {
			return fr, fmt.Errorf("bridge: truncated FD record %q", line)
		}
		if _, err := parseHex(rest[1:2]); err != nil {
			return fr, err
		}
		fr.FD = true
		rest = rest[2:]
	}
	if len(rest)%2 != 0 {
		return fr, fmt.Errorf("bridge: odd hex payload length in %q", line)
	}
	n := len(rest) / 2
	max := 8
	if fr.FD {
		max = can.MaxDLen
	}
	if n > max {
		return fr, fmt.Errorf("bridge: payload %d exceeds %d bytes", n, max)
	}
	fr.DLC = can.BytesToDLC(n)
	if !fr.FD && int(fr.DLC) != n {
		// unreachable for n<=8, kept as a guard for the DLC table
		return fr, fmt.Errorf("bridge: bad classic payload length %d", n)
	}
	for i := 0; i < n; i++ {
		v, err := parseHex(rest[2*i : 2*i+2])
		if err != nil {
			return fr, err
		}
		fr.Data[i] = uint8(v)
	}
	return fr, nil
}

func parseHex(s string) (uint32, error) {
	var v uint32
	for i := 0; i < len(s); i++ {
		c := s[i]
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint32(c - '0')
		case c >= 'a' && c <= 'f':
			v |= uint32(c-'a') + 10
		case c >= 'A' && c <= 'F':
			v |= uint32(c-'A') + 10
		default:
			return 0, fmt.Errorf("bridge: bad hex digit %q", c)
		}
	}
	return v, nil
}
