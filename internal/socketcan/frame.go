package socketcan

import (
	"encoding/binary"
	"fmt"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
)

// Flag bits carried in the raw can_id word (same values as <linux/can.h>).
const (
	EFFFlag = 0x80000000
	RTRFlag = 0x40000000
	ERRFlag = 0x20000000
)

// Wire sizes of struct can_frame and struct canfd_frame.
const (
	ClassicMTU = 16
	FDMTU      = 72
)

// RawFrame mirrors the host socket's frame layout: the identifier word
// with EFF/RTR/ERR flags folded into its upper bits, the payload length
// in bytes, and the FD flags byte (only meaningful when FD is set).
type RawFrame struct {
	CANID uint32
	Len   uint8
	Flags uint8
	FD    bool
	Data  [can.MaxDLen]byte
}

// FromFrame translates a controller frame to the raw socket layout.
// Stateless; safe for concurrent use.
func FromFrame(fr *can.Frame) RawFrame {
	var raw RawFrame
	raw.CANID = fr.MaskedID()
	if fr.Kind == can.ExtendedID {
		raw.CANID |= EFFFlag
	}
	if fr.RTR {
		raw.CANID |= RTRFlag
	}
	raw.FD = fr.FD
	raw.Len = uint8(fr.DataLength())
	copy(raw.Data[:], fr.Data[:raw.Len])
	return raw
}

// ToFrame translates a raw socket frame to the controller layout.
// Stateless; safe for concurrent use.
func ToFrame(raw *RawFrame) can.Frame {
	var fr can.Frame
	if raw.CANID&EFFFlag != 0 {
		fr.Kind = can.ExtendedID
		fr.ID = raw.CANID & can.ExtIDMask
	} else {
		fr.Kind = can.StandardID
		fr.ID = raw.CANID & can.StdIDMask
	}
	fr.RTR = raw.CANID&RTRFlag != 0
	fr.FD = raw.FD
	fr.DLC = can.BytesToDLC(int(raw.Len))
	copy(fr.Data[:], raw.Data[:raw.Len])
	return fr
}

// Marshal encodes raw into the kernel wire layout: 16 bytes for classic
// frames, 72 for FD.
//
// struct can_frame / canfd_frame (linux/can.h):
//
//	can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
//	len     u8    [4]
//	flags   u8    [5]    (FD only; pad byte for classic)
//	pad     2B    [6:8]
//	data          [8:]
//
// The kernel expects host byte order; little-endian is assumed, which
// covers the common Linux targets.
func (raw *RawFrame) Marshal() []byte {
	size := ClassicMTU
	if raw.FD {
		size = FDMTU
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf[0:4], raw.CANID)
	n := int(raw.Len)
	if !raw.FD && n > 8 {
		n = 8
	}
	buf[4] = uint8(n)
	if raw.FD {
		buf[5] = raw.Flags
	}
	copy(buf[8:], raw.Data[:n])
	return buf
}

// Unmarshal decodes one kernel frame, distinguishing classic from FD by
// the read size.
func (raw *RawFrame) Unmarshal(buf []byte) error {
	switch len(buf) {
	case ClassicMTU:
		raw.FD = false
		raw.Flags = 0
	case FDMTU:
		raw.FD = true
		raw.Flags = buf[5]
	default:
		return fmt.Errorf("socketcan: bad frame size %d", len(buf))
	}
	raw.CANID = binary.LittleEndian.Uint32(buf[0:4])
	raw.Len = buf[4]
	max := uint8(8)
	if raw.FD {
		max = can.MaxDLen
	}
	if raw.Len > max {
		raw.Len = max
	}
	raw.Data = [can.MaxDLen]byte{}
	copy(raw.Data[:], buf[8:8+int(raw.Len)])
	return nil
}
