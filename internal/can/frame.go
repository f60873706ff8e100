package can

// Identifier masks and payload limits shared by the whole shim.
const (
	StdIDMask uint32 = 0x7FF      // 11-bit identifier space
	ExtIDMask uint32 = 0x1FFFFFFF // 29-bit identifier space

	MaxDLC   = 8  // classic CAN data length code
	MaxDLCFD = 15 // CAN FD data length code
	MaxDLen  = 64 // CAN FD payload bytes
)

// IDKind tags the identifier width of a frame or filter.
type IDKind uint8

const (
	StandardID IDKind = iota // 11-bit
	ExtendedID               // 29-bit
)

func (k IDKind) String() string {
	if k == ExtendedID {
		return "extended"
	}
	return "standard"
}

// Frame is the controller-facing CAN frame. ID carries no flag bits; the
// width, RTR and FD properties are explicit fields. Only the first
// DataLength() bytes of Data are meaningful.
//
// Frames handed to receive callbacks are always independent copies, so a
// callback may scribble on its frame without affecting other consumers.
type Frame struct {
	ID   uint32
	Kind IDKind
	DLC  uint8
	RTR  bool
	FD   bool
	Data [MaxDLen]byte
}

// dlcToBytes maps a CAN FD data length code to a payload byte count.
var dlcToBytes = [16]uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// DataLength returns the payload byte count encoded by the frame's DLC.
func (f Frame) DataLength() int {
	if int(f.DLC) >= len(dlcToBytes) {
		return MaxDLen
	}
	return int(dlcToBytes[f.DLC])
}

// BytesToDLC returns the smallest DLC holding n payload bytes.
func BytesToDLC(n int) uint8 {
	for dlc, l := range dlcToBytes {
		if int(l) >= n {
			return uint8(dlc)
		}
	}
	return MaxDLCFD
}

// MaskedID returns the identifier truncated to the frame's width.
func (f Frame) MaskedID() uint32 {
	if f.Kind == ExtendedID {
		return f.ID & ExtIDMask
	}
	return f.ID & StdIDMask
}
