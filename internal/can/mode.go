package can

// Mode is a bitmask of controller operating modes.
type Mode uint32

const (
	ModeNormal   Mode = 0
	ModeLoopback Mode = 1 << 0
	ModeFD       Mode = 1 << 1
)

// State is the controller run/error state reported by state queries.
type State uint8

const (
	StateErrorActive State = iota
	StateErrorWarning
	StateErrorPassive
	StateBusOff
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateErrorActive:
		return "error-active"
	case StateErrorWarning:
		return "error-warning"
	case StateErrorPassive:
		return "error-passive"
	case StateBusOff:
		return "bus-off"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ErrorCounters holds the TX/RX error counts of a state query. The host
// socket never surfaces error frames, so the shim always reports zeros.
type ErrorCounters struct {
	TxErrors uint8
	RxErrors uint8
}

// Timing holds bit-timing parameters. The shim validates them against
// TimingMin/TimingMax and otherwise ignores them; the host endpoint owns
// the real bit timing.
type Timing struct {
	SJW       uint16
	PropSeg   uint16
	PhaseSeg1 uint16
	PhaseSeg2 uint16
	Prescaler uint16
}

var (
	TimingMin = Timing{SJW: 1, PropSeg: 1, PhaseSeg1: 1, PhaseSeg2: 1, Prescaler: 1}
	TimingMax = Timing{SJW: 0x0F, PropSeg: 0x0F, PhaseSeg1: 0x0F, PhaseSeg2: 0x0F, Prescaler: 0xFFFF}
)

// Within reports whether every field of t lies inside [min, max].
func (t Timing) Within(min, max Timing) bool {
	in := func(v, lo, hi uint16) bool { return v >= lo && v <= hi }
	return in(t.SJW, min.SJW, max.SJW) &&
		in(t.PropSeg, min.PropSeg, max.PropSeg) &&
		in(t.PhaseSeg1, min.PhaseSeg1, max.PhaseSeg1) &&
		in(t.PhaseSeg2, min.PhaseSeg2, max.PhaseSeg2) &&
		in(t.Prescaler, min.Prescaler, max.Prescaler)
}
