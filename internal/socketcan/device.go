//go:build linux

package socketcan

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Device is a raw CAN socket bound to one host interface. Reads are the
// poll loop's alone; writes are serialized by the controller's transmit
// admission token, so the fd itself needs no lock.
type Device struct {
	fd int
}

// Open creates a raw CAN socket on the named interface. Reception of the
// socket's own transmitted frames is enabled so writes are observed back
// as confirmation reads (MSG_CONFIRM).
func Open(iface string) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("enable own-msg echo: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// SetFDFrames toggles CAN FD frame reception/transmission on the socket.
// Older kernels may not know the option; disabling on such kernels is
// not an error.
func (d *Device) SetFDFrames(enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	if err := unix.SetsockoptInt(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, v); err != nil {
		if !enabled && err == unix.ENOPROTOOPT {
			return nil
		}
		return fmt.Errorf("set CAN FD frames: %w", err)
	}
	return nil
}

// PollReadable reports whether a frame is waiting, returning immediately
// (zero poll timeout).
func (d *Device) PollReadable() (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, err
	}
	return n > 0 && fds[0].Revents&unix.POLLIN != 0, nil
}

// ReadFrame reads one frame. The second result is true when the read is
// the kernel's confirmation echo of a frame written on this socket.
func (d *Device) ReadFrame() (RawFrame, bool, error) {
	var raw RawFrame
	var buf [FDMTU]byte
	n, _, recvflags, _, err := unix.Recvmsg(d.fd, buf[:], nil, 0)
	if err != nil {
		return raw, false, err
	}
	confirm := recvflags&unix.MSG_CONFIRM != 0
	if err := raw.Unmarshal(buf[:n]); err != nil {
		return raw, confirm, err
	}
	return raw, confirm, nil
}

// WriteFrame writes one frame to the raw CAN socket.
func (d *Device) WriteFrame(raw RawFrame) error {
	_, err := unix.Write(d.fd, raw.Marshal())
	return err
}
