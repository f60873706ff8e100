package bridge

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
	"github.com/MrGreensWorkshop/zephyr/internal/hub"
)

// TestSmokeServer starts the bridge on an ephemeral port and exercises
// both directions: a client line reaching the send path and a hub
// broadcast reaching the client.
func TestSmokeServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var sent []can.Frame
	h := hub.New()
	srv := NewServer(
		WithHub(h),
		WithSend(func(fr can.Frame) error {
			mu.Lock()
			sent = append(sent, fr)
			mu.Unlock()
			return nil
		}),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Logf("Serve returned: %v", err)
		}
	}()
	select {
	case <-srv.Ready():
	case <-time.After(1 * time.Second):
		t.Fatalf("server did not signal readiness")
	}

	conn := dialBridge(t, ctx, srv.Addr())
	defer conn.Close()

	// Client -> send path.
	if _, err := conn.Write([]byte("123#010203\n")); err != nil {
		t.Fatalf("write record: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(sent)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	if len(sent) != 1 || sent[0].ID != 0x123 || sent[0].DLC != 3 {
		mu.Unlock()
		t.Fatalf("send path did not receive the client frame: %+v", sent)
	}
	mu.Unlock()

	// Hub -> client path. Wait for hub registration first.
	waitCount(t, h, 1)
	h.Broadcast(can.Frame{ID: 0x456, DLC: 2, Data: [can.MaxDLen]byte{9, 8}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if got := strings.TrimSpace(line); got != "456#0908" {
		t.Fatalf("broadcast record = %q", got)
	}
}

func TestSmokeBadRecordsAreSkipped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var sent []can.Frame
	h := hub.New()
	srv := NewServer(WithHub(h), WithSend(func(fr can.Frame) error {
		mu.Lock()
		sent = append(sent, fr)
		mu.Unlock()
		return nil
	}))
	go srv.Serve(ctx)
	<-srv.Ready()

	conn := dialBridge(t, ctx, srv.Addr())
	defer conn.Close()

	// A malformed record must not close the connection or reach the bus.
	if _, err := conn.Write([]byte("not-a-frame\n123#AA\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(sent)
		mu.Unlock()
		if n >= 1 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(sent) != 1 || sent[0].ID != 0x123 {
		t.Fatalf("expected only the valid frame, got %+v", sent)
	}
}

func TestSmokeMaxClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := hub.New()
	srv := NewServer(
		WithHub(h),
		WithSend(func(can.Frame) error { return nil }),
		WithMaxClients(1),
	)
	go srv.Serve(ctx)
	<-srv.Ready()

	c1 := dialBridge(t, ctx, srv.Addr())
	defer c1.Close()
	waitCount(t, h, 1)

	// Second client is rejected: the server closes it without serving.
	c2 := dialBridge(t, ctx, srv.Addr())
	defer c2.Close()
	_ = c2.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := c2.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected rejected connection to be closed")
	}
	if h.Count() != 1 {
		t.Fatalf("hub count = %d, want 1", h.Count())
	}
}

func TestSmokeShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	h := hub.New()
	srv := NewServer(WithHub(h), WithSend(func(can.Frame) error { return nil }))
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	<-srv.Ready()

	conn := dialBridge(t, ctx, srv.Addr())
	defer conn.Close()
	waitCount(t, h, 1)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}
	_ = conn.SetReadDeadline(time.Now().Add(1 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatalf("expected read to fail after shutdown")
	}
}

func dialBridge(t *testing.T, ctx context.Context, addr string) net.Conn {
	t.Helper()
	d := net.Dialer{Timeout: 1 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitCount(t *testing.T, h *hub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() >= want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients", want)
}
