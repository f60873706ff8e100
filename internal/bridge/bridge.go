// Package bridge exposes the controller's receive stream to TCP clients
// and accepts frames from them for transmission, one text record per
// line.
package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrGreensWorkshop/zephyr/internal/can"
	"github.com/MrGreensWorkshop/zephyr/internal/hub"
	"github.com/MrGreensWorkshop/zephyr/internal/logging"
	"github.com/MrGreensWorkshop/zephyr/internal/metrics"
)

// SendFunc hands a client frame to the transmit path.
type SendFunc func(can.Frame) error

const (
	defaultOutBufSize   = 256
	defaultReadDeadline = 60 * time.Second
)

// Server owns the TCP listener and the per-client pumps.
type Server struct {
	mu   sync.RWMutex
	addr string

	Hub  *hub.Hub
	Send SendFunc

	readDeadline time.Duration
	maxClients   int
	readyOnce    sync.Once
	readyCh      chan struct{}
	listener     net.Listener
	wg           sync.WaitGroup
	logger       *slog.Logger
	nextConnID   uint64
}

type Option func(*Server)

func NewServer(opts ...Option) *Server {
	s := &Server{
		readDeadline: defaultReadDeadline,
		readyCh:      make(chan struct{}),
		logger:       logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) Option      { return func(s *Server) { s.addr = a } }
func WithHub(h *hub.Hub) Option           { return func(s *Server) { s.Hub = h } }
func WithSend(send SendFunc) Option       { return func(s *Server) { s.Send = send } }
func WithLogger(l *slog.Logger) Option    { return func(s *Server) { s.logger = l } }
func WithMaxClients(n int) Option         { return func(s *Server) { s.maxClients = n } }
func WithReadDeadline(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve accepts clients until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("bridge listen %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("bridge_listen", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.wg.Wait()
			return fmt.Errorf("bridge accept: %w", err)
		}
		if s.maxClients > 0 && s.Hub.Count() >= s.maxClients {
			metrics.IncHubReject()
			s.logger.Warn("client_rejected_max_clients", "remote", conn.RemoteAddr().String())
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
	s.wg.Wait()
	return nil
}

// handle pumps one client: a writer goroutine drains the hub queue to
// the socket, the read loop parses client records and funnels them to
// the transmit path. Either side failing tears the client down.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	id := atomic.AddUint64(&s.nextConnID, 1)
	l := s.logger.With("conn", id, "remote", conn.RemoteAddr().String())
	l.Info("client_connected")
	defer l.Info("client_disconnected")

	bufSize := s.Hub.OutBufSize
	if bufSize <= 0 {
		bufSize = defaultOutBufSize
	}
	cl := &hub.Client{Out: make(chan can.Frame, bufSize), Closed: make(chan struct{})}
	s.Hub.Add(cl)
	defer s.Hub.Remove(cl)

	var writerWG sync.WaitGroup
	writerWG.Add(1)
	go func() {
		defer writerWG.Done()
		w := bufio.NewWriter(conn)
		for {
			select {
			case fr := <-cl.Out:
				if _, err := w.WriteString(FormatFrame(&fr) + "\n"); err != nil {
					metrics.IncError(metrics.ErrBridgeWrite)
					_ = conn.Close()
					return
				}
				// Drain whatever queued behind before flushing once.
				for more := true; more; {
					select {
					case fr = <-cl.Out:
						if _, err := w.WriteString(FormatFrame(&fr) + "\n"); err != nil {
							metrics.IncError(metrics.ErrBridgeWrite)
							_ = conn.Close()
							return
						}
					default:
						more = false
					}
				}
				if err := w.Flush(); err != nil {
					metrics.IncError(metrics.ErrBridgeWrite)
					_ = conn.Close()
					return
				}
				metrics.AddBridgeTx(1)
			case <-cl.Closed:
				_ = conn.Close()
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	sc := bufio.NewScanner(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
		if !sc.Scan() {
			if err := sc.Err(); err != nil && ctx.Err() == nil {
				metrics.IncError(metrics.ErrBridgeRead)
				l.Debug("client_read_error", "error", err)
			}
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fr, err := ParseFrame(line)
		if err != nil {
			l.Debug("client_bad_record", "error", err)
			continue
		}
		metrics.IncBridgeRx()
		if err := s.Send(fr); err != nil {
			l.Debug("client_tx_rejected", "error", err)
		}
	}
	cl.Close()
	writerWG.Wait()
}
