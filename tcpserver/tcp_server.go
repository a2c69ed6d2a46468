package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/screenary/idgenerator"
	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/metrics"
	"github.com/cyberinferno/screenary/pdu"
	"github.com/cyberinferno/screenary/safemap"
)

// Handler receives connection events from a TCPServer. Calls for one
// connection are made from that connection's goroutine, in order; calls for
// different connections may run concurrently.
type Handler interface {
	// OnConnect is called once after a connection is accepted and before its
	// first PDU.
	OnConnect(conn *Conn)

	// OnPDU is called for every reassembled PDU received on conn.
	OnPDU(conn *Conn, p pdu.PDU)

	// OnDisconnect is called once after conn is closed, whoever closed it.
	OnDisconnect(conn *Conn)
}

// TCPServer accepts connections and runs one PDU-framed read loop per
// connection, handing reassembled PDUs to Handler. Connections are stored by
// id and can be looked up while open. The accept loop runs in a goroutine;
// Stop closes the listener and every open connection and waits for their
// goroutines to exit.
type TCPServer struct {
	Logger  logger.Logger
	Name    string
	Addr    string
	Handler Handler
	// Metrics records fragment counters; nil disables them.
	Metrics *metrics.Transport
	// MaxMessageSize bounds a reassembled PDU; 0 selects pdu.DefaultMaxMessageSize.
	MaxMessageSize int
	// WriteTimeout bounds each fragment write; 0 means no timeout.
	WriteTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	running  atomic.Bool
	conns    safemap.SafeMap[uint32, *Conn]
	connIDs  idgenerator.IdGenerator
	wg       sync.WaitGroup
}

// Start binds Addr and begins the accept loop in a goroutine. On a running
// server it returns an error and changes nothing.
//
// Returns:
//   - An error if the server is already running or if listening on Addr fails
func (s *TCPServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return fmt.Errorf("server %s already running", s.Name)
	}

	// connection goroutines read Logger, so it is only written while stopped
	s.Logger = logger.OrNop(s.Logger)
	if s.Handler == nil {
		return fmt.Errorf("server %s has no handler", s.Name)
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		s.Logger.Error("server failed to start", logger.Field{Key: "error", Value: err.Error()})
		return fmt.Errorf("server %s failed to start: %w", s.Name, err)
	}

	s.listener = ln
	s.running.Store(true)

	s.Logger.Info(fmt.Sprintf("%s server started", s.Name), logger.Field{Key: "addr", Value: ln.Addr().String()})

	s.wg.Add(1)
	go s.acceptLoop(ln)

	return nil
}

// ListenAddr returns the bound address, which differs from Addr when Addr
// uses port 0. It returns nil before Start.
func (s *TCPServer) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop closes the listener and all open connections, then waits for the
// accept loop and every connection goroutine to return. Safe to call when
// the server is not running.
func (s *TCPServer) Stop() {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return
	}

	s.running.Store(false)
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.Unlock()

	s.conns.Range(func(_ uint32, c *Conn) bool {
		_ = c.Close()
		return true
	})

	s.wg.Wait()
	s.Logger.Info(fmt.Sprintf("%s server stopped", s.Name))
}

// GetConn returns the open connection with the given id, if present.
func (s *TCPServer) GetConn(id uint32) (*Conn, bool) {
	return s.conns.Load(id)
}

// ConnIDs returns the ids of all open connections in ascending order.
func (s *TCPServer) ConnIDs() []uint32 {
	return safemap.SortedKeys(&s.conns)
}

func (s *TCPServer) acceptLoop(ln net.Listener) {
	defer s.wg.Done()

	for s.running.Load() {
		nc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}

			s.Logger.Error(fmt.Sprintf("%s server accept error", s.Name), logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		if tc, ok := nc.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		c := newConn(s, s.connIDs.Id(), nc)
		s.conns.Store(c.id, c)

		// a Stop that ran between Accept and Store missed this connection
		if !s.running.Load() {
			s.conns.Delete(c.id)
			_ = nc.Close()
			return
		}

		s.wg.Add(1)
		go c.handle()
	}
}
