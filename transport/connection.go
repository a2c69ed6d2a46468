// Package transport owns the TCP connection to the session server. It sends
// payloads as fragment series, reassembles incoming fragments on a receive
// goroutine, and hands complete PDUs to a Dispatcher. Connection state
// changes and errors are reported through registered handlers.
package transport

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/metrics"
	"github.com/cyberinferno/screenary/pdu"
)

// ConnectionState represents the lifecycle of a Connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Created, Connect not called yet
	Connecting                          // Dial in progress
	Connected                           // Socket open, receive goroutine running
	Closed                              // Disconnected or failed; the instance cannot be reused
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address ("host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the change was caused by a failure
}

// ErrorEvent is emitted for connect failures, transport failures and framing
// errors. Framing errors (see pdu.IsFramingError) do not close the connection.
type ErrorEvent struct {
	Error     error
	Timestamp time.Time
}

// ConnectionStateHandler is called when the connection state changes.
// Handlers run on their own goroutines.
type ConnectionStateHandler func(event ConnectionStateEvent)

// ErrorHandler is called when an error occurs. Handlers run on their own
// goroutines.
type ErrorHandler func(event ErrorEvent)

// Dispatcher receives reassembled PDUs and lifecycle notifications.
// *dispatcher.ChannelDispatcher implements it.
type Dispatcher interface {
	DispatchPDU(payload []byte, channelID uint16, pduType uint8) error
	OnConnect()
	OnDisconnect()
}

// Config holds connection settings.
type Config struct {
	// Address is the "host:port" to connect to.
	Address string
	// ConnectionTimeout bounds the dial; 0 means no timeout.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds each fragment write; 0 means no timeout.
	WriteTimeout time.Duration
	// NoDelay disables Nagle's algorithm on the socket.
	NoDelay bool
	// MaxMessageSize bounds a reassembled PDU; 0 selects pdu.DefaultMaxMessageSize.
	MaxMessageSize int
}

// DefaultConfig returns a Config for address with no timeouts, NoDelay set and
// the default message size limit.
func DefaultConfig(address string) Config {
	return Config{
		Address:        address,
		NoDelay:        true,
		MaxMessageSize: pdu.DefaultMaxMessageSize,
	}
}

// Address joins host and port into a dialable address.
func Address(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the connection logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Connection) {
		c.logger = logger.OrNop(l)
	}
}

// WithMetrics records fragment and PDU counters.
func WithMetrics(m *metrics.Transport) Option {
	return func(c *Connection) {
		c.metrics = m
	}
}

// Connection is a single-use client connection. Sends are serialized so a
// fragment series always reaches the wire contiguously; receiving runs on a
// dedicated goroutine. Once closed, by Disconnect or by a transport failure,
// the instance stays closed.
type Connection struct {
	config     Config
	dispatcher Dispatcher
	logger     logger.Logger
	metrics    *metrics.Transport

	mu                sync.RWMutex
	conn              net.Conn
	state             ConnectionState
	onConnectionState ConnectionStateHandler
	onError           ErrorHandler

	sendMu sync.Mutex
	wg     sync.WaitGroup
}

// NewConnection creates an unconnected Connection.
//
// Parameters:
//   - config: Connection settings (e.g. from DefaultConfig)
//   - dispatcher: Receives complete PDUs and open/close notifications
//   - opts: Optional logger and metrics
//
// Returns:
//   - A Connection in Disconnected state; call Connect to establish it
func NewConnection(config Config, dispatcher Dispatcher, opts ...Option) *Connection {
	c := &Connection{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger.NewNopLogger(),
		state:      Disconnected,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With(
		logger.Field{Key: "component", Value: "transport"},
		logger.Field{Key: "addr", Value: config.Address},
	)

	return c
}

// OnConnectionState registers the handler for state changes, replacing any
// previous one. Pass nil to clear it.
func (c *Connection) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnError registers the handler for errors, replacing any previous one.
// Pass nil to clear it.
func (c *Connection) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect dials the configured address, opens the dispatcher's channels and
// starts the receive goroutine.
//
// Returns:
//   - nil on success
//   - ErrAlreadyConnected or ErrClosed if the instance is not fresh
//   - *ConnectionError if the dial fails; the Connection is then closed
func (c *Connection) Connect() error {
	c.mu.Lock()
	switch c.state {
	case Closed:
		c.mu.Unlock()
		return ErrClosed
	case Connecting, Connected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.mu.Unlock()

	c.emitConnectionState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		cerr := &ConnectionError{Address: c.config.Address, Err: err}
		c.logger.Error("connect failed", logger.Field{Key: "error", Value: err.Error()})
		c.setState(Closed, cerr)
		c.emitError(cerr)
		return cerr
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		if err := tc.SetNoDelay(c.config.NoDelay); err != nil {
			c.logger.Warn("set no-delay failed", logger.Field{Key: "error", Value: err.Error()})
		}
	}

	c.mu.Lock()
	if c.state == Closed {
		// Disconnect raced the dial
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = Connected
	c.wg.Add(1)
	c.mu.Unlock()

	c.emitConnectionState(Connected, nil)
	c.logger.Info("connected")

	c.dispatcher.OnConnect()
	go c.readLoop(conn)

	return nil
}

// Disconnect closes the socket, waits for the receive goroutine to exit and
// notifies the dispatcher. It always succeeds; on an already closed
// Connection it only repeats the dispatcher notification.
func (c *Connection) Disconnect() {
	c.shutdown(nil)
	c.wg.Wait()
}

// Send transmits payload on channelID as one fragment series. Concurrent
// calls are serialized. A write failure closes the Connection.
//
// Parameters:
//   - payload: The message bytes; not modified
//   - channelID: The logical channel
//   - pduType: The PDU type
//
// Returns:
//   - nil on success
//   - ErrNotConnected if the Connection is not in Connected state
//   - *TransportError if a write fails
func (c *Connection) Send(payload []byte, channelID uint16, pduType uint8) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return ErrNotConnected
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for _, frag := range pdu.Fragments(payload, channelID, pduType) {
		if err := c.writeFragment(conn, frag); err != nil {
			if c.isClosed() {
				return ErrNotConnected
			}

			terr := &TransportError{Op: "write", Err: err}
			c.logger.Error("send failed",
				logger.Field{Key: "channel", Value: channelID},
				logger.Field{Key: "type", Value: pduType},
				logger.Field{Key: "error", Value: err.Error()})
			c.emitError(terr)
			c.shutdown(terr)
			return terr
		}

		c.metrics.FragmentSent(len(frag))
	}

	return nil
}

func (c *Connection) writeFragment(conn net.Conn, frag []byte) error {
	if c.config.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	return pdu.WriteFragment(conn, frag)
}

// GetState returns the current connection state.
func (c *Connection) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the Connection is in Connected state.
func (c *Connection) IsConnected() bool {
	return c.GetState() == Connected
}

func (c *Connection) readLoop(conn net.Conn) {
	defer c.wg.Done()

	r := pdu.NewReassembler(c.config.MaxMessageSize)
	for {
		h, payload, err := pdu.ReadFragment(conn)
		if err != nil {
			if pdu.IsFramingError(err) {
				r.Reset()
				c.framingError(err)
				continue
			}

			if c.isClosed() {
				return
			}

			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}

			terr := &TransportError{Op: "read", Err: err}
			c.logger.Error("receive failed", logger.Field{Key: "error", Value: err.Error()})
			c.emitError(terr)
			c.shutdown(terr)
			return
		}

		c.metrics.FragmentReceived(pdu.HeaderSize + len(payload))

		p, complete, err := r.Push(h, payload)
		if err != nil {
			c.framingError(err)
		}

		if !complete {
			continue
		}

		c.metrics.PDUDispatched(p.ChannelID)
		if err := c.dispatcher.DispatchPDU(p.Payload, p.ChannelID, p.Type); err != nil {
			c.logger.Warn("channel rejected pdu",
				logger.Field{Key: "channel", Value: p.ChannelID},
				logger.Field{Key: "type", Value: p.Type},
				logger.Field{Key: "error", Value: err.Error()})
		}
	}
}

func (c *Connection) framingError(err error) {
	c.metrics.FramingError()
	c.logger.Warn("framing error", logger.Field{Key: "error", Value: err.Error()})
	c.emitError(err)
}

// shutdown moves to Closed, closes the socket and notifies the dispatcher.
func (c *Connection) shutdown(cause error) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	prev := c.state
	c.state = Closed
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	if prev != Closed {
		if cause == nil {
			c.logger.Info("disconnected")
		}
		c.emitConnectionState(Closed, cause)
	}

	c.dispatcher.OnDisconnect()
}

func (c *Connection) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emitConnectionState(state, err)
}

func (c *Connection) emitConnectionState(state ConnectionState, err error) {
	c.mu.RLock()
	handler := c.onConnectionState
	c.mu.RUnlock()

	if handler != nil {
		go handler(ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		})
	}
}

func (c *Connection) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		go handler(ErrorEvent{Error: err, Timestamp: time.Now()})
	}
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == Closed
}
