package tcpserver

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/pdu"
)

// Conn is one accepted connection. Send is safe for concurrent use and keeps
// each fragment series contiguous on the wire.
type Conn struct {
	id     uint32
	conn   net.Conn
	server *TCPServer
	logger logger.Logger

	sendMu    sync.Mutex
	closeOnce sync.Once
}

func newConn(s *TCPServer, id uint32, nc net.Conn) *Conn {
	return &Conn{
		id:     id,
		conn:   nc,
		server: s,
		logger: s.Logger.With(
			logger.Field{Key: "conn_id", Value: id},
			logger.Field{Key: "remote", Value: nc.RemoteAddr().String()},
		),
	}
}

// ID returns the connection id assigned by the server.
func (c *Conn) ID() uint32 {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// Send writes payload as one fragment series on channelID.
func (c *Conn) Send(payload []byte, channelID uint16, pduType uint8) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	for _, frag := range pdu.Fragments(payload, channelID, pduType) {
		if timeout := c.server.WriteTimeout; timeout > 0 {
			if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				return err
			}
		}

		if err := pdu.WriteFragment(c.conn, frag); err != nil {
			c.logger.Warn("send failed", logger.Field{Key: "error", Value: err.Error()})
			return err
		}

		c.server.Metrics.FragmentSent(len(frag))
	}

	return nil
}

// Close closes the connection. It is safe to call multiple times; the read
// loop observes the close and reports OnDisconnect.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})

	return err
}

func (c *Conn) handle() {
	defer c.server.wg.Done()
	defer func() {
		_ = c.Close()
		c.server.conns.Delete(c.id)
		c.server.Handler.OnDisconnect(c)
		c.logger.Debug("connection closed")
	}()

	c.logger.Debug("connection accepted")
	c.server.Handler.OnConnect(c)

	r := pdu.NewReassembler(c.server.MaxMessageSize)
	for {
		h, payload, err := pdu.ReadFragment(c.conn)
		if err != nil {
			if pdu.IsFramingError(err) {
				r.Reset()
				c.framingError(err)
				continue
			}

			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Warn("read failed", logger.Field{Key: "error", Value: err.Error()})
			}
			return
		}

		c.server.Metrics.FragmentReceived(pdu.HeaderSize + len(payload))

		p, complete, err := r.Push(h, payload)
		if err != nil {
			c.framingError(err)
		}

		if complete {
			c.server.Metrics.PDUDispatched(p.ChannelID)
			c.server.Handler.OnPDU(c, p)
		}
	}
}

func (c *Conn) framingError(err error) {
	c.server.Metrics.FramingError()
	c.logger.Warn("framing error", logger.Field{Key: "error", Value: err.Error()})
}
