package tcpserver

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cyberinferno/screenary/pdu"
)

// echoHandler sends every PDU back on the same channel and records events.
type echoHandler struct {
	mu           sync.Mutex
	connected    []uint32
	disconnected []uint32
}

func (h *echoHandler) OnConnect(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, c.ID())
}

func (h *echoHandler) OnPDU(c *Conn, p pdu.PDU) {
	_ = c.Send(p.Payload, p.ChannelID, p.Type)
}

func (h *echoHandler) OnDisconnect(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, c.ID())
}

func (h *echoHandler) disconnects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnected)
}

func startServer(t *testing.T, h Handler) *TCPServer {
	t.Helper()
	s := &TCPServer{Name: "test", Addr: "127.0.0.1:0", Handler: h}
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return s
}

func dial(t *testing.T, s *TCPServer) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readMessage(t *testing.T, c net.Conn) pdu.PDU {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))

	r := pdu.NewReassembler(0)
	for {
		h, payload, err := pdu.ReadFragment(c)
		require.NoError(t, err)

		p, complete, err := r.Push(h, payload)
		require.NoError(t, err)
		if complete {
			return p
		}
	}
}

func TestTCPServer_Echo(t *testing.T) {
	s := startServer(t, &echoHandler{})
	c := dial(t, s)

	big := bytes.Repeat([]byte{7}, 40000)
	require.NoError(t, pdu.WriteMessage(c, big, pdu.ChannelUpdate, 0x10))
	require.NoError(t, pdu.WriteMessage(c, []byte("x"), pdu.ChannelSession, 0x01))

	p := readMessage(t, c)
	assert.Equal(t, pdu.ChannelUpdate, p.ChannelID)
	assert.Equal(t, big, p.Payload)

	p = readMessage(t, c)
	assert.Equal(t, pdu.PDU{Payload: []byte("x"), ChannelID: pdu.ChannelSession, Type: 0x01}, p)
}

func TestTCPServer_FramingErrorKeepsConnection(t *testing.T) {
	s := startServer(t, &echoHandler{})
	c := dial(t, s)

	// a NEXT with no series in flight
	bad := make([]byte, pdu.HeaderSize+2)
	pdu.EncodeHeader(bad, pdu.Header{Type: 1, Flags: pdu.FragmentNext, Length: uint16(len(bad))})
	_, err := c.Write(bad)
	require.NoError(t, err)

	require.NoError(t, pdu.WriteMessage(c, []byte("ok"), pdu.ChannelSession, 0x02))
	assert.Equal(t, []byte("ok"), readMessage(t, c).Payload)
}

func TestTCPServer_ConnLifecycle(t *testing.T) {
	h := &echoHandler{}
	s := startServer(t, h)

	a := dial(t, s)
	b := dial(t, s)

	require.Eventually(t, func() bool { return len(s.ConnIDs()) == 2 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []uint32{1, 2}, s.ConnIDs())

	conn, ok := s.GetConn(1)
	require.True(t, ok)
	assert.Contains(t, []string{a.LocalAddr().String(), b.LocalAddr().String()}, conn.RemoteAddr())

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool { return h.disconnects() == 1 }, 5*time.Second, time.Millisecond)
	assert.Len(t, s.ConnIDs(), 1)

	_, ok = s.GetConn(3)
	assert.False(t, ok)
}

func TestTCPServer_StopClosesConnections(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := &echoHandler{}
	s := &TCPServer{Name: "test", Addr: "127.0.0.1:0", Handler: h}
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	c, err := net.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	defer c.Close()

	require.Eventually(t, func() bool { return len(s.ConnIDs()) == 1 }, 5*time.Second, time.Millisecond)

	s.Stop()
	assert.Equal(t, 1, h.disconnects())
	assert.Empty(t, s.ConnIDs())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = pdu.ReadFragment(c)
	assert.Error(t, err)

	s.Stop()
}

func TestTCPServer_RequiresHandler(t *testing.T) {
	s := &TCPServer{Name: "test", Addr: "127.0.0.1:0"}
	assert.Error(t, s.Start())
}

func TestTCPServer_StartWhileRunningLeavesServerUntouched(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h := &echoHandler{}
	s := &TCPServer{Name: "test", Addr: "127.0.0.1:0", Handler: h}
	require.NoError(t, s.Start())
	log := s.Logger
	addr := s.ListenAddr().String()

	// connections accepted here read Logger while Start is retried
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.Error(t, s.Start())
		}()
		go func() {
			defer wg.Done()
			c, err := net.Dial("tcp", addr)
			if !assert.NoError(t, err) {
				return
			}
			defer c.Close()
			assert.NoError(t, pdu.WriteMessage(c, []byte("ping"), pdu.ChannelUpdate, 0x01))
			assert.NoError(t, c.SetReadDeadline(time.Now().Add(5*time.Second)))
			_, payload, err := pdu.ReadFragment(c)
			assert.NoError(t, err)
			assert.Equal(t, []byte("ping"), payload)
		}()
	}
	wg.Wait()

	assert.Same(t, log, s.Logger)
	assert.Equal(t, addr, s.ListenAddr().String())

	s.Stop()
	assert.Equal(t, 4, h.disconnects())

	// a stopped server can be started again and keeps issuing fresh ids
	s.Addr = "127.0.0.1:0"
	require.NoError(t, s.Start())
	c, err := net.Dial("tcp", s.ListenAddr().String())
	require.NoError(t, err)
	defer c.Close()
	require.Eventually(t, func() bool { return len(s.ConnIDs()) == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []uint32{5}, s.ConnIDs())
	s.Stop()
}
