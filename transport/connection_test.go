package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/cyberinferno/screenary/pdu"
)

type recordingDispatcher struct {
	mu          sync.Mutex
	pdus        []pdu.PDU
	connects    int
	disconnects int
	got         chan pdu.PDU
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{got: make(chan pdu.PDU, 64)}
}

func (d *recordingDispatcher) DispatchPDU(payload []byte, channelID uint16, pduType uint8) error {
	p := pdu.PDU{Payload: payload, ChannelID: channelID, Type: pduType}
	d.mu.Lock()
	d.pdus = append(d.pdus, p)
	d.mu.Unlock()
	d.got <- p
	return nil
}

func (d *recordingDispatcher) OnConnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
}

func (d *recordingDispatcher) OnDisconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
}

func (d *recordingDispatcher) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects, d.disconnects
}

func (d *recordingDispatcher) next(t *testing.T) pdu.PDU {
	t.Helper()
	select {
	case p := <-d.got:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no pdu dispatched")
		return pdu.PDU{}
	}
}

// peer accepts exactly one connection on a loopback listener.
type peer struct {
	ln   net.Listener
	conn chan net.Conn
}

func newPeer(t *testing.T) *peer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	p := &peer{ln: ln, conn: make(chan net.Conn, 1)}
	go func() {
		c, err := ln.Accept()
		if err == nil {
			p.conn <- c
		}
	}()

	t.Cleanup(func() { _ = ln.Close() })
	return p
}

func (p *peer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-p.conn:
		t.Cleanup(func() { _ = c.Close() })
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func connect(t *testing.T) (*Connection, *recordingDispatcher, net.Conn) {
	t.Helper()
	p := newPeer(t)
	d := newRecordingDispatcher()
	c := NewConnection(DefaultConfig(p.ln.Addr().String()), d)
	require.NoError(t, c.Connect())
	return c, d, p.accept(t)
}

func TestConnect_Failure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewConnection(DefaultConfig(addr), newRecordingDispatcher())
	err = c.Connect()

	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, addr, cerr.Address)
	assert.Equal(t, Closed, c.GetState())
	assert.ErrorIs(t, c.Connect(), ErrClosed)
}

func TestConnect_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	states := make(chan ConnectionState, 8)
	p := newPeer(t)
	d := newRecordingDispatcher()
	c := NewConnection(DefaultConfig(p.ln.Addr().String()), d)
	c.OnConnectionState(func(e ConnectionStateEvent) { states <- e.State })

	require.NoError(t, c.Connect())
	p.accept(t)
	assert.True(t, c.IsConnected())
	assert.ErrorIs(t, c.Connect(), ErrAlreadyConnected)

	c.Disconnect()
	assert.Equal(t, Closed, c.GetState())
	assert.ErrorIs(t, c.Send([]byte("x"), pdu.ChannelSession, 1), ErrNotConnected)
	assert.ErrorIs(t, c.Connect(), ErrClosed)

	// a second Disconnect is a no-op that still notifies the dispatcher
	c.Disconnect()
	connects, disconnects := d.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 2, disconnects)

	seen := map[ConnectionState]bool{}
	for len(seen) < 3 {
		select {
		case s := <-states:
			seen[s] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("missing state events, saw %v", seen)
		}
	}
	assert.True(t, seen[Connecting] && seen[Connected] && seen[Closed])
}

func TestSend_FragmentsOnTheWire(t *testing.T) {
	c, _, server := connect(t)
	defer c.Disconnect()

	payload := bytes.Repeat([]byte{0xAB}, 40000)
	require.NoError(t, c.Send(payload, pdu.ChannelSession, 0x05))

	var flags []uint8
	var sizes []int
	var got []byte
	for len(got) < len(payload) {
		h, chunk, err := pdu.ReadFragment(server)
		require.NoError(t, err)
		assert.Equal(t, pdu.ChannelSession, h.ChannelID)
		assert.Equal(t, uint8(0x05), h.Type)
		flags = append(flags, h.Flags)
		sizes = append(sizes, len(chunk))
		got = append(got, chunk...)
	}

	assert.Equal(t, []uint8{pdu.FragmentFirst, pdu.FragmentNext, pdu.FragmentLast}, flags)
	assert.Equal(t, []int{16377, 16377, 7246}, sizes)
	assert.Equal(t, payload, got)
}

func TestSend_ConcurrentSeriesStayContiguous(t *testing.T) {
	c, _, server := connect(t)
	defer c.Disconnect()

	const senders = 6
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 3*pdu.MaxPayloadSize+10)
			assert.NoError(t, c.Send(payload, pdu.ChannelUpdate, uint8(i)))
		}(i)
	}

	r := pdu.NewReassembler(0)
	received := 0
	for received < senders {
		h, chunk, err := pdu.ReadFragment(server)
		require.NoError(t, err)

		p, complete, err := r.Push(h, chunk)
		require.NoError(t, err, "interleaved fragment series")
		if complete {
			assert.Equal(t, bytes.Repeat([]byte{p.Type}, 3*pdu.MaxPayloadSize+10), p.Payload)
			received++
		}
	}

	wg.Wait()
}

func TestReceive_ReassemblesAndDispatches(t *testing.T) {
	c, d, server := connect(t)
	defer c.Disconnect()

	big := bytes.Repeat([]byte("0123456789"), 4000)
	require.NoError(t, pdu.WriteMessage(server, big, pdu.ChannelUpdate, 0x01))
	require.NoError(t, pdu.WriteMessage(server, []byte("hi"), pdu.ChannelSession, 0x81))

	p := d.next(t)
	assert.Equal(t, pdu.ChannelUpdate, p.ChannelID)
	assert.Len(t, p.Payload, 40000)
	assert.Equal(t, big, p.Payload)

	p = d.next(t)
	assert.Equal(t, pdu.PDU{Payload: []byte("hi"), ChannelID: pdu.ChannelSession, Type: 0x81}, p)
}

func TestReceive_FramingErrorIsRecoverable(t *testing.T) {
	c, d, server := connect(t)
	defer c.Disconnect()

	errs := make(chan error, 4)
	c.OnError(func(e ErrorEvent) { errs <- e.Error })

	bad := make([]byte, pdu.HeaderSize+3)
	pdu.EncodeHeader(bad, pdu.Header{ChannelID: 0, Type: 1, Flags: 0x09, Length: uint16(len(bad))})
	_, err := server.Write(bad)
	require.NoError(t, err)
	require.NoError(t, pdu.WriteMessage(server, []byte("after"), pdu.ChannelSession, 0x86))

	select {
	case err := <-errs:
		assert.True(t, pdu.IsFramingError(err))
	case <-time.After(5 * time.Second):
		t.Fatal("framing error not reported")
	}

	p := d.next(t)
	assert.Equal(t, []byte("after"), p.Payload)
	assert.True(t, c.IsConnected())
}

func TestReceive_PeerCloseIsFatal(t *testing.T) {
	c, d, server := connect(t)

	errs := make(chan error, 4)
	c.OnError(func(e ErrorEvent) { errs <- e.Error })

	require.NoError(t, server.Close())

	select {
	case err := <-errs:
		var terr *TransportError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, "read", terr.Op)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	case <-time.After(5 * time.Second):
		t.Fatal("transport error not reported")
	}

	require.Eventually(t, func() bool {
		_, disconnects := d.counts()
		return disconnects == 1 && c.GetState() == Closed
	}, 5*time.Second, time.Millisecond)

	c.Disconnect()
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:4489", Address("127.0.0.1", 4489))
	assert.Equal(t, "[::1]:80", Address("::1", 80))
}
