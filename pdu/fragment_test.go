package pdu

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPayload(t *testing.T, size int) []byte {
	t.Helper()
	b := make([]byte, size)
	_, err := rand.New(rand.NewSource(int64(size))).Read(b)
	require.NoError(t, err)
	return b
}

func reassembleAll(t *testing.T, frames [][]byte) []PDU {
	t.Helper()
	r := NewReassembler(0)
	stream := bytes.NewReader(bytes.Join(frames, nil))

	var out []PDU
	for {
		h, payload, err := ReadFragment(stream)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)

		p, complete, err := r.Push(h, payload)
		require.NoError(t, err)
		if complete {
			out = append(out, p)
		}
	}
}

func TestFragments_RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 100, MaxPayloadSize - 1, MaxPayloadSize, MaxPayloadSize + 1,
		2 * MaxPayloadSize, 2*MaxPayloadSize + 1, 40000, 65536, 100000}

	for _, size := range sizes {
		payload := randomPayload(t, size)
		frames := Fragments(payload, ChannelUpdate, 0x42)

		pdus := reassembleAll(t, frames)
		require.Len(t, pdus, 1, "size %d", size)
		assert.Equal(t, ChannelUpdate, pdus[0].ChannelID)
		assert.Equal(t, uint8(0x42), pdus[0].Type)
		assert.Equal(t, len(payload), len(pdus[0].Payload), "size %d", size)
		assert.True(t, bytes.Equal(payload, pdus[0].Payload), "size %d", size)
	}
}

func TestFragments_SizeInvariant(t *testing.T) {
	for _, size := range []int{0, 5, MaxPayloadSize, MaxPayloadSize + 1, 50000, 100000} {
		frames := Fragments(make([]byte, size), ChannelSession, 1)

		want := 1
		if size > MaxPayloadSize {
			want = (size + MaxPayloadSize - 1) / MaxPayloadSize
		}
		assert.Len(t, frames, want, "size %d", size)
		assert.Equal(t, want, FragmentCount(size))

		for _, f := range frames {
			h, err := DecodeHeader(f)
			require.NoError(t, err)
			assert.LessOrEqual(t, int(h.Length), MaxFragmentSize)
			assert.LessOrEqual(t, h.PayloadSize(), MaxPayloadSize)
			assert.Equal(t, len(f), int(h.Length))
		}
	}
}

func TestFragments_Flags(t *testing.T) {
	t.Run("small payload is a single fragment", func(t *testing.T) {
		frames := Fragments([]byte("hello"), ChannelSession, 7)
		require.Len(t, frames, 1)

		h, err := DecodeHeader(frames[0])
		require.NoError(t, err)
		assert.Equal(t, FragmentSingle, h.Flags)
		assert.Equal(t, uint16(5+HeaderSize), h.Length)
		assert.Equal(t, []byte("hello"), frames[0][HeaderSize:])
	})

	t.Run("empty payload is a header-only single fragment", func(t *testing.T) {
		frames := Fragments(nil, ChannelSession, 7)
		require.Len(t, frames, 1)
		assert.Equal(t, []byte{0, 0, 7, FragmentSingle, HeaderSize, 0}, frames[0])
	})

	t.Run("40000 bytes is FIRST NEXT LAST", func(t *testing.T) {
		frames := Fragments(make([]byte, 40000), ChannelInput, 9)
		require.Len(t, frames, 3)

		wantFlags := []uint8{FragmentFirst, FragmentNext, FragmentLast}
		wantSizes := []int{16377, 16377, 7246}
		for i, f := range frames {
			h, err := DecodeHeader(f)
			require.NoError(t, err)
			assert.Equal(t, wantFlags[i], h.Flags)
			assert.Equal(t, wantSizes[i], h.PayloadSize())
			assert.Equal(t, ChannelInput, h.ChannelID)
			assert.Equal(t, uint8(9), h.Type)
		}
	})

	t.Run("two full fragments end with LAST", func(t *testing.T) {
		frames := Fragments(make([]byte, 2*MaxPayloadSize), ChannelSession, 1)
		require.Len(t, frames, 2)

		h, err := DecodeHeader(frames[1])
		require.NoError(t, err)
		assert.Equal(t, FragmentLast, h.Flags)
		assert.Equal(t, MaxPayloadSize, h.PayloadSize())
	})
}

func TestHeader_LittleEndian(t *testing.T) {
	buf := make([]byte, HeaderSize)
	EncodeHeader(buf, Header{ChannelID: 0x0102, Type: 0x81, Flags: FragmentLast, Length: 0x3FFF})
	assert.Equal(t, []byte{0x02, 0x01, 0x81, 0x03, 0xFF, 0x3F}, buf)

	_, err := DecodeHeader(buf[:4])
	assert.ErrorIs(t, err, ErrTruncated)
}

type oneByteWriter struct {
	buf bytes.Buffer
}

func (w *oneByteWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return w.buf.Write(p[:1])
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset by peer")
}

func TestWriteMessage(t *testing.T) {
	t.Run("short writes are retried", func(t *testing.T) {
		w := &oneByteWriter{}
		payload := randomPayload(t, 20000)
		require.NoError(t, WriteMessage(w, payload, ChannelSession, 3))

		pdus := reassembleAll(t, [][]byte{w.buf.Bytes()})
		require.Len(t, pdus, 1)
		assert.Equal(t, payload, pdus[0].Payload)
	})

	t.Run("write error is returned", func(t *testing.T) {
		err := WriteMessage(failingWriter{}, []byte("x"), ChannelSession, 3)
		assert.EqualError(t, err, "connection reset by peer")
	})
}

func TestReadFragment(t *testing.T) {
	t.Run("length below header size is a framing error", func(t *testing.T) {
		buf := make([]byte, HeaderSize)
		EncodeHeader(buf, Header{Length: 3})

		_, _, err := ReadFragment(bytes.NewReader(buf))
		assert.True(t, IsFramingError(err))
	})

	t.Run("oversized fragment is consumed then rejected", func(t *testing.T) {
		big := make([]byte, HeaderSize+MaxFragmentSize+1)
		EncodeHeader(big, Header{Flags: FragmentSingle, Length: MaxFragmentSize + 1 + HeaderSize})
		next := Fragments([]byte("ok"), ChannelSession, 1)[0]
		stream := bytes.NewReader(append(big, next...))

		_, _, err := ReadFragment(stream)
		assert.True(t, IsFramingError(err))

		h, payload, err := ReadFragment(stream)
		require.NoError(t, err)
		assert.Equal(t, FragmentSingle, h.Flags)
		assert.Equal(t, []byte("ok"), payload)
	})

	t.Run("stream closed mid payload", func(t *testing.T) {
		f := Fragments([]byte("truncated"), ChannelSession, 1)[0]
		_, _, err := ReadFragment(bytes.NewReader(f[:HeaderSize+2]))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("clean end of stream", func(t *testing.T) {
		_, _, err := ReadFragment(bytes.NewReader(nil))
		assert.ErrorIs(t, err, io.EOF)
	})
}
