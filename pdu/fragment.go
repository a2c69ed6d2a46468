package pdu

import (
	"io"
)

// FragmentCount returns how many fragments a payload of the given size is
// split into.
func FragmentCount(size int) int {
	if size <= MaxPayloadSize {
		return 1
	}

	return (size + MaxPayloadSize - 1) / MaxPayloadSize
}

// Fragments splits payload into wire-ready fragments (header followed by
// payload bytes). A payload that fits in one fragment is emitted as SINGLE;
// otherwise the series is FIRST, zero or more NEXT, then LAST, each carrying
// MaxPayloadSize bytes except the LAST which carries the remainder. Channel id
// and PDU type are repeated on every fragment.
//
// Parameters:
//   - payload: The bytes to split; not modified
//   - channelID: The logical channel of the message
//   - pduType: The PDU type of the message
//
// Returns:
//   - The encoded fragments in transmission order
func Fragments(payload []byte, channelID uint16, pduType uint8) [][]byte {
	total := len(payload)
	frames := make([][]byte, 0, FragmentCount(total))

	if total <= MaxPayloadSize {
		return append(frames, frame(payload, channelID, pduType, FragmentSingle))
	}

	offset := 0
	for offset < total {
		size := MaxPayloadSize
		flag := FragmentNext

		switch {
		case offset == 0:
			flag = FragmentFirst
		case total-offset <= MaxPayloadSize:
			size = total - offset
			flag = FragmentLast
		}

		frames = append(frames, frame(payload[offset:offset+size], channelID, pduType, flag))
		offset += size
	}

	return frames
}

func frame(chunk []byte, channelID uint16, pduType uint8, flag uint8) []byte {
	buf := make([]byte, HeaderSize+len(chunk))
	EncodeHeader(buf, Header{
		ChannelID: channelID,
		Type:      pduType,
		Flags:     flag,
		Length:    uint16(HeaderSize + len(chunk)),
	})
	copy(buf[HeaderSize:], chunk)
	return buf
}

// WriteMessage fragments payload and writes every fragment to w in order.
// Each fragment is written fully before the next one starts. Callers sharing
// w between goroutines must serialize calls so a series stays contiguous.
//
// Returns:
//   - nil on success, or the first write error
func WriteMessage(w io.Writer, payload []byte, channelID uint16, pduType uint8) error {
	for _, f := range Fragments(payload, channelID, pduType) {
		if err := WriteFragment(w, f); err != nil {
			return err
		}
	}

	return nil
}

// WriteFragment writes one encoded fragment, retrying short writes until every
// byte is out.
func WriteFragment(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}

		if n == 0 {
			return io.ErrShortWrite
		}

		b = b[n:]
	}

	return nil
}

// ReadFragment reads exactly one fragment from r: HeaderSize header bytes and
// then the announced payload. Short reads are retried; a stream that ends
// before the fragment is complete yields io.EOF or io.ErrUnexpectedEOF.
//
// A header announcing fewer than HeaderSize bytes, or more than
// MaxFragmentSize, yields a *FramingError. In the oversized case the payload is
// consumed first so the stream stays aligned on the next header.
//
// Returns:
//   - The header and its payload
//   - An I/O error (fatal to the stream) or a *FramingError (recoverable)
func ReadFragment(r io.Reader) (Header, []byte, error) {
	var hb [HeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return Header{}, nil, err
	}

	h, err := DecodeHeader(hb[:])
	if err != nil {
		return Header{}, nil, err
	}

	size := h.PayloadSize()
	if size < 0 {
		return h, nil, &FramingError{Reason: "fragment length smaller than header", Header: h}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return h, nil, err
	}

	if h.Length > MaxFragmentSize {
		return h, nil, &FramingError{Reason: "fragment length exceeds maximum", Header: h}
	}

	return h, payload, nil
}
