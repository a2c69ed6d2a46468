package pdu

// DefaultMaxMessageSize bounds a reassembled message unless configured otherwise.
const DefaultMaxMessageSize = 16 * 1024 * 1024

type reassemblyState int

const (
	stateIdle reassemblyState = iota
	stateReassembling
)

// Reassembler turns a stream of fragments back into PDUs. Only one series is
// in flight at a time: a fragment that does not continue the current series
// abandons it. A Reassembler is owned by a single reader and is not safe for
// concurrent use.
type Reassembler struct {
	state     reassemblyState
	channelID uint16
	pduType   uint8
	buf       []byte
	maxSize   int
}

// NewReassembler creates an idle Reassembler. maxSize limits the size of a
// reassembled message; values <= 0 select DefaultMaxMessageSize.
func NewReassembler(maxSize int) *Reassembler {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	return &Reassembler{maxSize: maxSize}
}

// Reassembling reports whether a FIRST fragment has been seen and its LAST
// fragment has not.
func (r *Reassembler) Reassembling() bool {
	return r.state == stateReassembling
}

// Buffered returns the number of payload bytes accumulated for the series in
// flight.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// Reset abandons the series in flight, if any.
func (r *Reassembler) Reset() {
	r.state = stateIdle
	r.buf = nil
	r.channelID = 0
	r.pduType = 0
}

// Push feeds one fragment into the state machine.
//
// A SINGLE fragment, or the LAST fragment of a series, completes a PDU. When
// a fragment breaks the series in flight, that series is abandoned and a
// *FramingError is returned; a SINGLE or FIRST fragment that caused it is still
// processed, so complete may be true alongside a non-nil error.
//
// Parameters:
//   - h: The fragment header
//   - payload: The fragment payload; Push copies what it keeps
//
// Returns:
//   - The completed PDU when complete is true
//   - A *FramingError describing an abandoned series or rejected fragment
func (r *Reassembler) Push(h Header, payload []byte) (p PDU, complete bool, err error) {
	switch h.Flags {
	case FragmentSingle:
		if r.state == stateReassembling {
			err = r.abandon("single fragment interrupted a series", h)
		}

		out := make([]byte, len(payload))
		copy(out, payload)
		return PDU{Payload: out, ChannelID: h.ChannelID, Type: h.Type}, true, err

	case FragmentFirst:
		if r.state == stateReassembling {
			err = r.abandon("first fragment interrupted a series", h)
		}

		if len(payload) == 0 {
			return PDU{}, false, &FramingError{Reason: "empty first fragment", Header: h}
		}

		if len(payload) > r.maxSize {
			return PDU{}, false, &FramingError{Reason: ErrMessageTooLarge.Error(), Header: h}
		}

		r.state = stateReassembling
		r.channelID = h.ChannelID
		r.pduType = h.Type
		r.buf = make([]byte, len(payload))
		copy(r.buf, payload)
		return PDU{}, false, err

	case FragmentNext, FragmentLast:
		if r.state != stateReassembling {
			return PDU{}, false, &FramingError{Reason: "continuation fragment without a series", Header: h}
		}

		if h.ChannelID != r.channelID || h.Type != r.pduType {
			return PDU{}, false, r.abandon("continuation fragment for a different message", h)
		}

		if len(payload) == 0 {
			return PDU{}, false, r.abandon("empty continuation fragment", h)
		}

		if len(r.buf)+len(payload) > r.maxSize {
			return PDU{}, false, r.abandon(ErrMessageTooLarge.Error(), h)
		}

		r.buf = append(r.buf, payload...)
		if h.Flags == FragmentNext {
			return PDU{}, false, nil
		}

		p = PDU{Payload: r.buf, ChannelID: r.channelID, Type: r.pduType}
		r.Reset()
		return p, true, nil

	default:
		if r.state == stateReassembling {
			r.Reset()
		}

		return PDU{}, false, &FramingError{Reason: "invalid fragment flags", Header: h}
	}
}

func (r *Reassembler) abandon(reason string, h Header) error {
	r.Reset()
	return &FramingError{Reason: reason, Header: h}
}
