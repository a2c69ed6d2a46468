package pdu

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated       = errors.New("pdu: truncated data")
	ErrMalformedList   = errors.New("pdu: malformed list payload")
	ErrStringTooLong   = errors.New("pdu: string longer than 65535 bytes")
	ErrMessageTooLarge = errors.New("pdu: reassembled message too large")
)

// FramingError reports a fragment that violates the framing rules. It is
// recoverable: the message being reassembled is abandoned and reading
// resumes at the next header.
type FramingError struct {
	Reason string
	Header Header
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("pdu: framing error: %s (channel=%d type=0x%02x flags=%s length=%d)",
		e.Reason, e.Header.ChannelID, e.Header.Type, FlagName(e.Header.Flags), e.Header.Length)
}

// IsFramingError reports whether err is, or wraps, a *FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}
