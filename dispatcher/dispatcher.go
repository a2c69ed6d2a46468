// Package dispatcher routes reassembled PDUs to the logical channel that owns
// them and fans connection lifecycle events out to every registered channel.
package dispatcher

import (
	"github.com/cyberinferno/screenary/logger"
	"github.com/cyberinferno/screenary/safemap"
)

// Channel is one logical stream multiplexed over the connection.
type Channel interface {
	// ChannelID returns the identifier the channel is registered under.
	ChannelID() uint16

	// OnRecv hands the channel a reassembled payload. It is called on the
	// connection's receive goroutine and must not block.
	//
	// Parameters:
	//   - payload: The complete PDU payload; owned by the channel from now on
	//   - pduType: The PDU type byte
	//
	// Returns:
	//   - An error if the channel could not accept the PDU
	OnRecv(payload []byte, pduType uint8) error

	// OnOpen is called once the connection is established.
	OnOpen()

	// OnClose is called when the connection goes away.
	OnClose()
}

// ChannelDispatcher maps channel ids to channels. Channels are normally
// registered before the connection is opened; lookups are safe from any
// goroutine.
type ChannelDispatcher struct {
	channels safemap.SafeMap[uint16, Channel]
	logger   logger.Logger
}

// New returns an empty ChannelDispatcher. A nil logger is allowed.
func New(l logger.Logger) *ChannelDispatcher {
	return &ChannelDispatcher{
		logger: logger.OrNop(l).With(logger.Field{Key: "component", Value: "dispatcher"}),
	}
}

// Register adds ch under ch.ChannelID(), replacing any channel already
// registered with that id.
func (d *ChannelDispatcher) Register(ch Channel) {
	d.channels.Store(ch.ChannelID(), ch)
}

// Unregister removes the channel registered under channelID. Removing an
// unknown id is a no-op.
func (d *ChannelDispatcher) Unregister(channelID uint16) {
	d.channels.Delete(channelID)
}

// Lookup returns the channel registered under channelID.
func (d *ChannelDispatcher) Lookup(channelID uint16) (Channel, bool) {
	return d.channels.Load(channelID)
}

// ChannelIDs returns the registered ids in ascending order.
func (d *ChannelDispatcher) ChannelIDs() []uint16 {
	return safemap.SortedKeys(&d.channels)
}

// DispatchPDU delivers payload to the channel registered under channelID.
// PDUs for unregistered channels are dropped without error.
//
// Parameters:
//   - payload: The reassembled payload
//   - channelID: The channel the PDU was sent on
//   - pduType: The PDU type byte
//
// Returns:
//   - Whatever the channel's OnRecv returns, or nil when the PDU was dropped
func (d *ChannelDispatcher) DispatchPDU(payload []byte, channelID uint16, pduType uint8) error {
	ch, ok := d.Lookup(channelID)
	if !ok {
		d.logger.Debug("dropping pdu for unregistered channel",
			logger.Field{Key: "channel", Value: channelID},
			logger.Field{Key: "type", Value: pduType},
			logger.Field{Key: "size", Value: len(payload)})
		return nil
	}

	return ch.OnRecv(payload, pduType)
}

// OnConnect opens every registered channel in id order.
func (d *ChannelDispatcher) OnConnect() {
	for _, id := range d.ChannelIDs() {
		if ch, ok := d.Lookup(id); ok {
			ch.OnOpen()
		}
	}
}

// OnDisconnect closes every registered channel in id order.
func (d *ChannelDispatcher) OnDisconnect() {
	for _, id := range d.ChannelIDs() {
		if ch, ok := d.Lookup(id); ok {
			ch.OnClose()
		}
	}
}
