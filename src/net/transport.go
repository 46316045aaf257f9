package net

import "errors"

// ErrFailedToSend is returned when a message could not be delivered, even
// after reconnecting once.
var ErrFailedToSend = errors.New("failed to send")

// Transport provides an interface for network transports to allow nodes and
// clients to exchange WireMsgs.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to consume incoming
	// messages. Each RPC must be acknowledged with Respond.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Send delivers msg to target and waits for the receiver's
	// acknowledgement.
	Send(target string, msg *WireMsg) error

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
