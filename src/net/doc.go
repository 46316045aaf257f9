// Package net carries WireMsgs between nodes and clients.
//
// Every message is a WireMsg: an envelope naming the sender, the
// destination name with the sender's view of the destination section key,
// the authority vouching for the message, and a msgpack encoded payload. The
// envelope itself is a fixed binary frame so that it can be inspected before
// the payload is decoded.
//
// Transports implement the Transport interface. Send delivers a message and
// waits for the receiver to accept or refuse it; replies travel as separate
// messages. There are two implementations:
//
// - Inmem: in-memory transport used for testing. Transports created from the
// same InmemNetwork reach each other by address, and addresses can be taken
// down to simulate failures.
//
// - TCP: length prefixed frames over plain TCP, with pooled connections.
//
// TCP
//
// To use a TCP transport, set the following configuration options:
//
// - BindAddr: the IP:PORT of the TCP socket that the node binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other nodes. If
// BindAddr is a local address not reachable by other peers, it is useful to
// set AdvertiseAddr to the reachable public address.
package net
