package net

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// NewInmemAddr returns a new in-memory addr with a random UUID as the ID.
func NewInmemAddr() string {
	return uuid.New().String()
}

// InmemNetwork is a registry of in-memory transports that can reach each
// other by address. Transports can be cut off to simulate failures.
type InmemNetwork struct {
	sync.RWMutex
	transports map[string]*InmemTransport
	down       map[string]bool
}

// NewInmemNetwork ...
func NewInmemNetwork() *InmemNetwork {
	return &InmemNetwork{
		transports: make(map[string]*InmemTransport),
		down:       make(map[string]bool),
	}
}

// NewTransport creates a transport registered in the network.
func (n *InmemNetwork) NewTransport(addr string) (string, *InmemTransport) {
	addr, trans := NewInmemTransport(addr)
	trans.network = n
	n.Lock()
	n.transports[addr] = trans
	n.Unlock()
	return addr, trans
}

// SetDown makes addr unreachable, or reachable again.
func (n *InmemNetwork) SetDown(addr string, down bool) {
	n.Lock()
	defer n.Unlock()
	if down {
		n.down[addr] = true
	} else {
		delete(n.down, addr)
	}
}

func (n *InmemNetwork) lookup(addr string) (*InmemTransport, bool) {
	n.RLock()
	defer n.RUnlock()
	if n.down[addr] {
		return nil, false
	}
	t, ok := n.transports[addr]
	return t, ok
}

func (n *InmemNetwork) remove(addr string) {
	n.Lock()
	defer n.Unlock()
	delete(n.transports, addr)
}

// InmemTransport Implements the Transport interface, to allow nodes to be
// tested in-memory without going over a network. Messages still go through
// the wire encoding.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan RPC
	localAddr  string
	peers      map[string]*InmemTransport
	network    *InmemNetwork
	timeout    time.Duration
	closed     bool
}

// NewInmemTransport is used to initialize a new transport
// and generates a random local address if none is specified
func NewInmemTransport(addr string) (string, *InmemTransport) {
	if addr == "" {
		addr = NewInmemAddr()
	}
	trans := &InmemTransport{
		consumerCh: make(chan RPC, 64),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
		timeout:    time.Second,
	}
	return addr, trans
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan RPC {
	return i.consumerCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Send implements the Transport interface.
func (i *InmemTransport) Send(target string, msg *WireMsg) error {
	frame, err := msg.Marshal()
	if err != nil {
		return err
	}
	copied := new(WireMsg)
	if err := copied.Unmarshal(frame); err != nil {
		return err
	}

	i.RLock()
	peer, ok := i.peers[target]
	network := i.network
	closed := i.closed
	i.RUnlock()

	if closed {
		return ErrTransportShutdown
	}
	if !ok && network != nil {
		peer, ok = network.lookup(target)
	}
	if !ok {
		return fmt.Errorf("%w: failed to connect to peer: %v", ErrFailedToSend, target)
	}

	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		Command:  copied,
		RespChan: respCh,
	}

	timer := time.NewTimer(i.timeout)
	defer timer.Stop()

	// Send the RPC over
	select {
	case peer.consumerCh <- rpc:
	case <-timer.C:
		return fmt.Errorf("%w: %v is not consuming", ErrFailedToSend, target)
	}

	// Wait for a response
	select {
	case resp := <-respCh:
		return resp.Error
	case <-timer.C:
		return fmt.Errorf("%w: command timed out", ErrFailedToSend)
	}
}

// Connect is used to connect this transport to another transport for
// a given peer name. This allows for local routing.
func (i *InmemTransport) Connect(peer string, t Transport) {
	trans := t.(*InmemTransport)
	i.Lock()
	defer i.Unlock()
	i.peers[peer] = trans
}

// Disconnect is used to remove the ability to route to a given peer.
func (i *InmemTransport) Disconnect(peer string) {
	i.Lock()
	defer i.Unlock()
	delete(i.peers, peer)
}

// DisconnectAll is used to remove all routes to peers.
func (i *InmemTransport) DisconnectAll() {
	i.Lock()
	defer i.Unlock()
	i.peers = make(map[string]*InmemTransport)
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.DisconnectAll()
	i.Lock()
	i.closed = true
	network := i.network
	i.Unlock()
	if network != nil {
		network.remove(i.localAddr)
	}
	return nil
}

// Listen is an empty function as there is no need to defer
// initialisation of the InMem service
func (i *InmemTransport) Listen() {
}
