package net

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tchajed/marshal"
)

/*******************************************************************************
THE POOLING AND CONNECTION HANDLING COME FROM HASHICORP RAFT
*******************************************************************************/

const (
	rpcMsg uint8 = iota
)

const (
	bufSize = 64 * 1024
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

/*
NetworkTransport provides a network based transport that can be used to
exchange WireMsgs with remote nodes. It requires an underlying stream layer to
provide a stream abstraction, which can be simple TCP, TLS, etc.

Each request is framed by a byte that indicates the request type, followed by
the length prefixed WireMsg frame. The response is a length prefixed error
string, empty on success.

Connections are pooled per target. A send that fails on a pooled connection
is retried once on a fresh connection before ErrFailedToSend is returned.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	connPool     map[string][]*netConn
	connPoolLock sync.Mutex
	maxPool      int

	consumeCh chan RPC

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout     time.Duration
	joinTimeout time.Duration
}

type netConn struct {
	target string
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
}

// Release closes the underlying connection
func (n *netConn) Release() error {
	return n.conn.Close()
}

// NewNetworkTransport creates a new network transport with the given dialer
// and listener. The maxPool controls how many connections we will pool (per
// target). The timeout is used to apply I/O deadlines. The joinTimeout is
// used for join traffic, whose proofs are large.
func NewNetworkTransport(
	stream StreamLayer,
	maxPool int,
	timeout time.Duration,
	joinTimeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	trans := &NetworkTransport{
		connPool:    make(map[string][]*netConn),
		consumeCh:   make(chan RPC),
		logger:      logger.WithField("prefix", "net"),
		maxPool:     maxPool,
		shutdownCh:  make(chan struct{}),
		stream:      stream,
		timeout:     timeout,
		joinTimeout: joinTimeout,
	}

	return trans
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.stream.Close()

		n.connPoolLock.Lock()
		for target, conns := range n.connPool {
			for _, c := range conns {
				c.Release()
			}
			delete(n.connPool, target)
		}
		n.connPoolLock.Unlock()

		n.shutdown = true
	}
	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan RPC {
	return n.consumeCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// getPooledConn is used to grab a pooled connection.
func (n *NetworkTransport) getPooledConn(target string) *netConn {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	conns, ok := n.connPool[target]
	if !ok || len(conns) == 0 {
		return nil
	}

	var conn *netConn
	num := len(conns)
	conn, conns[num-1] = conns[num-1], nil
	n.connPool[target] = conns[:num-1]
	return conn
}

// dropPool closes every pooled connection to target.
func (n *NetworkTransport) dropPool(target string) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	for _, c := range n.connPool[target] {
		c.Release()
	}
	delete(n.connPool, target)
}

// dial opens a new connection to target.
func (n *NetworkTransport) dial(target string, timeout time.Duration) (*netConn, error) {
	conn, err := n.stream.Dial(target, timeout)
	if err != nil {
		return nil, err
	}

	return &netConn{
		target: target,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, bufSize),
		w:      bufio.NewWriterSize(conn, bufSize),
	}, nil
}

// returnConn returns a connection back to the pool.
func (n *NetworkTransport) returnConn(conn *netConn) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	key := conn.target
	conns := n.connPool[key]

	if !n.IsShutdown() && len(conns) < n.maxPool {
		n.connPool[key] = append(conns, conn)
	} else {
		conn.Release()
	}
}

// Send implements the Transport interface.
func (n *NetworkTransport) Send(target string, msg *WireMsg) error {
	if n.IsShutdown() {
		return ErrTransportShutdown
	}

	frame, err := msg.Marshal()
	if err != nil {
		return err
	}

	timeout := n.timeout
	if msg.Kind == JoinRequestMsg || msg.Kind == JoinAsRelocatedMsg || msg.Kind == ResourceChallengeMsg {
		timeout = n.joinTimeout
	}

	conn := n.getPooledConn(target)
	if conn != nil {
		err = n.roundTrip(conn, frame, timeout)
		if err == nil {
			return nil
		}
		if _, refused := err.(remoteError); refused {
			return err
		}
		n.logger.WithFields(logrus.Fields{
			"target": target,
			"error":  err,
		}).Debug("Pooled connection failed, reconnecting")
		n.dropPool(target)
	}

	conn, err = n.dial(target, timeout)
	if err != nil {
		return fmt.Errorf("%w to %s: %v", ErrFailedToSend, target, err)
	}
	if err := n.roundTrip(conn, frame, timeout); err != nil {
		if _, refused := err.(remoteError); refused {
			return err
		}
		return fmt.Errorf("%w to %s: %v", ErrFailedToSend, target, err)
	}
	return nil
}

// remoteError is an error reported by the receiver. The connection is still
// usable.
type remoteError string

func (e remoteError) Error() string {
	return string(e)
}

// roundTrip sends a frame and reads the acknowledgement. The connection is
// returned to the pool unless it failed.
func (n *NetworkTransport) roundTrip(conn *netConn, frame []byte, timeout time.Duration) error {
	if timeout > 0 {
		conn.conn.SetDeadline(time.Now().Add(timeout))
	}

	if err := conn.w.WriteByte(rpcMsg); err != nil {
		conn.Release()
		return err
	}
	if err := writeFrame(conn.w, frame); err != nil {
		conn.Release()
		return err
	}
	if err := conn.w.Flush(); err != nil {
		conn.Release()
		return err
	}

	resp, err := readFrame(conn.r)
	if err != nil {
		conn.Release()
		return err
	}
	n.returnConn(conn)

	if len(resp) != 0 {
		return remoteError(resp)
	}
	return nil
}

func writeFrame(w *bufio.Writer, frame []byte) error {
	if _, err := w.Write(marshal.WriteInt(nil, uint64(len(frame)))); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size, _ := marshal.ReadInt(header[:])
	if size > 2*MaxMsgSize {
		return nil, fmt.Errorf("%w: frame of %d bytes", ErrMalformedMsg, size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// Listen opens the stream and handles incoming connections.
func (n *NetworkTransport) Listen() {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		// Handle the connection in dedicated routine
		go n.handleConn(conn)
	}
}

// handleConn is used to handle an inbound connection for its lifespan.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReaderSize(conn, bufSize)
	w := bufio.NewWriterSize(conn, bufSize)

	for {
		if err := n.handleCommand(r, w); err != nil {
			if err == ErrTransportShutdown {
				n.logger.WithField("error", err).Debug("Stopped handling connection")
			} else if err != io.EOF {
				n.logger.WithField("error", err).Error("Failed to decode incoming message")
			}
			return
		}
		if err := w.Flush(); err != nil {
			n.logger.WithField("error", err).Error("Failed to flush response")
			return
		}
	}
}

// handleCommand is used to decode and dispatch a single message.
func (n *NetworkTransport) handleCommand(r *bufio.Reader, w *bufio.Writer) error {
	// Get the rpc type
	rpcType, err := r.ReadByte()
	if err != nil {
		return err
	}
	if rpcType != rpcMsg {
		return fmt.Errorf("unknown rpc type %d", rpcType)
	}

	frame, err := readFrame(r)
	if err != nil {
		return err
	}

	msg := new(WireMsg)
	if err := msg.Unmarshal(frame); err != nil {
		// the stream is still aligned, refuse the message only
		return writeFrame(w, []byte(err.Error()))
	}

	// Create the RPC object
	respCh := make(chan RPCResponse, 1)
	rpc := RPC{
		Command:  msg,
		RespChan: respCh,
	}

	// Dispatch the RPC
	select {
	case n.consumeCh <- rpc:
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}

	// Wait for response
	select {
	case resp := <-respCh:
		respErr := ""
		if resp.Error != nil {
			respErr = resp.Error.Error()
		}
		return writeFrame(w, []byte(respErr))
	case <-n.shutdownCh:
		return ErrTransportShutdown
	}
}
