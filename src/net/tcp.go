package net

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNotAdvertisable is returned when a node would advertise an
	// unspecified address such as 0.0.0.0.
	ErrNotAdvertisable = errors.New("local bind address is not advertisable")
	// ErrNotTCP is returned when the advertised address is not a TCP one.
	ErrNotTCP = errors.New("local address is not a TCP address")
)

// StreamLayer is the listener and dialer under a NetworkTransport.
type StreamLayer interface {
	net.Listener

	// Dial opens a connection to a node or client address.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the address put in the peers we send as.
	AdvertiseAddr() string
}

// TCPConfig ...
type TCPConfig struct {
	// BindAddr is the IP:PORT the node listens on.
	BindAddr string
	// AdvertiseAddr, when set, replaces the bound address in our peer.
	AdvertiseAddr string
	// MaxPool is the number of idle connections kept per target.
	MaxPool int
	// Timeout bounds the I/O of a regular message.
	Timeout time.Duration
	// JoinTimeout bounds the I/O of join traffic, whose resource proofs are
	// large.
	JoinTimeout time.Duration
	// KeepAlive is the TCP keep-alive period of dialed connections. Zero uses
	// the system default.
	KeepAlive time.Duration
}

// tcpStream listens and dials over plain TCP.
type tcpStream struct {
	*net.TCPListener
	advertise string
	dialer    net.Dialer
}

func (s *tcpStream) Dial(address string, timeout time.Duration) (net.Conn, error) {
	d := s.dialer
	d.Timeout = timeout
	return d.Dial("tcp", address)
}

func (s *tcpStream) AdvertiseAddr() string {
	if s.advertise != "" {
		return s.advertise
	}
	return s.Addr().String()
}

// advertisable resolves the address other nodes will reach us at. An empty
// advertise falls back to the bound address.
func advertisable(bound net.Addr, advertise string) (net.Addr, error) {
	addr := bound
	if advertise != "" {
		resolved, err := net.ResolveTCPAddr("tcp", advertise)
		if err != nil {
			return nil, fmt.Errorf("advertise address %q: %w", advertise, err)
		}
		addr = resolved
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return nil, ErrNotTCP
	}
	if tcp.IP.IsUnspecified() {
		return nil, ErrNotAdvertisable
	}
	return tcp, nil
}

// NewTCPTransport binds conf.BindAddr and returns a NetworkTransport over it.
// The caller starts serving with Listen.
func NewTCPTransport(conf TCPConfig, logger *logrus.Entry) (*NetworkTransport, error) {
	list, err := net.Listen("tcp", conf.BindAddr)
	if err != nil {
		return nil, err
	}

	addr, err := advertisable(list.Addr(), conf.AdvertiseAddr)
	if err != nil {
		list.Close()
		return nil, err
	}

	stream := &tcpStream{
		TCPListener: list.(*net.TCPListener),
		advertise:   conf.AdvertiseAddr,
		dialer:      net.Dialer{KeepAlive: conf.KeepAlive},
	}

	trans := NewNetworkTransport(stream, conf.MaxPool, conf.Timeout, conf.JoinTimeout, logger)
	trans.logger.WithFields(logrus.Fields{
		"bind":      list.Addr(),
		"advertise": addr,
	}).Debug("TCP transport bound")

	return trans, nil
}
