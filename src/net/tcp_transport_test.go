package net

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/common"
)

func tcpConf(bind, advertise string) TCPConfig {
	return TCPConfig{
		BindAddr:      bind,
		AdvertiseAddr: advertise,
		MaxPool:       1,
		Timeout:       time.Second,
		JoinTimeout:   time.Second,
	}
}

func TestTCPTransportUnspecifiedAddr(t *testing.T) {
	_, err := NewTCPTransport(tcpConf("0.0.0.0:0", ""), common.NewTestEntry(t, common.TestLogLevel))
	require.Equal(t, ErrNotAdvertisable, err)

	_, err = NewTCPTransport(tcpConf("127.0.0.1:0", "0.0.0.0:7000"), common.NewTestEntry(t, common.TestLogLevel))
	require.Equal(t, ErrNotAdvertisable, err)
}

func TestTCPTransportAdvertise(t *testing.T) {
	trans, err := NewTCPTransport(tcpConf("0.0.0.0:0", "127.0.0.1:12345"), common.NewTestEntry(t, common.TestLogLevel))
	require.NoError(t, err)
	defer trans.Close()
	require.Equal(t, "127.0.0.1:12345", trans.AdvertiseAddr())
}

func TestTCPTransportBoundAddr(t *testing.T) {
	trans, err := NewTCPTransport(tcpConf("127.0.0.1:0", ""), common.NewTestEntry(t, common.TestLogLevel))
	require.NoError(t, err)
	defer trans.Close()

	host, port, err := net.SplitHostPort(trans.AdvertiseAddr())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", host)
	require.NotEqual(t, "0", port)
}

func TestTCPTransportBadAdvertise(t *testing.T) {
	_, err := NewTCPTransport(tcpConf("127.0.0.1:0", "not an address"), common.NewTestEntry(t, common.TestLogLevel))
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotAdvertisable))
}
