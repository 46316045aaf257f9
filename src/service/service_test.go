package service

import (
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/config"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/node"
	"github.com/mosaicnetworks/sectiond/src/store"
)

func newTestService(t *testing.T) (*node.Node, *httptest.Server) {
	t.Helper()
	conf := config.NewTestConfig(t, common.TestLogLevel)
	kp, err := keys.GenerateKeypair()
	require.NoError(t, err)
	_, trans := net.NewInmemTransport("")

	n := node.NewNode(conf, kp, store.NewInmemStore(), trans)
	_, err = n.InitGenesis()
	require.NoError(t, err)
	n.RunAsync()
	t.Cleanup(n.Shutdown)

	s := NewService("", n, common.NewTestEntry(t, common.TestLogLevel))
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)
	return n, server
}

func get(t *testing.T, server *httptest.Server, path string, v interface{}) string {
	t.Helper()
	resp, err := http.Get(server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	if v != nil {
		require.NoError(t, common.UnmarshalJSON(body, v))
	}
	return string(body)
}

func TestStats(t *testing.T) {
	n, server := newTestService(t)

	var stats map[string]string
	get(t, server, "/stats", &stats)
	require.Equal(t, "Running", stats["state"])
	require.Equal(t, n.Name().String(), stats["name"])
}

func TestKnowledgeAndMembers(t *testing.T) {
	n, server := newTestService(t)

	var k KnowledgeView
	get(t, server, "/knowledge", &k)
	require.Equal(t, k.GenesisKey, k.SectionKey)
	require.Len(t, k.Sections, 1)
	require.Len(t, k.Sections[0].Elders, 1)
	require.Equal(t, n.Name().String(), k.Sections[0].Elders[0].Name)

	var members []MemberView
	get(t, server, "/members", &members)
	require.Len(t, members, 1)
	require.Equal(t, "Joined", members[0].State)
}

func TestMetrics(t *testing.T) {
	_, server := newTestService(t)

	body := get(t, server, "/metrics", nil)
	require.True(t, strings.Contains(body, "sectiond_is_elder 1"), body)
}
