package data_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	porc "github.com/anishathalye/porcupine"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/store"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

func newHandler(t *testing.T) *data.Handler {
	return data.NewHandler(store.NewInmemStore(), data.DefaultLimits(), common.NewTestEntry(t, logrus.DebugLevel))
}

func clientKey(t *testing.T) keys.PublicKey {
	t.Helper()
	ck, err := keys.GenerateClientKey()
	require.NoError(t, err)
	return ck.PublicKey()
}

func TestChunkRoundTrip(t *testing.T) {
	h := newHandler(t)
	owner := clientKey(t)

	cmd := data.PutChunk([]byte("hello"))
	require.Equal(t, xorname.FromContent([]byte("hello")), cmd.DstName())
	require.NoError(t, h.HandleCmd(owner, cmd))
	// puts are idempotent
	require.NoError(t, h.HandleCmd(owner, cmd))

	res, err := h.HandleQuery(data.Query{Kind: data.GetChunkQuery, Name: cmd.DstName()})
	require.NoError(t, err)
	require.Nil(t, res.Err)
	require.Equal(t, []byte("hello"), res.Chunk.Content)

	res, err = h.HandleQuery(data.Query{Kind: data.GetChunkQuery, Name: xorname.Random()})
	require.NoError(t, err)
	require.Equal(t, data.NoSuchData, res.Err.Kind)
}

func TestCreateMap(t *testing.T) {
	h := newHandler(t)
	owner := clientKey(t)
	other := clientKey(t)

	m := data.NewMap(xorname.Random(), 100, owner)

	err := h.HandleCmd(other, data.CreateMap(m))
	de, ok := data.AsError(err)
	require.True(t, ok)
	require.Equal(t, data.InvalidOwners, de.Kind)

	require.NoError(t, h.HandleCmd(owner, data.CreateMap(m)))

	err = h.HandleCmd(owner, data.CreateMap(m))
	de, ok = data.AsError(err)
	require.True(t, ok)
	require.Equal(t, data.DataExists, de.Kind)

	// same name, different tag
	m2 := data.NewMap(m.Name, 101, owner)
	require.NoError(t, h.HandleCmd(owner, data.CreateMap(m2)))

	res, err := h.HandleQuery(data.Query{Kind: data.GetMapVersionQuery, Address: m.Address()})
	require.NoError(t, err)
	require.Nil(t, res.Err)
	require.Equal(t, uint64(0), res.Version)
}

func TestHandlerMapFlow(t *testing.T) {
	h := newHandler(t)
	owner := clientKey(t)
	alice := clientKey(t)

	m := data.NewMap(xorname.Random(), 7, owner)
	addr := m.Address()
	require.NoError(t, h.HandleCmd(owner, data.CreateMap(m)))

	require.NoError(t, h.HandleCmd(owner, data.MutateEntries(addr, map[string]data.EntryAction{
		"k": data.InsAction([]byte("v"), 0),
	})))

	err := h.HandleCmd(alice, data.MutateEntries(addr, map[string]data.EntryAction{
		"k": data.UpdateEntryAction([]byte("x"), 1),
	}))
	de, _ := data.AsError(err)
	require.Equal(t, data.AccessDenied, de.Kind)

	set := data.PermissionSet{}.Allow(data.UpdateAction)
	require.NoError(t, h.HandleCmd(owner, data.SetUserPermissions(addr, data.KeyUser(alice), set, 1)))
	require.NoError(t, h.HandleCmd(alice, data.MutateEntries(addr, map[string]data.EntryAction{
		"k": data.UpdateEntryAction([]byte("x"), 1),
	})))

	res, err := h.HandleQuery(data.Query{Kind: data.GetEntryQuery, Address: addr, Key: []byte("k")})
	require.NoError(t, err)
	require.Equal(t, []byte("x"), res.Value.Content)
	require.Equal(t, uint64(1), res.Value.EntryVersion)

	res, err = h.HandleQuery(data.Query{Kind: data.GetUserPermissionsQuery, Address: addr, User: data.KeyUser(alice)})
	require.NoError(t, err)
	require.Equal(t, set, *res.Set)

	require.NoError(t, h.HandleCmd(owner, data.ChangeOwner(addr, alice, 2)))

	res, err = h.HandleQuery(data.Query{Kind: data.GetMapShellQuery, Address: addr})
	require.NoError(t, err)
	require.Empty(t, res.Map.Entries)
	require.Equal(t, uint64(2), res.Map.Version)
	require.True(t, res.Map.Owner().Equal(alice))

	err = h.HandleCmd(owner, data.DelUserPermissions(addr, data.KeyUser(alice), 3))
	de, _ = data.AsError(err)
	require.Equal(t, data.AccessDenied, de.Kind)

	res, err = h.HandleQuery(data.Query{Kind: data.GetMapQuery, Address: data.MapAddress{Name: xorname.Random(), Tag: 7}})
	require.NoError(t, err)
	require.Equal(t, data.NoSuchData, res.Err.Kind)
}

// Linearizability of concurrent entry operations.

type regInput struct {
	op      string
	content string
	version uint64
}

type regOutput struct {
	ok      bool
	kind    data.ErrorKind
	version uint64
	content string
}

type regState struct {
	exists  bool
	version uint64
	content string
}

var registerModel = porc.Model{
	Init: func() interface{} {
		return regState{}
	},
	Step: func(state, input, output interface{}) (bool, interface{}) {
		s := state.(regState)
		in := input.(regInput)
		out := output.(regOutput)
		switch in.op {
		case "get":
			if !s.exists {
				return !out.ok && out.kind == data.NoSuchEntry, s
			}
			return out.ok && out.version == s.version && out.content == s.content, s
		case "ins":
			if s.exists {
				return !out.ok && out.kind == data.EntryExists && out.version == s.version, s
			}
			if in.version != 0 {
				return !out.ok && out.kind == data.InvalidSuccessor, s
			}
			return out.ok, regState{exists: true, version: 0, content: in.content}
		default:
			if !s.exists {
				return !out.ok && out.kind == data.NoSuchEntry, s
			}
			if in.version != s.version+1 {
				return !out.ok && out.kind == data.InvalidSuccessor && out.version == s.version, s
			}
			return out.ok, regState{exists: true, version: in.version, content: in.content}
		}
	},
	DescribeOperation: func(input, output interface{}) string {
		return fmt.Sprintf("%v -> %v", input, output)
	},
}

func runEntryOp(h *data.Handler, owner keys.PublicKey, addr data.MapAddress, in regInput) regOutput {
	if in.op == "get" {
		res, err := h.HandleQuery(data.Query{Kind: data.GetEntryQuery, Address: addr, Key: []byte("k")})
		if err != nil || res.Err != nil {
			return regOutput{kind: data.NoSuchEntry}
		}
		return regOutput{ok: true, version: res.Value.EntryVersion, content: string(res.Value.Content)}
	}

	action := data.InsAction([]byte(in.content), in.version)
	if in.op == "update" {
		action = data.UpdateEntryAction([]byte(in.content), in.version)
	}
	err := h.HandleCmd(owner, data.MutateEntries(addr, map[string]data.EntryAction{"k": action}))
	if err == nil {
		return regOutput{ok: true}
	}
	de, ok := data.AsError(err)
	if !ok || len(de.Entries) != 1 {
		return regOutput{kind: data.InvalidOperation}
	}
	return regOutput{kind: de.Entries[0].Kind, version: de.Entries[0].Version}
}

func TestConcurrentEntryOpsAreLinearizable(t *testing.T) {
	h := newHandler(t)
	owner := clientKey(t)
	m := data.NewMap(xorname.Random(), 1, owner)
	require.NoError(t, h.HandleCmd(owner, data.CreateMap(m)))

	var (
		clock int64
		mu    sync.Mutex
		ops   []porc.Operation
		wg    sync.WaitGroup
	)

	record := func(cid int, in regInput) regOutput {
		call := atomic.AddInt64(&clock, 1)
		out := runEntryOp(h, owner, m.Address(), in)
		ret := atomic.AddInt64(&clock, 1)
		mu.Lock()
		ops = append(ops, porc.Operation{ClientId: cid, Input: in, Call: call, Output: out, Return: ret})
		mu.Unlock()
		return out
	}

	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func(cid int) {
			defer wg.Done()
			record(cid, regInput{op: "ins", content: fmt.Sprintf("c%d", cid)})
			for i := 0; i < 10; i++ {
				cur := record(cid, regInput{op: "get"})
				next := uint64(0)
				if cur.ok {
					next = cur.version + 1
				}
				record(cid, regInput{op: "update", content: fmt.Sprintf("c%d-%d", cid, i), version: next})
			}
		}(c)
	}
	wg.Wait()

	require.True(t, porc.CheckOperations(registerModel, ops), "history is not linearizable")

	res, err := h.HandleQuery(data.Query{Kind: data.GetEntryQuery, Address: m.Address(), Key: []byte("k")})
	require.NoError(t, err)
	require.NotNil(t, res.Value)
}
