package client

import (
	"context"

	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/net"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// Cmd sends a data command. A data error refused by the elders is returned
// as a *data.Error.
func (c *Client) Cmd(ctx context.Context, cmd data.Cmd) error {
	resp, err := c.send(ctx, net.ClientCmdMsg, cmd.DstName(), net.ClientCmd{Cmd: cmd})
	if err != nil {
		return err
	}
	var r net.CmdResponse
	if err := resp.DecodePayload(&r); err != nil {
		return err
	}
	if r.Err != nil {
		return r.Err
	}
	return nil
}

// Query sends a data query. A data error in the result is returned as a
// *data.Error.
func (c *Client) Query(ctx context.Context, q data.Query) (data.QueryResult, error) {
	resp, err := c.send(ctx, net.ClientQueryMsg, q.DstName(), net.ClientQuery{Query: q})
	if err != nil {
		return data.QueryResult{}, err
	}
	var r net.QueryResponse
	if err := resp.DecodePayload(&r); err != nil {
		return data.QueryResult{}, err
	}
	if r.Result.Err != nil {
		return r.Result, r.Result.Err
	}
	return r.Result, nil
}

// PutChunk stores content and returns the name it is stored under.
func (c *Client) PutChunk(ctx context.Context, content []byte) (xorname.Name, error) {
	cmd := data.PutChunk(content)
	if err := c.Cmd(ctx, cmd); err != nil {
		return xorname.Name{}, err
	}
	return cmd.Chunk.Name(), nil
}

// GetChunk ...
func (c *Client) GetChunk(ctx context.Context, name xorname.Name) (data.Chunk, error) {
	res, err := c.Query(ctx, data.Query{Kind: data.GetChunkQuery, Name: name})
	if err != nil {
		return data.Chunk{}, err
	}
	return *res.Chunk, nil
}

// CreateMap stores a new map. Its owner must be the client's key.
func (c *Client) CreateMap(ctx context.Context, m *data.Map) error {
	return c.Cmd(ctx, data.CreateMap(m))
}

// GetMap ...
func (c *Client) GetMap(ctx context.Context, addr data.MapAddress) (*data.Map, error) {
	res, err := c.Query(ctx, data.Query{Kind: data.GetMapQuery, Address: addr})
	if err != nil {
		return nil, err
	}
	return res.Map, nil
}

// GetMapVersion ...
func (c *Client) GetMapVersion(ctx context.Context, addr data.MapAddress) (uint64, error) {
	res, err := c.Query(ctx, data.Query{Kind: data.GetMapVersionQuery, Address: addr})
	if err != nil {
		return 0, err
	}
	return res.Version, nil
}

// GetEntry returns the value of key in a map.
func (c *Client) GetEntry(ctx context.Context, addr data.MapAddress, key []byte) (data.Value, error) {
	res, err := c.Query(ctx, data.Query{Kind: data.GetEntryQuery, Address: addr, Key: key})
	if err != nil {
		return data.Value{}, err
	}
	return *res.Value, nil
}

// ListEntries returns the entries of a map that are not deleted.
func (c *Client) ListEntries(ctx context.Context, addr data.MapAddress) (map[string]data.Value, error) {
	res, err := c.Query(ctx, data.Query{Kind: data.ListEntriesQuery, Address: addr})
	if err != nil {
		return nil, err
	}
	return res.Entries, nil
}

// MutateEntries applies actions to the entries of a map, all or none.
func (c *Client) MutateEntries(ctx context.Context, addr data.MapAddress, actions map[string]data.EntryAction) error {
	return c.Cmd(ctx, data.MutateEntries(addr, actions))
}

// SetUserPermissions ...
func (c *Client) SetUserPermissions(ctx context.Context, addr data.MapAddress, user data.User, set data.PermissionSet, version uint64) error {
	return c.Cmd(ctx, data.SetUserPermissions(addr, user, set, version))
}

// DelUserPermissions ...
func (c *Client) DelUserPermissions(ctx context.Context, addr data.MapAddress, user data.User, version uint64) error {
	return c.Cmd(ctx, data.DelUserPermissions(addr, user, version))
}

// ChangeOwner hands a map over to owner.
func (c *Client) ChangeOwner(ctx context.Context, addr data.MapAddress, owner keys.PublicKey, version uint64) error {
	return c.Cmd(ctx, data.ChangeOwner(addr, owner, version))
}
