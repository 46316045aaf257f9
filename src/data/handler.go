package data

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// Store persists data items. Missing items are reported with a
// common.StoreErr of type KeyNotFound.
type Store interface {
	GetChunk(name xorname.Name) (Chunk, error)
	PutChunk(c Chunk) error
	GetMap(addr MapAddress) (*Map, error)
	PutMap(m *Map) error
}

// CmdKind ...
type CmdKind uint8

const (
	PutChunkCmd CmdKind = iota
	CreateMapCmd
	MutateEntriesCmd
	SetUserPermissionsCmd
	DelUserPermissionsCmd
	ChangeOwnerCmd
)

var cmdKinds = []string{
	"PutChunk",
	"CreateMap",
	"MutateEntries",
	"SetUserPermissions",
	"DelUserPermissions",
	"ChangeOwner",
}

func (k CmdKind) String() string {
	if int(k) < len(cmdKinds) {
		return cmdKinds[k]
	}
	return "Unknown"
}

// Cmd is a client request that mutates data. Only the fields relevant to
// Kind are set.
type Cmd struct {
	Kind        CmdKind
	Chunk       *Chunk
	Map         *Map
	Address     MapAddress
	Actions     map[string]EntryAction
	User        User
	Permissions PermissionSet
	Owner       keys.PublicKey
	Version     uint64
}

// PutChunk ...
func PutChunk(content []byte) Cmd {
	c := NewChunk(content)
	return Cmd{Kind: PutChunkCmd, Chunk: &c}
}

// CreateMap ...
func CreateMap(m *Map) Cmd {
	return Cmd{Kind: CreateMapCmd, Map: m, Address: m.Address()}
}

// MutateEntries ...
func MutateEntries(addr MapAddress, actions map[string]EntryAction) Cmd {
	return Cmd{Kind: MutateEntriesCmd, Address: addr, Actions: actions}
}

// SetUserPermissions ...
func SetUserPermissions(addr MapAddress, user User, set PermissionSet, version uint64) Cmd {
	return Cmd{Kind: SetUserPermissionsCmd, Address: addr, User: user, Permissions: set, Version: version}
}

// DelUserPermissions ...
func DelUserPermissions(addr MapAddress, user User, version uint64) Cmd {
	return Cmd{Kind: DelUserPermissionsCmd, Address: addr, User: user, Version: version}
}

// ChangeOwner ...
func ChangeOwner(addr MapAddress, owner keys.PublicKey, version uint64) Cmd {
	return Cmd{Kind: ChangeOwnerCmd, Address: addr, Owner: owner, Version: version}
}

// DstName is the name of the data item the command targets, which decides
// the section responsible for it.
func (c Cmd) DstName() xorname.Name {
	if c.Kind == PutChunkCmd && c.Chunk != nil {
		return c.Chunk.Name()
	}
	return c.Address.Name
}

// QueryKind ...
type QueryKind uint8

const (
	GetChunkQuery QueryKind = iota
	GetMapQuery
	GetMapShellQuery
	GetMapVersionQuery
	GetEntryQuery
	ListEntriesQuery
	ListPermissionsQuery
	GetUserPermissionsQuery
)

var queryKinds = []string{
	"GetChunk",
	"GetMap",
	"GetMapShell",
	"GetMapVersion",
	"GetEntry",
	"ListEntries",
	"ListPermissions",
	"GetUserPermissions",
}

func (k QueryKind) String() string {
	if int(k) < len(queryKinds) {
		return queryKinds[k]
	}
	return "Unknown"
}

// Query is a read-only client request.
type Query struct {
	Kind    QueryKind
	Name    xorname.Name
	Address MapAddress
	Key     []byte
	User    User
}

// DstName ...
func (q Query) DstName() xorname.Name {
	if q.Kind == GetChunkQuery {
		return q.Name
	}
	return q.Address.Name
}

// QueryResult carries the answer to a Query, or the data error it produced.
type QueryResult struct {
	Chunk       *Chunk
	Map         *Map
	Version     uint64
	Value       *Value
	Entries     map[string]Value
	Permissions []UserPermissions
	Set         *PermissionSet
	Err         *Error
}

// AsError extracts the data error carried by err.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// Handler executes data commands and queries against a Store. Commands on
// the same address are serialised.
type Handler struct {
	store  Store
	limits Limits
	locks  *NameLocker
	logger *logrus.Entry
}

// NewHandler ...
func NewHandler(store Store, limits Limits, logger *logrus.Entry) *Handler {
	return &Handler{
		store:  store,
		limits: limits,
		locks:  NewNameLocker(),
		logger: logger.WithField("prefix", "data"),
	}
}

// HandleCmd applies cmd on behalf of requester. Data errors are returned as
// *Error; anything else is a storage failure.
func (h *Handler) HandleCmd(requester keys.PublicKey, cmd Cmd) error {
	var err error
	switch cmd.Kind {
	case PutChunkCmd:
		err = h.putChunk(cmd)
	case CreateMapCmd:
		err = h.createMap(requester, cmd)
	case MutateEntriesCmd, SetUserPermissionsCmd, DelUserPermissionsCmd, ChangeOwnerCmd:
		err = h.mutateMap(requester, cmd)
	default:
		err = NewError(InvalidOperation)
	}
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"cmd":   cmd.Kind,
			"name":  cmd.DstName(),
			"error": err,
		}).Debug("Cmd failed")
	}
	return err
}

func (h *Handler) putChunk(cmd Cmd) error {
	if cmd.Chunk == nil {
		return NewError(InvalidOperation)
	}
	if h.limits.MaxSize > 0 && len(cmd.Chunk.Content) > h.limits.MaxSize {
		return NewError(DataTooLarge)
	}

	name := cmd.Chunk.Name()
	h.locks.Lock(name[:])
	defer h.locks.Unlock(name[:])

	_, err := h.store.GetChunk(name)
	switch {
	case err == nil:
		// Same name means same content.
		return nil
	case !common.IsStore(err, common.KeyNotFound):
		return fmt.Errorf("reading chunk %s: %w", name, err)
	}
	return h.store.PutChunk(*cmd.Chunk)
}

func (h *Handler) createMap(requester keys.PublicKey, cmd Cmd) error {
	m := cmd.Map
	if m == nil {
		return NewError(InvalidOperation)
	}
	if len(m.Owners) != 1 || !m.Owners[0].Equal(requester) {
		return NewError(InvalidOwners)
	}
	if m.Version != 0 {
		return newVersionError(InvalidSuccessor, 0)
	}
	m = m.Clone()
	sortPermissions(m.Permissions)
	if err := m.CheckLimits(h.limits); err != nil {
		return err
	}

	key := m.Address().Key()
	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	_, err := h.store.GetMap(m.Address())
	switch {
	case err == nil:
		return NewError(DataExists)
	case !common.IsStore(err, common.KeyNotFound):
		return fmt.Errorf("reading map %s: %w", m.Address(), err)
	}
	return h.store.PutMap(m)
}

func (h *Handler) mutateMap(requester keys.PublicKey, cmd Cmd) error {
	key := cmd.Address.Key()
	h.locks.Lock(key)
	defer h.locks.Unlock(key)

	m, err := h.getMap(cmd.Address)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case MutateEntriesCmd:
		err = m.MutateEntries(requester, cmd.Actions, h.limits)
	case SetUserPermissionsCmd:
		err = m.SetUserPermissions(requester, cmd.User, cmd.Permissions, cmd.Version)
	case DelUserPermissionsCmd:
		err = m.DelUserPermissions(requester, cmd.User, cmd.Version)
	case ChangeOwnerCmd:
		err = m.ChangeOwner(requester, cmd.Owner, cmd.Version)
	}
	if err != nil {
		return err
	}
	if cmd.Kind != MutateEntriesCmd {
		if err := m.CheckLimits(h.limits); err != nil {
			return err
		}
	}
	return h.store.PutMap(m)
}

func (h *Handler) getMap(addr MapAddress) (*Map, error) {
	m, err := h.store.GetMap(addr)
	if err != nil {
		if common.IsStore(err, common.KeyNotFound) {
			return nil, NewError(NoSuchData)
		}
		return nil, fmt.Errorf("reading map %s: %w", addr, err)
	}
	return m, nil
}

// HandleQuery answers q. Reads are not permissioned.
func (h *Handler) HandleQuery(q Query) (QueryResult, error) {
	if q.Kind == GetChunkQuery {
		c, err := h.store.GetChunk(q.Name)
		if err != nil {
			if common.IsStore(err, common.KeyNotFound) {
				return QueryResult{Err: NewError(NoSuchData)}, nil
			}
			return QueryResult{}, err
		}
		return QueryResult{Chunk: &c}, nil
	}

	m, err := h.getMap(q.Address)
	if err != nil {
		if de, ok := AsError(err); ok {
			return QueryResult{Err: de}, nil
		}
		return QueryResult{}, err
	}

	switch q.Kind {
	case GetMapQuery:
		return QueryResult{Map: m}, nil
	case GetMapShellQuery:
		return QueryResult{Map: m.Shell()}, nil
	case GetMapVersionQuery:
		return QueryResult{Version: m.Version}, nil
	case GetEntryQuery:
		v, ok := m.Get(q.Key)
		if !ok {
			return QueryResult{Err: NewError(NoSuchEntry)}, nil
		}
		return QueryResult{Value: &v}, nil
	case ListEntriesQuery:
		return QueryResult{Entries: m.LiveEntries()}, nil
	case ListPermissionsQuery:
		return QueryResult{Permissions: m.Permissions}, nil
	case GetUserPermissionsQuery:
		set, ok := m.UserPermissions(q.User)
		if !ok {
			return QueryResult{Err: NewError(NoSuchEntry)}, nil
		}
		return QueryResult{Set: &set}, nil
	}
	return QueryResult{Err: NewError(InvalidOperation)}, nil
}
