package data

import (
	"encoding/binary"
	"fmt"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

const (
	// DefaultMaxEntries is the maximum number of entries in a map, tombstones
	// included.
	DefaultMaxEntries = 1000
	// DefaultMaxSize is the maximum serialised size of a data item.
	DefaultMaxSize = 1024 * 1024
)

// Limits bound the size of data items.
type Limits struct {
	MaxEntries int
	MaxSize    int
}

// DefaultLimits ...
func DefaultLimits() Limits {
	return Limits{MaxEntries: DefaultMaxEntries, MaxSize: DefaultMaxSize}
}

// MapAddress identifies a map by name and type tag.
type MapAddress struct {
	Name xorname.Name
	Tag  uint64
}

// Key returns the store key of the address.
func (a MapAddress) Key() []byte {
	k := make([]byte, xorname.NameLen+8)
	copy(k, a.Name[:])
	binary.BigEndian.PutUint64(k[xorname.NameLen:], a.Tag)
	return k
}

func (a MapAddress) String() string {
	return fmt.Sprintf("%s/%d", a.Name, a.Tag)
}

// Value is the content of a map entry. Deleted entries keep their slot as a
// tombstone carrying the deletion version.
type Value struct {
	Content      []byte
	EntryVersion uint64
	Deleted      bool
}

// Map is a structured, versioned data item with a single owner.
type Map struct {
	Name        xorname.Name
	Tag         uint64
	Entries     map[string]Value
	Permissions []UserPermissions
	Owners      []keys.PublicKey
	Version     uint64
}

// NewMap returns an empty map owned by owner.
func NewMap(name xorname.Name, tag uint64, owner keys.PublicKey) *Map {
	return &Map{
		Name:    name,
		Tag:     tag,
		Entries: make(map[string]Value),
		Owners:  []keys.PublicKey{owner},
	}
}

// Address ...
func (m *Map) Address() MapAddress {
	return MapAddress{Name: m.Name, Tag: m.Tag}
}

// Owner returns the current owner.
func (m *Map) Owner() keys.PublicKey {
	if len(m.Owners) == 0 {
		return keys.PublicKey{}
	}
	return m.Owners[0]
}

// Clone returns a deep copy.
func (m *Map) Clone() *Map {
	c := *m
	c.Entries = make(map[string]Value, len(m.Entries))
	for k, v := range m.Entries {
		v.Content = append([]byte(nil), v.Content...)
		c.Entries[k] = v
	}
	c.Permissions = append([]UserPermissions(nil), m.Permissions...)
	c.Owners = append([]keys.PublicKey(nil), m.Owners...)
	return &c
}

// Shell returns a copy of the map without its entries.
func (m *Map) Shell() *Map {
	c := m.Clone()
	c.Entries = make(map[string]Value)
	return c
}

// Marshal ...
func (m *Map) Marshal() ([]byte, error) {
	return common.Marshal(m)
}

// Unmarshal ...
func (m *Map) Unmarshal(data []byte) error {
	if err := common.Unmarshal(data, m); err != nil {
		return err
	}
	if m.Entries == nil {
		m.Entries = make(map[string]Value)
	}
	return nil
}

// Get returns the live value of key.
func (m *Map) Get(key []byte) (Value, bool) {
	v, ok := m.Entries[string(key)]
	if !ok || v.Deleted {
		return Value{}, false
	}
	return v, true
}

// LiveEntries returns entries that are not tombstones.
func (m *Map) LiveEntries() map[string]Value {
	res := make(map[string]Value, len(m.Entries))
	for k, v := range m.Entries {
		if !v.Deleted {
			res[k] = v
		}
	}
	return res
}

// UserPermissions returns the permission set granted to user.
func (m *Map) UserPermissions(user User) (PermissionSet, bool) {
	for _, up := range m.Permissions {
		if up.User.Equal(user) {
			return up.Set, true
		}
	}
	return PermissionSet{}, false
}

// IsOwner ...
func (m *Map) IsOwner(pk keys.PublicKey) bool {
	for _, o := range m.Owners {
		if o.Equal(pk) {
			return true
		}
	}
	return false
}

// IsAllowed tells whether requester may perform action. Owners may do
// anything. Otherwise the requester's own permission set decides if it has
// one, and the Anyone set decides if it does not.
func (m *Map) IsAllowed(requester keys.PublicKey, action Action) bool {
	if m.IsOwner(requester) {
		return true
	}
	// the requester's own set decides unless it leaves the action undefined
	if set, ok := m.UserPermissions(KeyUser(requester)); ok && set.IsAllowed(action) != common.Undefined {
		return set.IsAllowed(action) == common.True
	}
	if set, ok := m.UserPermissions(Anyone()); ok {
		return set.IsAllowed(action) == common.True
	}
	return false
}

// CheckLimits ...
func (m *Map) CheckLimits(limits Limits) error {
	if len(m.Owners) != 1 {
		return NewError(InvalidOwners)
	}
	if limits.MaxEntries > 0 && len(m.Entries) > limits.MaxEntries {
		return NewError(TooManyEntries)
	}
	if limits.MaxSize > 0 {
		b, err := m.Marshal()
		if err != nil || len(b) > limits.MaxSize {
			return NewError(DataTooLarge)
		}
	}
	return nil
}

// EntryActionKind ...
type EntryActionKind uint8

const (
	// Ins inserts a new entry.
	Ins EntryActionKind = iota
	// Update replaces the value of a live entry.
	Update
	// Del turns a live entry into a tombstone.
	Del
)

func (k EntryActionKind) action() Action {
	switch k {
	case Ins:
		return InsertAction
	case Update:
		return UpdateAction
	default:
		return DeleteAction
	}
}

// EntryAction is a single entry mutation. Value is used by Ins and Update;
// Version by Del.
type EntryAction struct {
	Kind    EntryActionKind
	Value   Value
	Version uint64
}

// InsAction ...
func InsAction(content []byte, version uint64) EntryAction {
	return EntryAction{Kind: Ins, Value: Value{Content: content, EntryVersion: version}}
}

// UpdateEntryAction ...
func UpdateEntryAction(content []byte, version uint64) EntryAction {
	return EntryAction{Kind: Update, Value: Value{Content: content, EntryVersion: version}}
}

// DelAction ...
func DelAction(version uint64) EntryAction {
	return EntryAction{Kind: Del, Version: version}
}

// MutateEntries applies actions atomically. Either every action succeeds or
// the map is left untouched. The map version does not change.
func (m *Map) MutateEntries(requester keys.PublicKey, actions map[string]EntryAction, limits Limits) error {
	for _, a := range actions {
		if !m.IsAllowed(requester, a.Kind.action()) {
			return NewError(AccessDenied)
		}
	}

	updated := make(map[string]Value, len(actions))
	failed := make(map[string]EntryError)
	for k, a := range actions {
		cur, exists := m.Entries[k]
		switch a.Kind {
		case Ins:
			switch {
			case exists && !cur.Deleted:
				failed[k] = EntryError{Key: []byte(k), Kind: EntryExists, Version: cur.EntryVersion}
			case exists && a.Value.EntryVersion != cur.EntryVersion+1:
				failed[k] = EntryError{Key: []byte(k), Kind: InvalidSuccessor, Version: cur.EntryVersion}
			case !exists && a.Value.EntryVersion != 0:
				failed[k] = EntryError{Key: []byte(k), Kind: InvalidSuccessor, Version: 0}
			default:
				updated[k] = Value{Content: a.Value.Content, EntryVersion: a.Value.EntryVersion}
			}
		case Update:
			switch {
			case !exists || cur.Deleted:
				failed[k] = EntryError{Key: []byte(k), Kind: NoSuchEntry}
			case a.Value.EntryVersion != cur.EntryVersion+1:
				failed[k] = EntryError{Key: []byte(k), Kind: InvalidSuccessor, Version: cur.EntryVersion}
			default:
				updated[k] = Value{Content: a.Value.Content, EntryVersion: a.Value.EntryVersion}
			}
		case Del:
			switch {
			case !exists || cur.Deleted:
				failed[k] = EntryError{Key: []byte(k), Kind: NoSuchEntry}
			case a.Version != cur.EntryVersion+1:
				failed[k] = EntryError{Key: []byte(k), Kind: InvalidSuccessor, Version: cur.EntryVersion}
			default:
				updated[k] = Value{EntryVersion: a.Version, Deleted: true}
			}
		default:
			return NewError(InvalidOperation)
		}
	}
	if len(failed) > 0 {
		return newEntriesError(failed)
	}

	next := m.Clone()
	for k, v := range updated {
		next.Entries[k] = v
	}
	if err := next.CheckLimits(limits); err != nil {
		return err
	}
	m.Entries = next.Entries
	return nil
}

func (m *Map) checkSuccessor(version uint64) error {
	if version != m.Version+1 {
		return newVersionError(InvalidSuccessor, m.Version)
	}
	return nil
}

// SetUserPermissions grants set to user. version must be the successor of
// the map version.
func (m *Map) SetUserPermissions(requester keys.PublicKey, user User, set PermissionSet, version uint64) error {
	if !m.IsAllowed(requester, ManagePermissionsAction) {
		return NewError(AccessDenied)
	}
	if err := m.checkSuccessor(version); err != nil {
		return err
	}
	perms := make([]UserPermissions, 0, len(m.Permissions)+1)
	for _, up := range m.Permissions {
		if !up.User.Equal(user) {
			perms = append(perms, up)
		}
	}
	perms = append(perms, UserPermissions{User: user, Set: set})
	sortPermissions(perms)
	m.Permissions = perms
	m.Version = version
	return nil
}

// DelUserPermissions removes the permission set of user.
func (m *Map) DelUserPermissions(requester keys.PublicKey, user User, version uint64) error {
	if !m.IsAllowed(requester, ManagePermissionsAction) {
		return NewError(AccessDenied)
	}
	if err := m.checkSuccessor(version); err != nil {
		return err
	}
	idx := -1
	for i, up := range m.Permissions {
		if up.User.Equal(user) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NewError(NoSuchEntry)
	}
	perms := append([]UserPermissions(nil), m.Permissions[:idx]...)
	m.Permissions = append(perms, m.Permissions[idx+1:]...)
	m.Version = version
	return nil
}

// ChangeOwner transfers ownership. Only the current owner may do it.
func (m *Map) ChangeOwner(requester keys.PublicKey, owner keys.PublicKey, version uint64) error {
	if !m.IsOwner(requester) {
		return NewError(AccessDenied)
	}
	if owner.IsZero() {
		return NewError(InvalidOwners)
	}
	if err := m.checkSuccessor(version); err != nil {
		return err
	}
	m.Owners = []keys.PublicKey{owner}
	m.Version = version
	return nil
}
