package data

import (
	"bytes"
	"sort"

	"github.com/mosaicnetworks/sectiond/src/common"
	"github.com/mosaicnetworks/sectiond/src/crypto/keys"
)

// Action is an operation on a map that permissions govern.
type Action uint8

const (
	InsertAction Action = iota
	UpdateAction
	DeleteAction
	ManagePermissionsAction
)

// PermissionSet holds, for each action, whether it is allowed, denied or
// left undefined.
type PermissionSet struct {
	Insert            common.Trilean
	Update            common.Trilean
	Delete            common.Trilean
	ManagePermissions common.Trilean
}

func (p *PermissionSet) field(a Action) *common.Trilean {
	switch a {
	case InsertAction:
		return &p.Insert
	case UpdateAction:
		return &p.Update
	case DeleteAction:
		return &p.Delete
	default:
		return &p.ManagePermissions
	}
}

// Allow returns the set with action allowed.
func (p PermissionSet) Allow(a Action) PermissionSet {
	*p.field(a) = common.True
	return p
}

// Deny returns the set with action denied.
func (p PermissionSet) Deny(a Action) PermissionSet {
	*p.field(a) = common.False
	return p
}

// Clear returns the set with action undefined.
func (p PermissionSet) Clear(a Action) PermissionSet {
	*p.field(a) = common.Undefined
	return p
}

// IsAllowed ...
func (p PermissionSet) IsAllowed(a Action) common.Trilean {
	return *p.field(a)
}

// User is either a specific key or anyone.
type User struct {
	Anyone bool
	Key    keys.PublicKey
}

// Anyone ...
func Anyone() User {
	return User{Anyone: true}
}

// KeyUser ...
func KeyUser(pk keys.PublicKey) User {
	return User{Key: pk}
}

// Equal ...
func (u User) Equal(o User) bool {
	if u.Anyone || o.Anyone {
		return u.Anyone == o.Anyone
	}
	return u.Key.Equal(o.Key)
}

func (u User) less(o User) bool {
	if u.Anyone != o.Anyone {
		return u.Anyone
	}
	if u.Key.Type != o.Key.Type {
		return u.Key.Type < o.Key.Type
	}
	return bytes.Compare(u.Key.Bytes, o.Key.Bytes) < 0
}

// String ...
func (u User) String() string {
	if u.Anyone {
		return "Anyone"
	}
	return u.Key.String()
}

// UserPermissions is the permission set of one user.
type UserPermissions struct {
	User User
	Set  PermissionSet
}

func sortPermissions(ps []UserPermissions) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].User.less(ps[j].User) })
}
