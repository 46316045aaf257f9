package data

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorKind enumerates client-visible data errors.
type ErrorKind uint8

const (
	NoSuchData ErrorKind = iota
	NoSuchEntry
	DataExists
	EntryExists
	InvalidSuccessor
	TooManyEntries
	DataTooLarge
	AccessDenied
	InvalidOwners
	InvalidEntryActions
	InvalidOperation
)

var errorKinds = []string{
	"NoSuchData",
	"NoSuchEntry",
	"DataExists",
	"EntryExists",
	"InvalidSuccessor",
	"TooManyEntries",
	"DataTooLarge",
	"AccessDenied",
	"InvalidOwners",
	"InvalidEntryActions",
	"InvalidOperation",
}

func (k ErrorKind) String() string {
	if int(k) < len(errorKinds) {
		return errorKinds[k]
	}
	return "Unknown"
}

// EntryError is the failure of a single entry action.
type EntryError struct {
	Key     []byte
	Kind    ErrorKind
	Version uint64
}

// Error is a data error as returned to clients. Version holds the current
// version for EntryExists and InvalidSuccessor. Entries holds the failed
// actions of an InvalidEntryActions error, ordered by key.
type Error struct {
	Kind    ErrorKind
	Version uint64
	Entries []EntryError
}

// NewError ...
func NewError(kind ErrorKind) *Error {
	return &Error{Kind: kind}
}

func newVersionError(kind ErrorKind, version uint64) *Error {
	return &Error{Kind: kind, Version: version}
}

func newEntriesError(entries map[string]EntryError) *Error {
	e := &Error{Kind: InvalidEntryActions}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.Entries = append(e.Entries, entries[k])
	}
	return e
}

// EntryErrors returns the failed entry actions keyed by entry key.
func (e *Error) EntryErrors() map[string]EntryError {
	res := make(map[string]EntryError, len(e.Entries))
	for _, ee := range e.Entries {
		res[string(ee.Key)] = ee
	}
	return res
}

func (e *Error) Error() string {
	switch e.Kind {
	case EntryExists, InvalidSuccessor:
		return fmt.Sprintf("%s(%d)", e.Kind, e.Version)
	case InvalidEntryActions:
		parts := make([]string, len(e.Entries))
		for i, ee := range e.Entries {
			parts[i] = fmt.Sprintf("%q: %s(%d)", ee.Key, ee.Kind, ee.Version)
		}
		return fmt.Sprintf("%s({%s})", e.Kind, strings.Join(parts, ", "))
	}
	return e.Kind.String()
}

// Is matches errors of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
