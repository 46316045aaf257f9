// Package store persists the state of a node: data items, network knowledge
// and the section key shares it holds.
package store

import (
	"github.com/mosaicnetworks/sectiond/src/data"
	"github.com/mosaicnetworks/sectiond/src/sections"
)

// Store is an interface for backend stores.
type Store interface {
	data.Store
	// GetKnowledge returns the last persisted network knowledge.
	GetKnowledge() (*sections.NetworkKnowledge, error)
	// SetKnowledge persists the network knowledge.
	SetKnowledge(k *sections.NetworkKnowledge) error
	// KeyShares returns every persisted section key share.
	KeyShares() ([]sections.SectionKeyShare, error)
	// SetKeyShare persists a section key share.
	SetKeyShare(share sections.SectionKeyShare) error
	// ChunkCount and MapCount return the number of stored items.
	ChunkCount() int
	MapCount() int
	// Close closes the underlying database.
	Close() error
	// StorePath returns the filepath of the underlying database.
	StorePath() string
}
