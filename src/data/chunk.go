package data

import (
	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// Chunk is immutable, content-addressed data.
type Chunk struct {
	Content []byte
}

// NewChunk ...
func NewChunk(content []byte) Chunk {
	return Chunk{Content: append([]byte{}, content...)}
}

// Name is the hash of the content.
func (c Chunk) Name() xorname.Name {
	return xorname.FromContent(c.Content)
}
