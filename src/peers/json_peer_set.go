package peers

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"sync"

	"github.com/mosaicnetworks/sectiond/src/xorname"
)

// JSONPeerSetPath is the name of the contacts file in a data directory.
const JSONPeerSetPath = "peers.json"

type jsonPeer struct {
	Name    string `json:"name,omitempty"`
	NetAddr string `json:"net_addr"`
}

// JSONPeerSet is used to provide the bootstrap contacts on disk in the form of
// a JSON file.
type JSONPeerSet struct {
	l    sync.Mutex
	path string
}

// NewJSONPeerSet creates a new JSONPeerSet with reference to a base directory
// where the JSON file resides.
func NewJSONPeerSet(base string) *JSONPeerSet {
	return &JSONPeerSet{
		path: filepath.Join(base, JSONPeerSetPath),
	}
}

// Path ...
func (j *JSONPeerSet) Path() string {
	return j.path
}

// Peers parses the underlying JSON file. Contacts without a name only carry
// an address; the joining node learns the names through the JoinResponse.
func (j *JSONPeerSet) Peers() ([]Peer, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	if len(buf) == 0 {
		return nil, nil
	}

	var raw []jsonPeer
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	res := make([]Peer, 0, len(raw))
	for _, r := range raw {
		p := Peer{NetAddr: r.NetAddr}
		if r.Name != "" {
			n, err := xorname.ParseHex(r.Name)
			if err != nil {
				return nil, err
			}
			p.Name = n
		}
		res = append(res, p)
	}

	return res, nil
}

// Write persists a list of contacts to the JSON file.
func (j *JSONPeerSet) Write(peers []Peer) error {
	j.l.Lock()
	defer j.l.Unlock()

	raw := make([]jsonPeer, 0, len(peers))
	for _, p := range peers {
		jp := jsonPeer{NetAddr: p.NetAddr}
		if !p.Name.IsZero() {
			jp.Name = p.Name.Hex()
		}
		raw = append(raw, jp)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(raw); err != nil {
		return err
	}

	return ioutil.WriteFile(j.path, buf.Bytes(), 0644)
}
