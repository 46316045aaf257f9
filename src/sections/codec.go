package sections

import "github.com/mosaicnetworks/sectiond/src/common"

func marshal(v interface{}) ([]byte, error) {
	return common.Marshal(v)
}

func unmarshal(data []byte, v interface{}) error {
	return common.Unmarshal(data, v)
}
