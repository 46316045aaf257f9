package common

import (
	"encoding/hex"
	"fmt"
)

//EncodeToString returns the UPPERCASE string representation of hexBytes with
//the 0X prefix
func EncodeToString(hexBytes []byte) string {
	return fmt.Sprintf("0X%X", hexBytes)
}

//DecodeFromString converts a hex string with 0X prefix to a byte slice
func DecodeFromString(hexString string) ([]byte, error) {
	if len(hexString) < 2 {
		return nil, fmt.Errorf("hex string too short: %q", hexString)
	}
	return hex.DecodeString(hexString[2:])
}

// ShortHex returns the first n bytes of data in lowercase hex. It is used to
// keep log lines readable when printing names and keys.
func ShortHex(data []byte, n int) string {
	if len(data) > n {
		data = data[:n]
	}
	return hex.EncodeToString(data)
}
