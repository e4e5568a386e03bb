package publish

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoding selects the payload format
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// ParseEncoding accepts "json" (the default when empty) or "msgpack"
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingMsgpack, "messagepack":
		return EncodingMsgpack, nil
	default:
		return "", fmt.Errorf("unknown encoding: %q", s)
	}
}

// Marshal encodes v in the given format
func (e Encoding) Marshal(v interface{}) ([]byte, error) {
	switch e {
	case EncodingMsgpack:
		return msgpack.Marshal(v)
	case EncodingJSON:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown encoding: %q", string(e))
	}
}
