package messages

import "github.com/bytedance/sonic"

// api is shared by both halves of the protocol. ConfigStd keeps encoding/json
// compatible output so browser clients parse it unchanged.
var api = sonic.ConfigStd

// Marshal encodes an envelope for a text frame.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// Unmarshal decodes a text frame into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}
