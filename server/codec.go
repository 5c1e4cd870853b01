package server

import (
	"encoding/json"
	"fmt"
)

// jsonCodec carries plain Go structs as JSON. It replaces connect's
// built-in "json" codec, which only accepts generated protobuf messages.
type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decoding %T: %w", msg, err)
	}
	return nil
}
