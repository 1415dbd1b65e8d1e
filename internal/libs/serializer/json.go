package serializer

import (
	"github.com/goccy/go-json"
)

// JSONSerializer serializes values with goccy/go-json. It is the codec for
// buffered change snapshots and published list payloads, which share their
// wire form with clients.
type JSONSerializer struct {
}

// Marshal serializes the given value into a byte slice.
// @param v
func (d *JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal deserializes the given byte slice into the given value.
// @param data
// @param v
func (d *JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
