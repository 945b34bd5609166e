package cache

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns cached results into the opaque payload kept by the store and
// back. Results must be built from primitives, time values, slices,
// string-keyed maps and structs with exported fields; functions, channels
// and complex numbers are rejected by Marshal.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

var (
	// Msgpack is the default codec.
	Msgpack Codec = msgpackCodec{}
	// JSON stores human readable payloads, at the cost of losing integer
	// widths when decoding into untyped targets.
	JSON Codec = jsonCodec{}
)

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return "msgpack" }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
