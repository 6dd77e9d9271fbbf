// Package rpc is the gRPC transport layer shared by every daemon: a JSON
// message codec (the cluster has no protoc step in its build, so wire
// messages are plain Go structs rather than generated protobuf types), a
// Kind-to-codes.Code mapping, and dial helpers for the optional mTLS
// transport the teacher's CLI/worker/manager connections use.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated over the wire via the grpc "content-subtype";
// every client and server in this repo registers and requests it so no
// daemon ever falls back to gRPC's default proto codec, which none of our
// message types implement.
const codecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec marshals gRPC messages as JSON instead of protobuf wire format.
// Request/response types across pkg/rpc are plain exported structs; grpc-go
// only requires a codec, not a proto.Message, to move bytes on the wire.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return codecName }
