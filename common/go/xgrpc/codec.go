package xgrpc

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// JSONCodecName is the content-subtype of the JSON codec.
const JSONCodecName = "json"

// JSONCodec encodes gRPC messages as JSON.
//
// Messages are plain Go structs, so services can be declared without
// generated protobuf code. Clients select it with
// grpc.CallContentSubtype(JSONCodecName).
type JSONCodec struct{}

var _ encoding.Codec = JSONCodec{}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return data, nil
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return nil
}

func (JSONCodec) Name() string {
	return JSONCodecName
}

func init() {
	encoding.RegisterCodec(JSONCodec{})
}
