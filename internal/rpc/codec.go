package rpc

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// gobCodecName is registered as the grpc wire codec for this service. The
// generated protobuf package this teacher's RPC layer normally depends on
// (api/v1, built with protoc) isn't available to hand-author reliably
// here, so messages are plain Go structs and gob does the framing instead
// — the transport, interceptor, and ACL machinery around it are otherwise
// the teacher's own.
const gobCodecName = "gob"

func init() {
	encoding.RegisterCodec(gobCodec{})
}

type gobCodec struct{}

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("rpc: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("rpc: gob decode: %w", err)
	}
	return nil
}

func (gobCodec) Name() string { return gobCodecName }
