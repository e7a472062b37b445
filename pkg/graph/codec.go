package graph

import (
	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeNode serializes a node as snappy-compressed msgpack.
func EncodeNode(n *Node) ([]byte, error) {
	raw, err := msgpack.Marshal(n)
	if err != nil {
		return nil, NewError("encode").Semantic(n.Semantic).Cause(ErrCodec).Context("%v", err).Err()
	}
	return snappy.Encode(nil, raw), nil
}

// DecodeNode reverses EncodeNode.
func DecodeNode(data []byte) (*Node, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, NewError("decode").Cause(ErrCodec).Context("snappy: %v", err).Err()
	}
	var n Node
	if err := msgpack.Unmarshal(raw, &n); err != nil {
		return nil, NewError("decode").Cause(ErrCodec).Context("msgpack: %v", err).Err()
	}
	return &n, nil
}
