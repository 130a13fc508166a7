package patch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes a patch list.
type Codec interface {
	Name() string
	Encode(ps []Patch) ([]byte, error)
	Decode(data []byte) ([]Patch, error)
}

// JSONCodec writes indented JSON with fields in declaration order.
type JSONCodec struct{}

// Name implements Codec.
func (JSONCodec) Name() string { return "json" }

// Encode implements Codec.
func (JSONCodec) Encode(ps []Patch) ([]byte, error) {
	if ps == nil {
		ps = []Patch{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ps); err != nil {
		return nil, fmt.Errorf("encode patches: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) ([]Patch, error) {
	var ps []Patch
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("decode patches: %w", err)
	}
	return ps, nil
}

// MsgpackCodec writes the compact binary form.
type MsgpackCodec struct{}

// Name implements Codec.
func (MsgpackCodec) Name() string { return "msgpack" }

// Encode implements Codec.
func (MsgpackCodec) Encode(ps []Patch) ([]byte, error) {
	if ps == nil {
		ps = []Patch{}
	}
	data, err := msgpack.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("encode patches: %w", err)
	}
	return data, nil
}

// Decode implements Codec.
func (MsgpackCodec) Decode(data []byte) ([]Patch, error) {
	var ps []Patch
	if err := msgpack.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("decode patches: %w", err)
	}
	return ps, nil
}

// CodecFor returns the codec registered under name.
func CodecFor(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "json", "":
		return JSONCodec{}, nil
	case "msgpack", "mp":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown patch format %q (want json or msgpack)", name)
	}
}
