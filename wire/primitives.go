package wire

import (
	"encoding/binary"
	"math"

	"someipd/rterr"
)

// This file implements the primitive wire rules of spec section 4.1: fixed-
// width big-endian integers and floats, a one-byte bool, and the
// length-prefixed string/list/struct conventions shared with the SD option
// layer. Generated IDL stubs call these directly; nothing here knows about
// any particular service's payload shape.

func needBytes(data []byte, n int) error {
	if len(data) < n {
		return rterr.New(rterr.KindMalformedHeader, "short buffer for primitive")
	}
	return nil
}

// SerializeU8/DeserializeU8 and friends follow the same pattern for every
// integer width; each is a direct two's-complement big-endian encoding of
// the type's exact width, per spec section 4.1.

func SerializeU8(v uint8) []byte { return []byte{v} }

func DeserializeU8(data []byte) (uint8, int, error) {
	if err := needBytes(data, 1); err != nil {
		return 0, 0, err
	}
	return data[0], 1, nil
}

func SerializeI8(v int8) []byte { return []byte{byte(v)} }

func DeserializeI8(data []byte) (int8, int, error) {
	if err := needBytes(data, 1); err != nil {
		return 0, 0, err
	}
	return int8(data[0]), 1, nil
}

func SerializeU16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func DeserializeU16(data []byte) (uint16, int, error) {
	if err := needBytes(data, 2); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint16(data), 2, nil
}

func SerializeI16(v int16) []byte { return SerializeU16(uint16(v)) }

func DeserializeI16(data []byte) (int16, int, error) {
	v, n, err := DeserializeU16(data)
	return int16(v), n, err
}

func SerializeU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func DeserializeU32(data []byte) (uint32, int, error) {
	if err := needBytes(data, 4); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint32(data), 4, nil
}

func SerializeI32(v int32) []byte { return SerializeU32(uint32(v)) }

func DeserializeI32(data []byte) (int32, int, error) {
	v, n, err := DeserializeU32(data)
	return int32(v), n, err
}

func SerializeU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func DeserializeU64(data []byte) (uint64, int, error) {
	if err := needBytes(data, 8); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint64(data), 8, nil
}

func SerializeI64(v int64) []byte { return SerializeU64(uint64(v)) }

func DeserializeI64(data []byte) (int64, int, error) {
	v, n, err := DeserializeU64(data)
	return int64(v), n, err
}

func SerializeFloat32(v float32) []byte {
	return SerializeU32(math.Float32bits(v))
}

func DeserializeFloat32(data []byte) (float32, int, error) {
	bits, n, err := DeserializeU32(data)
	if err != nil {
		return 0, 0, err
	}
	return math.Float32frombits(bits), n, nil
}

func SerializeFloat64(v float64) []byte {
	return SerializeU64(math.Float64bits(v))
}

func DeserializeFloat64(data []byte) (float64, int, error) {
	bits, n, err := DeserializeU64(data)
	if err != nil {
		return 0, 0, err
	}
	return math.Float64frombits(bits), n, nil
}

// SerializeBool encodes false as 0x00 and true as 0x01.
func SerializeBool(v bool) []byte {
	if v {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DeserializeBool treats any non-zero byte as true.
func DeserializeBool(data []byte) (bool, int, error) {
	if err := needBytes(data, 1); err != nil {
		return false, 0, err
	}
	return data[0] != 0, 1, nil
}

// SerializeString encodes a 4-byte big-endian byte length followed by the
// raw UTF-8 bytes: no terminator, no BOM.
func SerializeString(v string) []byte {
	b := []byte(v)
	out := make([]byte, 0, 4+len(b))
	out = append(out, SerializeU32(uint32(len(b)))...)
	out = append(out, b...)
	return out
}

// DeserializeString reads a length-prefixed UTF-8 string.
func DeserializeString(data []byte) (string, int, error) {
	length, n, err := DeserializeU32(data)
	if err != nil {
		return "", 0, err
	}
	if err := needBytes(data[n:], int(length)); err != nil {
		return "", 0, err
	}
	return string(data[n : n+int(length)]), n + int(length), nil
}

// SerializeListBytes wraps an already-serialized elements region with its
// 4-byte big-endian byte length, per spec section 4.1's list convention.
func SerializeListBytes(elements []byte) []byte {
	out := make([]byte, 0, 4+len(elements))
	out = append(out, SerializeU32(uint32(len(elements)))...)
	out = append(out, elements...)
	return out
}

// DeserializeListBytes reads a length-prefixed elements region and returns
// the raw element bytes for the caller to decode field-by-field.
func DeserializeListBytes(data []byte) ([]byte, int, error) {
	length, n, err := DeserializeU32(data)
	if err != nil {
		return nil, 0, err
	}
	if err := needBytes(data[n:], int(length)); err != nil {
		return nil, 0, err
	}
	return data[n : n+int(length)], n + int(length), nil
}
