package hashing

import (
	"encoding"
	"encoding/binary"
	"fmt"
)

// Type tags keep encodings of different kinds apart, e.g. int 1 and "\x01".
const (
	tagBytes byte = iota + 1
	tagString
	tagBool
	tagInt
	tagUint
	tagBinary
)

// Key returns the canonical encoding of v for use as a ring key.
//
// Signed integers of any width encode as the same 64-bit value, and likewise
// for unsigned integers, so Key(int32(7)) == Key(int64(7)). Types other than
// strings, byte slices, booleans, integers and encoding.BinaryMarshaler are a
// programming error and cause a panic.
func Key(v any) []byte {
	switch k := v.(type) {
	case []byte:
		return append([]byte{tagBytes}, k...)
	case string:
		return append([]byte{tagString}, k...)
	case bool:
		if k {
			return []byte{tagBool, 1}
		}
		return []byte{tagBool, 0}
	case int:
		return appendInt(int64(k))
	case int8:
		return appendInt(int64(k))
	case int16:
		return appendInt(int64(k))
	case int32:
		return appendInt(int64(k))
	case int64:
		return appendInt(k)
	case uint:
		return appendUint(uint64(k))
	case uint8:
		return appendUint(uint64(k))
	case uint16:
		return appendUint(uint64(k))
	case uint32:
		return appendUint(uint64(k))
	case uint64:
		return appendUint(k)
	case encoding.BinaryMarshaler:
		data, err := k.MarshalBinary()
		if err != nil {
			panic(fmt.Sprintf("hashing: cannot encode key %v: %v", v, err))
		}
		return append([]byte{tagBinary}, data...)
	}
	panic(fmt.Sprintf("hashing: unsupported key type %T", v))
}

func appendInt(v int64) []byte {
	return binary.BigEndian.AppendUint64([]byte{tagInt}, uint64(v))
}

func appendUint(v uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{tagUint}, v)
}

// Sum hashes the canonical encoding of v.
func Sum(h Hasher, v any) uint32 {
	return h.Sum32(Key(v))
}
