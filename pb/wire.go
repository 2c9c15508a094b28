// Package pb implements Smelt's wire codec (spec.md §4.8/§8): the
// tag-numbered protobuf binary encoding for ConfigureSmelt, Event and
// Invocation. The teacher package (pb/readbuild.go, pb/readmeta.go in
// distr1-distri) reads textproto-encoded, protoc-generated messages via
// github.com/golang/protobuf/proto; no generated *.pb.go sources survived
// retrieval (they're generated artifacts, filtered out of the pack), and
// this build has no protoc toolchain available to regenerate them. Rather
// than fabricate a stub module, this package hand-encodes the exact same
// tag-numbered wire format directly on google.golang.org/protobuf's own
// low-level encoding/protowire package -- the same dependency the teacher
// already carries (transitively, via github.com/golang/protobuf), used at
// the layer below code generation.
package pb

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

func putString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendString(b, s)
	return b
}

func putBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

func putVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	return b
}

func putInt32(b []byte, num protowire.Number, v int32) []byte {
	return putVarint(b, num, uint64(uint32(v)))
}

func putInt64(b []byte, num protowire.Number, v int64) []byte {
	return putVarint(b, num, uint64(v))
}

func putBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	return b
}

func putFixed64Float(b []byte, num protowire.Number, v float64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(v))
	return b
}

// putMessage length-delimits an already-encoded sub-message.
func putMessage(b []byte, num protowire.Number, body []byte) []byte {
	if len(body) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, body)
	return b
}

// field is one decoded (number, type, raw-value) triple produced by
// parseFields; message codecs switch over (number, type) the way a
// generated Unmarshal would switch over field descriptors.
type field struct {
	num protowire.Number
	typ protowire.Type
	u64 uint64
	buf []byte
}

func parseFields(b []byte) ([]field, error) {
	var fields []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("pb: invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		var f field
		f.num, f.typ = num, typ
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: invalid varint: %w", protowire.ParseError(n))
			}
			f.u64 = v
			b = b[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: invalid fixed64: %w", protowire.ParseError(n))
			}
			f.u64 = v
			b = b[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: invalid fixed32: %w", protowire.ParseError(n))
			}
			f.u64 = uint64(v)
			b = b[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("pb: invalid bytes: %w", protowire.ParseError(n))
			}
			f.buf = append([]byte(nil), v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("pb: invalid field: %w", protowire.ParseError(n))
			}
			b = b[n:]
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (f field) str() string    { return string(f.buf) }
func (f field) i32() int32     { return int32(f.u64) }
func (f field) i64() int64     { return int64(f.u64) }
func (f field) boolean() bool  { return f.u64 != 0 }
func (f field) float() float64 { return math.Float64frombits(f.u64) }
