package model

import (
	"encoding/json"
	"maps"
	"math"

	"github.com/m-mizutani/goerr/v2"
)

// ValueKind is the closed set of scalar kinds a metadata value can hold
type ValueKind int

const (
	KindString ValueKind = iota + 1
	KindNumber
	KindBool
	KindMap
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// Value is a metadata value: string, number, bool or nested Metadata
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	m    Metadata
}

func String(s string) Value     { return Value{kind: KindString, str: s} }
func Number(n float64) Value    { return Value{kind: KindNumber, num: n} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func Map(m Metadata) Value      { return Value{kind: KindMap, m: m} }
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) AsString() (string, bool)  { return v.str, v.kind == KindString }
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v Value) AsMap() (Metadata, bool)   { return v.m, v.kind == KindMap }

// Any converts the value into plain Go types (string, float64, bool, map[string]any)
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindMap:
		return v.m.Any()
	default:
		return nil
	}
}

// ValueOf converts a decoded JSON/YAML/Firestore value into a Value
func ValueOf(src any) (Value, error) {
	switch x := src.(type) {
	case Value:
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case float64:
		return finiteNumber(x)
	case float32:
		return finiteNumber(float64(x))
	case int:
		return Number(float64(x)), nil
	case int64:
		return Number(float64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case uint64:
		return Number(float64(x)), nil
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return Value{}, goerr.Wrap(err, "invalid number in metadata", goerr.T(ErrTagInvalidInput))
		}
		return finiteNumber(n)
	case Metadata:
		return Map(x.Copy()), nil
	case map[string]any:
		m, err := MetadataFrom(x)
		if err != nil {
			return Value{}, err
		}
		return Map(m), nil
	default:
		return Value{}, goerr.New("unsupported metadata value type",
			goerr.V("value", src),
			goerr.T(ErrTagInvalidInput))
	}
}

func finiteNumber(n float64) (Value, error) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Value{}, goerr.New("metadata number must be finite",
			goerr.V("value", n),
			goerr.T(ErrTagInvalidInput))
	}
	return Number(n), nil
}

func (v Value) copy() Value {
	if v.kind == KindMap {
		v.m = v.m.Copy()
	}
	return v
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return goerr.Wrap(err, "failed to decode metadata value")
	}
	parsed, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Metadata is a typed mapping from key to Value
type Metadata map[string]Value

// MetadataFrom converts a loosely typed map into Metadata
func MetadataFrom(src map[string]any) (Metadata, error) {
	if src == nil {
		return nil, nil
	}
	dst := make(Metadata, len(src))
	for key, raw := range src {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid metadata", goerr.V("key", key))
		}
		dst[key] = v
	}
	return dst, nil
}

// Validate checks every value recursively. NaN and infinite numbers are rejected
// because they cannot be encoded into a snapshot.
func (m Metadata) Validate() error {
	for key, v := range m {
		switch v.kind {
		case KindString, KindBool:
		case KindNumber:
			if _, err := finiteNumber(v.num); err != nil {
				return goerr.Wrap(err, "invalid metadata", goerr.V("key", key))
			}
		case KindMap:
			if err := v.m.Validate(); err != nil {
				return goerr.Wrap(err, "invalid metadata", goerr.V("key", key))
			}
		default:
			return goerr.New("metadata value is empty",
				goerr.V("key", key),
				goerr.T(ErrTagInvalidInput))
		}
	}
	return nil
}

// Copy returns a deep copy
func (m Metadata) Copy() Metadata {
	if m == nil {
		return nil
	}
	dst := make(Metadata, len(m))
	for k, v := range m {
		dst[k] = v.copy()
	}
	return dst
}

// Merge returns a new Metadata where keys of src overwrite keys of m one by one
func (m Metadata) Merge(src Metadata) Metadata {
	dst := m.Copy()
	if dst == nil {
		dst = make(Metadata, len(src))
	}
	maps.Copy(dst, src.Copy())
	return dst
}

// Any converts Metadata into map[string]any
func (m Metadata) Any() map[string]any {
	if m == nil {
		return nil
	}
	dst := make(map[string]any, len(m))
	for k, v := range m {
		dst[k] = v.Any()
	}
	return dst
}
