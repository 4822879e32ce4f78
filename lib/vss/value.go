// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vss

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// DataType is a VSS leaf data type.
type DataType string

const (
	Boolean DataType = "boolean"
	Int8    DataType = "int8"
	Int16   DataType = "int16"
	Int32   DataType = "int32"
	Int64   DataType = "int64"
	Uint8   DataType = "uint8"
	Uint16  DataType = "uint16"
	Uint32  DataType = "uint32"
	Uint64  DataType = "uint64"
	Float   DataType = "float"
	Double  DataType = "double"
)

// Valid reports whether d is a supported data type.
func (d DataType) Valid() bool {
	switch d {
	case Boolean, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float, Double:
		return true
	}
	return false
}

// IsSigned reports whether d is a signed integer type.
func (d DataType) IsSigned() bool {
	switch d {
	case Int8, Int16, Int32, Int64:
		return true
	}
	return false
}

// IsUnsigned reports whether d is an unsigned integer type.
func (d DataType) IsUnsigned() bool {
	switch d {
	case Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// bits is the width of an integer type.
func (d DataType) bits() int {
	switch d {
	case Int8, Uint8:
		return 8
	case Int16, Uint16:
		return 16
	case Int32, Uint32:
		return 32
	}
	return 64
}

// Value is a typed sample value. Exactly one of the payload fields is
// meaningful, selected by Type.
type Value struct {
	Type  DataType
	Bool  bool
	Int   int64
	Uint  uint64
	Float float64
}

// Any returns the value as bool, int64, uint64, or float64.
func (v Value) Any() any {
	switch {
	case v.Type == Boolean:
		return v.Bool
	case v.Type.IsSigned():
		return v.Int
	case v.Type.IsUnsigned():
		return v.Uint
	}
	return v.Float
}

// Float64 returns the value as a float, booleans as 0 or 1.
func (v Value) Float64() float64 {
	switch value := v.Any().(type) {
	case bool:
		if value {
			return 1
		}
		return 0
	case int64:
		return float64(value)
	case uint64:
		return float64(value)
	case float64:
		return value
	}
	return 0
}

func (v Value) String() string {
	switch value := v.Any().(type) {
	case bool:
		return strconv.FormatBool(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case float64:
		bitSize := 64
		if v.Type == Float {
			bitSize = 32
		}
		return strconv.FormatFloat(value, 'g', -1, bitSize)
	}
	return ""
}

// MarshalJSON writes the bare value.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

// Coerce converts a physical value to dataType. Booleans accept
// exactly 0 and 1; integers must be integral and within the type's
// bounds; float must be finite and within float32 range; double must
// be finite.
func Coerce(physical float64, dataType DataType) (Value, error) {
	if math.IsNaN(physical) || math.IsInf(physical, 0) {
		return Value{}, fmt.Errorf("%w: %v is not finite", ErrTypeMismatch, physical)
	}

	switch {
	case dataType == Boolean:
		switch physical {
		case 0:
			return Value{Type: Boolean, Bool: false}, nil
		case 1:
			return Value{Type: Boolean, Bool: true}, nil
		}
		return Value{}, fmt.Errorf("%w: %v is not a boolean (0 or 1)", ErrTypeMismatch, physical)

	case dataType.IsSigned():
		if physical != math.Trunc(physical) {
			return Value{}, fmt.Errorf("%w: %v is not integral for %s", ErrTypeMismatch, physical, dataType)
		}
		bound := math.Ldexp(1, dataType.bits()-1)
		if physical < -bound || physical >= bound {
			return Value{}, fmt.Errorf("%w: %v outside %s range", ErrTypeMismatch, physical, dataType)
		}
		return Value{Type: dataType, Int: int64(physical)}, nil

	case dataType.IsUnsigned():
		if physical != math.Trunc(physical) {
			return Value{}, fmt.Errorf("%w: %v is not integral for %s", ErrTypeMismatch, physical, dataType)
		}
		if physical < 0 || physical >= math.Ldexp(1, dataType.bits()) {
			return Value{}, fmt.Errorf("%w: %v outside %s range", ErrTypeMismatch, physical, dataType)
		}
		return Value{Type: dataType, Uint: uint64(physical)}, nil

	case dataType == Float:
		if math.Abs(physical) > math.MaxFloat32 {
			return Value{}, fmt.Errorf("%w: %v exceeds float range", ErrTypeMismatch, physical)
		}
		return Value{Type: Float, Float: float64(float32(physical))}, nil

	case dataType == Double:
		return Value{Type: Double, Float: physical}, nil
	}
	return Value{}, fmt.Errorf("%w: unsupported data type %q", ErrTypeMismatch, dataType)
}
