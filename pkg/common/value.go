// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import "fmt"

// ValueIDType is the unsigned integer width a dictionary code is stored in.
// Spec §4.4 requires overflow of the ValueID domain to be fatal.
type ValueIDType uint32

const InvalidValueID = ValueIDType(^uint32(0))

// Value is a flat, typed literal: one field per physical representation,
// selected by Typ, following the teacher's chunk.Value shape rather than a
// boxed interface{} (cheap to copy, no per-literal allocation).
type Value struct {
	Typ    DataType
	IsNull bool

	I64 int64     // Int, Long
	F64 float64   // Float, Double
	Str string    // String
	B   bool      // Bool
	VID ValueIDType
}

func NullValue(typ DataType) Value {
	return Value{Typ: typ, IsNull: true}
}

func IntValue(v int32) Value  { return Value{Typ: Int, I64: int64(v)} }
func LongValue(v int64) Value { return Value{Typ: Long, I64: v} }
func FloatValue(v float32) Value { return Value{Typ: Float, F64: float64(v)} }
func DoubleValue(v float64) Value { return Value{Typ: Double, F64: v} }
func StringValue(v string) Value { return Value{Typ: String, Str: v} }
func BoolValue(v bool) Value     { return Value{Typ: Bool, B: v} }
func ValueIDValue(v ValueIDType) Value { return Value{Typ: ValueID, VID: v} }

func (v Value) String() string {
	if v.IsNull {
		return "NULL"
	}
	switch v.Typ {
	case Int, Long:
		return fmt.Sprintf("%d", v.I64)
	case Float, Double:
		return fmt.Sprintf("%v", v.F64)
	case String:
		return v.Str
	case Bool:
		return fmt.Sprintf("%v", v.B)
	case ValueID:
		return fmt.Sprintf("#%d", v.VID)
	default:
		panic(fmt.Sprintf("usp value type %v", v.Typ))
	}
}

// CastTo converts v (whose Typ must be the column's declared, non-ValueID
// type) to typ. Used by the value-ID rewrite (spec §4.4 step 2: "cast to
// the column's declared type").
func (v Value) CastTo(typ DataType) Value {
	if v.Typ == typ || v.IsNull {
		out := v
		out.Typ = typ
		return out
	}
	switch typ {
	case Int, Long:
		switch v.Typ {
		case Int, Long:
			return Value{Typ: typ, I64: v.I64}
		case Float, Double:
			return Value{Typ: typ, I64: int64(v.F64)}
		}
	case Float, Double:
		switch v.Typ {
		case Int, Long:
			return Value{Typ: typ, F64: float64(v.I64)}
		case Float, Double:
			return Value{Typ: typ, F64: v.F64}
		}
	}
	panic(fmt.Sprintf("cannot cast %v to %v", v.Typ, typ))
}

// Compare returns -1, 0, 1. Only defined for values of the same DataType
// family (callers are expected to have already rejected mixed string/
// non-string comparisons per spec §4.1).
func Compare(a, b Value) int {
	if a.IsNull || b.IsNull {
		panic("cannot compare null values directly; use null-check expressions")
	}
	switch a.Typ {
	case Int, Long, ValueID:
		ai, bi := a.asInt64(), b.asInt64()
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	case Float, Double:
		switch {
		case a.F64 < b.F64:
			return -1
		case a.F64 > b.F64:
			return 1
		default:
			return 0
		}
	case String:
		switch {
		case a.Str < b.Str:
			return -1
		case a.Str > b.Str:
			return 1
		default:
			return 0
		}
	case Bool:
		if a.B == b.B {
			return 0
		}
		if !a.B && b.B {
			return -1
		}
		return 1
	default:
		panic(fmt.Sprintf("usp compare type %v", a.Typ))
	}
}

func (v Value) asInt64() int64 {
	if v.Typ == ValueID {
		return int64(v.VID)
	}
	return v.I64
}

func Equal(a, b Value) bool {
	if a.IsNull != b.IsNull {
		return false
	}
	if a.IsNull {
		return true
	}
	return Compare(a, b) == 0
}
