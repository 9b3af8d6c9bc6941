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

// Package common holds the closed data-type set and value representation
// shared by the storage and jit packages (spec §3 "Data types").
package common

import "fmt"

// DataType is the closed set of column types the jit core understands.
// ValueID is synthetic: it never appears in user DDL, it only shows up on a
// tuple slot after the translator has rewritten a predicate to compare
// dictionary codes (spec §4.4). Null is a placeholder for untyped literals.
type DataType int

const (
	Invalid DataType = iota
	Int
	Long
	Float
	Double
	String
	Bool
	ValueID
	Null
)

var dataTypeNames = map[DataType]string{
	Invalid: "Invalid",
	Int:     "Int",
	Long:    "Long",
	Float:   "Float",
	Double:  "Double",
	String:  "String",
	Bool:    "Bool",
	ValueID: "ValueID",
	Null:    "Null",
}

func (t DataType) String() string {
	if s, ok := dataTypeNames[t]; ok {
		return s
	}
	panic(fmt.Sprintf("usp data type %d", t))
}

// IsString reports whether t is the string family. Binary comparisons
// require both sides to be in the same family (spec §3 invariants): "both
// strings or neither".
func (t DataType) IsString() bool {
	return t == String
}

// IsNumeric reports whether t supports arithmetic (+ - * /) and ordering.
func (t DataType) IsNumeric() bool {
	switch t {
	case Int, Long, Float, Double, ValueID:
		return true
	default:
		return false
	}
}

// IsIntegral reports whether t is a whole-number type. Int+Int overflow
// promotes the aggregate sum to Long (spec §4.6).
func (t DataType) IsIntegral() bool {
	switch t {
	case Int, Long, ValueID:
		return true
	default:
		return false
	}
}

// Comparable reports whether a and b may appear on either side of a JIT
// comparison expression (spec §4.1: "If exactly one side of a comparison is
// a string type, translation fails").
func Comparable(a, b DataType) bool {
	return a.IsString() == b.IsString()
}
