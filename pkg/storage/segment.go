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

// Package storage is the columnar, MVCC-protected storage layer the jit
// core reads from. It is a narrow, in-memory stand-in for the "external"
// storage engine spec.md treats as a collaborator (§6): value segments,
// dictionary segments with value-ID pushdown support, chunks, and a
// minimal catalog. WAL/checkpointing/on-disk formats are out of scope
// (spec §1), so this trims the teacher's block manager down to vectors.
package storage

import (
	"fmt"

	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/daviszhen/jitquery/pkg/util"
)

// Segment is the interface every column segment in a chunk satisfies,
// regardless of physical representation. jit segment readers (pkg/jit)
// keep one Segment per input column per chunk and read each row through
// this interface (a value-ID read type-asserts *DictionarySegment per
// row), not through code dispatched once on the concrete type. ValueAt
// gives the jit core a uniform way to pull one row as a common.Value
// without depending on the segment's physical representation.
type Segment interface {
	Count() int
	Nullable() bool
	DeclaredType() common.DataType
	ValueAt(offset int) common.Value
}

// ValueSegment is a flat, typed column segment: one native Go value per
// row plus a validity bitmap. Grounded on teacher pkg/storage/segment.go's
// typed-segment-tree leaves, trimmed to a single in-memory vector since
// on-disk block management is out of scope here.
type ValueSegment[T any] struct {
	Values   []T
	Validity util.Bitmap
	Typ      common.DataType
}

func NewValueSegment[T any](typ common.DataType, values []T) *ValueSegment[T] {
	return &ValueSegment[T]{Typ: typ, Values: values}
}

func (s *ValueSegment[T]) Count() int                    { return len(s.Values) }
func (s *ValueSegment[T]) Nullable() bool                { return !s.Validity.AllValid() }
func (s *ValueSegment[T]) DeclaredType() common.DataType { return s.Typ }

// Get returns the row's value and whether it is valid (non-null).
func (s *ValueSegment[T]) Get(offset int) (T, bool) {
	return s.Values[offset], s.Validity.RowIsValid(uint64(offset))
}

func (s *ValueSegment[T]) SetNull(offset int) {
	s.Validity.SetInvalid(uint64(offset), len(s.Values))
}

// ValueAt boxes the row's native T into a common.Value. T is one of the
// closed set's Go representations (int32, int64, float32, float64,
// string, bool); anything else is a construction-time bug.
func (s *ValueSegment[T]) ValueAt(offset int) common.Value {
	if !s.Validity.RowIsValid(uint64(offset)) {
		return common.NullValue(s.Typ)
	}
	switch v := any(s.Values[offset]).(type) {
	case int32:
		return common.IntValue(v)
	case int64:
		return common.LongValue(v)
	case float32:
		return common.FloatValue(v)
	case float64:
		return common.DoubleValue(v)
	case string:
		return common.StringValue(v)
	case bool:
		return common.BoolValue(v)
	default:
		panic(fmt.Sprintf("storage: unsupported value segment element type %T", v))
	}
}
