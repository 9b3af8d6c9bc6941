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

package storage

import (
	"sort"

	"github.com/tidwall/btree"

	"github.com/daviszhen/jitquery/pkg/common"
	"github.com/daviszhen/jitquery/pkg/util"
)

// DictionarySegment is a dictionary-encoded column segment: a sorted,
// deduplicated Dictionary of distinct values plus one ValueIDType code per
// row. It is the only segment kind the value-ID pushdown rewrite (spec
// §4.4) applies to - LowerBound/UpperBound implement the exact
// std::lower_bound/std::upper_bound semantics jit_read_tuples.cpp relies
// on.
type DictionarySegment struct {
	Dictionary []common.Value // sorted ascending, no duplicates
	Codes      []common.ValueIDType
	Validity   util.Bitmap
	Typ        common.DataType // the column's declared type, never ValueID
}

func (d *DictionarySegment) Count() int                    { return len(d.Codes) }
func (d *DictionarySegment) Nullable() bool                { return !d.Validity.AllValid() }
func (d *DictionarySegment) DeclaredType() common.DataType { return d.Typ }

func (d *DictionarySegment) Get(offset int) (common.Value, bool) {
	valid := d.Validity.RowIsValid(uint64(offset))
	if !valid {
		return common.NullValue(d.Typ), false
	}
	return d.Dictionary[d.Codes[offset]], true
}

func (d *DictionarySegment) ValueAt(offset int) common.Value {
	v, _ := d.Get(offset)
	return v
}

// CodeAt returns the row's raw dictionary code (ValueID), regardless of
// nullability - used by the value-ID rewritten comparison path, which
// operates on codes directly rather than decoded values.
func (d *DictionarySegment) CodeAt(offset int) common.ValueIDType {
	return d.Codes[offset]
}

func lessValue(a, b common.Value) bool {
	return common.Compare(a, b) < 0
}

// NewDictionarySegment builds a dictionary-encoded segment from the raw,
// unsorted column values. Deduplication and ordering are maintained with a
// tidwall/btree.BTreeG during the one-time build pass - the same ordered
// container the teacher uses for its catalog/secondary-index structures
// (pkg/storage/index.go, pkg/storage/catalog_depend.go) - then flattened
// to a sorted slice so the hot per-row lookup path (LowerBound/UpperBound)
// is a plain binary search rather than a tree descent.
func NewDictionarySegment(typ common.DataType, values []common.Value) *DictionarySegment {
	tree := btree.NewBTreeG(lessValue)
	codes := make([]common.ValueIDType, len(values))
	validity := util.Bitmap{}

	for i, v := range values {
		if v.IsNull {
			validity.SetInvalid(uint64(i), len(values))
			continue
		}
		tree.Set(v)
	}

	dict := make([]common.Value, 0, tree.Len())
	tree.Scan(func(item common.Value) bool {
		dict = append(dict, item)
		return true
	})

	for i, v := range values {
		if v.IsNull {
			continue
		}
		// Dictionary is sorted and deduplicated: binary search finds the
		// unique matching entry.
		idx := sort.Search(len(dict), func(j int) bool { return !lessValue(dict[j], v) })
		codes[i] = common.ValueIDType(idx)
	}

	return &DictionarySegment{Dictionary: dict, Codes: codes, Validity: validity, Typ: typ}
}

// LowerBound returns the index of the first dictionary entry not less than
// v, or common.InvalidValueID if v is greater than every entry. Mirrors
// std::lower_bound over the sorted dictionary (jit_read_tuples.cpp).
func (d *DictionarySegment) LowerBound(v common.Value) common.ValueIDType {
	idx := sort.Search(len(d.Dictionary), func(i int) bool { return !lessValue(d.Dictionary[i], v) })
	if idx == len(d.Dictionary) {
		return common.InvalidValueID
	}
	return common.ValueIDType(idx)
}

// UpperBound returns the index of the first dictionary entry greater than
// v, or common.InvalidValueID if none exists. Mirrors std::upper_bound.
func (d *DictionarySegment) UpperBound(v common.Value) common.ValueIDType {
	idx := sort.Search(len(d.Dictionary), func(i int) bool { return lessValue(v, d.Dictionary[i]) })
	if idx == len(d.Dictionary) {
		return common.InvalidValueID
	}
	return common.ValueIDType(idx)
}

// MaxValueID is the largest representable dictionary code; the overflow
// check in pkg/jit's resolveValueIDPredicates (spec §4.4) compares the
// resolved ValueID against this before storing it.
const MaxValueID = common.ValueIDType(^uint32(0) - 1)
