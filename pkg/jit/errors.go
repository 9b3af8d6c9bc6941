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

// Package jit is the JIT-aware query execution core: the translator, the
// jittable operators, the operator wrapper/specializer dispatch, and MVCC
// row visibility. Grounded on the teacher's pkg/compute (Runner dispatch
// protocol) and pkg/storage/txn.go (visibility-predicate-as-strategy),
// adapted from the teacher's pull-style per-operator Execute into the
// spec's push-style tail-calling chain.
package jit

import (
	"errors"

	"github.com/daviszhen/jitquery/pkg/jitexpr"
)

// ErrNotJittable is never actually returned by Translate - translation
// signals "use the non-JIT path" with (nil, false), not an error value
// (spec §4.1, §7: "not an error; causes fallback"). It exists only as a
// documented sentinel for callers that want to log the reason.
var ErrNotJittable = errors.New("jit: subtree is not jittable")

// ErrConfiguration covers LIMIT n with n null/negative, CountDistinct
// under aggregate, and a prepared-statement placeholder with unknown type
// (spec §7).
var ErrConfiguration = errors.New("jit: configuration error")

// ErrValueIDOverflow fires when a dictionary is larger than the ValueID
// domain (spec §4.4 step 4, §7).
var ErrValueIDOverflow = errors.New("jit: value ID overflow")

// ErrMVCCStructural covers a reference chunk whose first segment does not
// resolve to a consistent referenced table (spec §7).
var ErrMVCCStructural = errors.New("jit: MVCC structural failure")

// ErrTranslationInvariant covers an unresolved column in a node whose
// find_column_id previously succeeded, or any other upstream invariant
// violation the translator encounters after accepting a subtree (spec §7,
// §4.1: "Translation never throws except for structural invariant
// violations").
var ErrTranslationInvariant = errors.New("jit: translation invariant violation")

// ErrDivisionByZero fires when an integer division's right operand is zero
// for some row. This is data-dependent, not a translation bug, so
// jitexpr.Compute raises it as a recovered panic at the row-evaluation
// boundary (Compute has no error return on its per-row path) and Run
// converts it back into a normal returned error, like any other fatal
// error (spec §7's propagation policy).
var ErrDivisionByZero = jitexpr.ErrDivisionByZero
