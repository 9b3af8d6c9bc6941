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

package jit

import "github.com/daviszhen/jitquery/pkg/util"

// ExecutionConfig is the immutable process-wide configuration the
// translator and wrapper are constructed with (spec §9: "recast as an
// immutable ExecutionConfig value... No singleton"). Built once from
// util.Config and passed down explicitly rather than read from a global.
type ExecutionConfig struct {
	Jit           bool
	JitValidate   bool
	LazyLoad      bool
	Interpret     bool
	JitPredicate  bool
	UseLoadAtomic bool
}

// NewExecutionConfig adapts a loaded util.Config (toml+viper+cobra, see
// cmd/jitctl) into the jit package's own immutable value - the core never
// reaches back into util.Config itself.
func NewExecutionConfig(c *util.Config) ExecutionConfig {
	return ExecutionConfig{
		Jit:           c.Jit.Jit,
		JitValidate:   c.Jit.JitValidate,
		LazyLoad:      c.Jit.LazyLoad,
		Interpret:     c.Jit.Interpret,
		JitPredicate:  c.Jit.JitPredicate,
		UseLoadAtomic: c.Jit.UseLoadAtomic,
	}
}
