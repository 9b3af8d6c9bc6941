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

package util

// JitOptions mirrors the process-wide booleans spec §6/§9 name
// (jit, jit_validate, lazy_load, interpret, jit_predicate) plus the
// use_load_atomic knob from §9's resolved open question. It is read once
// at startup and turned into an immutable jit.ExecutionConfig value -
// there is no singleton inside the jit package itself.
type JitOptions struct {
	Jit           bool `tag:"jit"`
	JitValidate   bool `tag:"jitValidate"`
	LazyLoad      bool `tag:"lazyLoad"`
	Interpret     bool `tag:"interpret"`
	JitPredicate  bool `tag:"jitPredicate"`
	UseLoadAtomic bool `tag:"useLoadAtomic"`
}

type DebugOptions struct {
	PrintPlan   bool `tag:"printPlan"`
	PrintResult bool `tag:"printResult"`
}

type DemoData struct {
	Path   string `tag:"path"`
	Format string `tag:"format"`
}

type Config struct {
	Jit   JitOptions   `tag:"jit"`
	Debug DebugOptions `tag:"debug"`
	Demo  DemoData     `tag:"demo"`
}

// DefaultConfig returns the ready-to-run defaults (all jit options on) that
// local tooling (cmd/jitctl) uses when no jitctl.toml is present.
func DefaultConfig() *Config {
	return &Config{
		Jit: JitOptions{
			Jit:           true,
			JitValidate:   true,
			LazyLoad:      true,
			Interpret:     false,
			JitPredicate:  true,
			UseLoadAtomic: true,
		},
	}
}
