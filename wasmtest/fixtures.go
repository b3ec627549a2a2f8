// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wasmtest

import "github.com/tetratelabs/wazero/api"

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
	f32 = api.ValueTypeF32
)

// AddCost is the number of instructions executed by the "add" export of
// Arith: two local.get, i32.add and end.
const AddCost = 4

// Arith exports:
//
//	add(i32, i32) -> i32
//	sub(i32, i32) -> i32
//	mul(f32, f32) -> f32
//	answer() -> i32
func Arith() []byte {
	return Module{Funcs: []Func{
		{Name: "add", Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32},
			Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6a}},
		{Name: "sub", Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32},
			Body: []byte{0x20, 0x00, 0x20, 0x01, 0x6b}},
		{Name: "mul", Params: []api.ValueType{f32, f32}, Results: []api.ValueType{f32},
			Body: []byte{0x20, 0x00, 0x20, 0x01, 0x94}},
		{Name: "answer", Results: []api.ValueType{i32}, Body: I32Const(42)},
	}}.Bytes()
}

// Spin exports spin() which loops forever.
func Spin() []byte {
	return Module{Funcs: []Func{
		{Name: "spin", Body: []byte{0x03, 0x40, 0x0c, 0x00, 0x0b}},
	}}.Bytes()
}

// Trap exports boom() which executes unreachable.
func Trap() []byte {
	return Module{Funcs: []Func{
		{Name: "boom", Results: []api.ValueType{i32}, Body: []byte{0x00}},
	}}.Bytes()
}

// Wide exports wide(i64) -> i64, which the platform cannot describe.
func Wide() []byte {
	return Module{Funcs: []Func{
		{Name: "wide", Params: []api.ValueType{i64}, Results: []api.ValueType{i64},
			Body: []byte{0x20, 0x00}},
	}}.Bytes()
}

// Counter sums 1..n in a loop. Executing count(n) costs a fixed prologue
// plus a constant per iteration, which makes it useful for budget tests.
//
//	(func (param i32) (result i32) (local i32)
//	  block
//	    loop
//	      local.get 0
//	      i32.eqz
//	      br_if 1
//	      local.get 1
//	      local.get 0
//	      i32.add
//	      local.set 1
//	      local.get 0
//	      i32.const 1
//	      i32.sub
//	      local.set 0
//	      br 0
//	    end
//	  end
//	  local.get 1)
func Counter() []byte {
	return Module{Funcs: []Func{
		{
			Name:    "count",
			Params:  []api.ValueType{i32},
			Results: []api.ValueType{i32},
			Locals:  []api.ValueType{i32},
			Body: []byte{
				0x02, 0x40,
				0x03, 0x40,
				0x20, 0x00,
				0x45,
				0x0d, 0x01,
				0x20, 0x01,
				0x20, 0x00,
				0x6a,
				0x21, 0x01,
				0x20, 0x00,
				0x41, 0x01,
				0x6b,
				0x21, 0x00,
				0x0c, 0x00,
				0x0b,
				0x0b,
				0x20, 0x01,
			},
		},
	}}.Bytes()
}

// WithStart has a start function that does work before any export is
// called.
func WithStart() []byte {
	start := uint32(0)
	return Module{
		Funcs: []Func{
			{Body: Concat(I32Const(1), []byte{0x1a})},
			{Name: "answer", Results: []api.ValueType{i32}, Body: I32Const(42)},
		},
		Start: &start,
	}.Bytes()
}
