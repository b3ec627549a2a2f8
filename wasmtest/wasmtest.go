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

// Package wasmtest assembles small WebAssembly binaries for tests.
//
// Only the subset of the binary format the platform's tests need is
// supported: function types, imported and defined globals, one linear
// memory, function exports, an optional start function and custom
// sections.
package wasmtest

import (
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"
)

// Func is a function definition. Body holds the instructions without the
// trailing end opcode.
type Func struct {
	Name    string // exported under this name when non-empty
	Params  []api.ValueType
	Results []api.ValueType
	Locals  []api.ValueType
	Body    []byte
}

// Global is a defined global initialised from an i32 or i64 constant.
type Global struct {
	Name    string // exported under this name when non-empty
	Type    api.ValueType
	Mutable bool
	Init    int64
}

// ImportedGlobal imports an immutable global.
type ImportedGlobal struct {
	Module string
	Name   string
	Type   api.ValueType
}

// CustomSection is emitted verbatim before the type section.
type CustomSection struct {
	Name string
	Data []byte
}

// Module describes a module to assemble.
type Module struct {
	Custom  []CustomSection
	Imports []ImportedGlobal
	Memory  bool
	Globals []Global
	Funcs   []Func
	// Start is the index of the start function, or nil.
	Start *uint32
}

// Bytes assembles the module binary.
func (m Module) Bytes() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	for _, c := range m.Custom {
		var body []byte
		body = appendName(body, c.Name)
		body = append(body, c.Data...)
		out = appendSection(out, 0, body)
	}

	if len(m.Funcs) > 0 {
		body := appendU32(nil, uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			body = append(body, 0x60)
			body = appendTypes(body, f.Params)
			body = appendTypes(body, f.Results)
		}
		out = appendSection(out, 1, body)
	}

	if len(m.Imports) > 0 {
		body := appendU32(nil, uint32(len(m.Imports)))
		for _, imp := range m.Imports {
			body = appendName(body, imp.Module)
			body = appendName(body, imp.Name)
			body = append(body, 0x03, imp.Type, 0x00)
		}
		out = appendSection(out, 2, body)
	}

	if len(m.Funcs) > 0 {
		body := appendU32(nil, uint32(len(m.Funcs)))
		for i := range m.Funcs {
			body = appendU32(body, uint32(i))
		}
		out = appendSection(out, 3, body)
	}

	if m.Memory {
		out = appendSection(out, 5, []byte{0x01, 0x00, 0x01})
	}

	if len(m.Globals) > 0 {
		body := appendU32(nil, uint32(len(m.Globals)))
		for _, g := range m.Globals {
			mut := byte(0x00)
			if g.Mutable {
				mut = 0x01
			}
			body = append(body, g.Type, mut)
			if g.Type == api.ValueTypeI64 {
				body = append(body, 0x42)
			} else {
				body = append(body, 0x41)
			}
			body = AppendSLEB(body, g.Init)
			body = append(body, 0x0b)
		}
		out = appendSection(out, 6, body)
	}

	var exports []byte
	var nexports uint32
	for i, f := range m.Funcs {
		if f.Name != "" {
			exports = appendName(exports, f.Name)
			exports = append(exports, 0x00)
			exports = appendU32(exports, uint32(i))
			nexports++
		}
	}
	for i, g := range m.Globals {
		if g.Name != "" {
			exports = appendName(exports, g.Name)
			exports = append(exports, 0x03)
			exports = appendU32(exports, uint32(len(m.Imports)+i))
			nexports++
		}
	}
	if nexports > 0 {
		out = appendSection(out, 7, append(appendU32(nil, nexports), exports...))
	}

	if m.Start != nil {
		out = appendSection(out, 8, appendU32(nil, *m.Start))
	}

	if len(m.Funcs) > 0 {
		body := appendU32(nil, uint32(len(m.Funcs)))
		for _, f := range m.Funcs {
			var fn []byte
			fn = appendU32(fn, uint32(len(f.Locals)))
			for _, l := range f.Locals {
				fn = append(fn, 0x01, l)
			}
			fn = append(fn, f.Body...)
			fn = append(fn, 0x0b)
			body = appendU32(body, uint32(len(fn)))
			body = append(body, fn...)
		}
		out = appendSection(out, 10, body)
	}
	return out
}

func appendSection(out []byte, id byte, body []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(body)))
	return append(out, body...)
}

func appendTypes(out []byte, types []api.ValueType) []byte {
	out = appendU32(out, uint32(len(types)))
	return append(out, types...)
}

func appendName(out []byte, name string) []byte {
	out = appendU32(out, uint32(len(name)))
	return append(out, name...)
}

func appendU32(out []byte, v uint32) []byte {
	return binary.AppendUvarint(out, uint64(v))
}

// AppendSLEB appends v as a signed LEB128 integer.
func AppendSLEB(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// I32Const returns the instruction pushing v.
func I32Const(v int32) []byte {
	return AppendSLEB([]byte{0x41}, int64(v))
}

// Concat joins instruction sequences.
func Concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
