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

// Package metering charges guest code for the instructions it executes.
//
// Instrument rewrites a module binary so that every function body keeps a
// running budget in a pair of exported mutable globals:
//
//	__meter_remaining (i64)  credits left for this instance
//	__meter_exhausted (i32)  set to 1 right before the guest is trapped
//
// Costs are summed per basic block and charged before the instruction that
// ends the block. A block whose cost exceeds the remaining budget sets the
// exhausted flag and executes unreachable, so the host can tell budget
// exhaustion apart from any other trap. The host seeds the budget with
// SetBudget after instantiation and reads it back with Budget.
package metering

import (
	"bytes"
	"errors"
	"fmt"
)

// Names of the exported metering globals.
const (
	RemainingExport = "__meter_remaining"
	ExhaustedExport = "__meter_exhausted"
)

var (
	// ErrMalformed is returned for binaries that do not follow the
	// WebAssembly binary format.
	ErrMalformed = errors.New("malformed wasm binary")
	// ErrUnsupportedOpcode is returned for instructions outside the
	// supported feature set, such as SIMD or threads.
	ErrUnsupportedOpcode = errors.New("unsupported opcode")
	// ErrReservedExport is returned when the module already exports one of
	// the metering global names.
	ErrReservedExport = errors.New("reserved export name")
)

var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

const (
	sectionCustom    = 0
	sectionImport    = 2
	sectionGlobal    = 6
	sectionExport    = 7
	sectionStart     = 8
	sectionCode      = 10
	sectionDataCount = 12
)

// sectionRank orders non-custom sections as the binary format requires.
// Data count sits between element and code.
func sectionRank(id byte) (int, bool) {
	switch {
	case id >= 1 && id <= 9:
		return int(id), true
	case id == sectionDataCount:
		return 10, true
	case id == sectionCode:
		return 11, true
	case id == 11:
		return 12, true
	}
	return 0, false
}

type section struct {
	id   byte
	body []byte
}

// Instrument returns a copy of bytecode with metering injected, charging
// each instruction according to cost. Sections other than global, export
// and code are copied byte for byte.
func Instrument(bytecode []byte, cost CostFunc) ([]byte, error) {
	if cost == nil {
		cost = Uniform
	}
	sections, err := splitSections(bytecode)
	if err != nil {
		return nil, err
	}

	var importedGlobals, definedGlobals uint32
	for _, s := range sections {
		switch s.id {
		case sectionImport:
			imports, err := countImports(s.body)
			if err != nil {
				return nil, err
			}
			importedGlobals = imports.Globals
		case sectionGlobal:
			r := &reader{b: s.body}
			if definedGlobals, err = r.u32(); err != nil {
				return nil, err
			}
		}
	}
	m := &meter{
		cost:      cost,
		remaining: importedGlobals + definedGlobals,
		exhausted: importedGlobals + definedGlobals + 1,
	}

	out := bytes.NewBuffer(make([]byte, 0, len(bytecode)+len(bytecode)/2))
	out.Write(wasmHeader)

	var wroteGlobal, wroteExport bool
	emitMissing := func(rank int) error {
		if !wroteGlobal && rank > sectionGlobal {
			writeSection(out, sectionGlobal, m.globalSection(nil))
			wroteGlobal = true
		}
		if !wroteExport && rank > sectionExport {
			body, err := m.exportSection(nil)
			if err != nil {
				return err
			}
			writeSection(out, sectionExport, body)
			wroteExport = true
		}
		return nil
	}

	for _, s := range sections {
		if s.id == sectionCustom {
			writeSection(out, s.id, s.body)
			continue
		}
		rank, _ := sectionRank(s.id)
		if err := emitMissing(rank); err != nil {
			return nil, err
		}
		switch s.id {
		case sectionGlobal:
			writeSection(out, s.id, m.globalSection(s.body))
			wroteGlobal = true
		case sectionExport:
			body, err := m.exportSection(s.body)
			if err != nil {
				return nil, err
			}
			writeSection(out, s.id, body)
			wroteExport = true
		case sectionCode:
			body, err := m.codeSection(s.body)
			if err != nil {
				return nil, err
			}
			writeSection(out, s.id, body)
		default:
			writeSection(out, s.id, s.body)
		}
	}
	if err := emitMissing(sectionExport + 1); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func splitSections(bytecode []byte) ([]section, error) {
	if !bytes.HasPrefix(bytecode, wasmHeader) {
		return nil, fmt.Errorf("%w: bad magic or version", ErrMalformed)
	}
	r := &reader{b: bytecode, pos: len(wasmHeader)}
	var sections []section
	lastRank := 0
	for !r.eof() {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, err
		}
		if id != sectionCustom {
			rank, ok := sectionRank(id)
			if !ok {
				return nil, fmt.Errorf("%w: unknown section id %d", ErrMalformed, id)
			}
			if rank <= lastRank {
				return nil, fmt.Errorf("%w: section %d out of order", ErrMalformed, id)
			}
			lastRank = rank
		}
		sections = append(sections, section{id: id, body: body})
	}
	return sections, nil
}

func writeSection(out *bytes.Buffer, id byte, body []byte) {
	out.WriteByte(id)
	out.Write(appendU32(nil, uint32(len(body))))
	out.Write(body)
}

// Imports counts a module's imports by kind.
type Imports struct {
	Funcs    uint32
	Tables   uint32
	Memories uint32
	Globals  uint32
}

// Total returns the number of imports.
func (i Imports) Total() uint32 {
	return i.Funcs + i.Tables + i.Memories + i.Globals
}

// Layout describes the parts of a module that decide whether it can run
// without a host: what it imports and whether it has a start function.
type Layout struct {
	Imports  Imports
	HasStart bool
}

// Describe returns the layout of bytecode.
func Describe(bytecode []byte) (Layout, error) {
	sections, err := splitSections(bytecode)
	if err != nil {
		return Layout{}, err
	}
	var l Layout
	for _, s := range sections {
		switch s.id {
		case sectionImport:
			if l.Imports, err = countImports(s.body); err != nil {
				return Layout{}, err
			}
		case sectionStart:
			l.HasStart = true
		}
	}
	return l, nil
}

func countImports(body []byte) (Imports, error) {
	r := &reader{b: body}
	n, err := r.u32()
	if err != nil {
		return Imports{}, err
	}
	var out Imports
	for range n {
		if _, err := r.name(); err != nil {
			return Imports{}, err
		}
		if _, err := r.name(); err != nil {
			return Imports{}, err
		}
		kind, err := r.byte()
		if err != nil {
			return Imports{}, err
		}
		switch kind {
		case 0x00: // func
			_, err = r.u32()
			out.Funcs++
		case 0x01: // table
			if _, err = r.byte(); err == nil {
				err = r.limits()
			}
			out.Tables++
		case 0x02: // memory
			err = r.limits()
			out.Memories++
		case 0x03: // global
			_, err = r.bytes(2)
			out.Globals++
		default:
			err = fmt.Errorf("%w: import kind %d", ErrMalformed, kind)
		}
		if err != nil {
			return Imports{}, err
		}
	}
	return out, nil
}

type meter struct {
	cost      CostFunc
	remaining uint32 // global index
	exhausted uint32 // global index
}

// globalSection appends the metering globals to an existing global section
// body, or builds a new one when body is nil.
func (m *meter) globalSection(body []byte) []byte {
	var n uint32
	r := &reader{b: body}
	if body != nil {
		// Count was validated when indices were assigned.
		n, _ = r.u32()
	}
	out := appendU32(nil, n+2)
	out = append(out, body[r.pos:]...)
	out = append(out, 0x7e, 0x01, 0x42, 0x00, 0x0b) // mut i64 = 0
	out = append(out, 0x7f, 0x01, 0x41, 0x00, 0x0b) // mut i32 = 0
	return out
}

func (m *meter) exportSection(body []byte) ([]byte, error) {
	var n uint32
	r := &reader{b: body}
	entries := 0
	if body != nil {
		var err error
		if n, err = r.u32(); err != nil {
			return nil, err
		}
		entries = r.pos
		for range n {
			name, err := r.name()
			if err != nil {
				return nil, err
			}
			if name == RemainingExport || name == ExhaustedExport {
				return nil, fmt.Errorf("%w: %s", ErrReservedExport, name)
			}
			if _, err := r.byte(); err != nil {
				return nil, err
			}
			if _, err := r.u32(); err != nil {
				return nil, err
			}
		}
	}
	out := appendU32(nil, n+2)
	out = append(out, body[entries:]...)
	out = appendExport(out, RemainingExport, m.remaining)
	out = appendExport(out, ExhaustedExport, m.exhausted)
	return out, nil
}

func appendExport(out []byte, name string, global uint32) []byte {
	out = appendU32(out, uint32(len(name)))
	out = append(out, name...)
	out = append(out, 0x03)
	return appendU32(out, global)
}

func (m *meter) codeSection(body []byte) ([]byte, error) {
	r := &reader{b: body}
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	out := appendU32(make([]byte, 0, len(body)*2), n)
	for i := range n {
		size, err := r.u32()
		if err != nil {
			return nil, err
		}
		fn, err := r.bytes(int(size))
		if err != nil {
			return nil, err
		}
		rewritten, err := m.function(fn)
		if err != nil {
			return nil, fmt.Errorf("function %d: %w", i, err)
		}
		out = appendU32(out, uint32(len(rewritten)))
		out = append(out, rewritten...)
	}
	if !r.eof() {
		return nil, fmt.Errorf("%w: trailing bytes in code section", ErrMalformed)
	}
	return out, nil
}

// function rewrites a single function body: the locals declaration is kept
// and a budget check is placed before every block terminator.
func (m *meter) function(fn []byte) ([]byte, error) {
	r := &reader{b: fn}
	groups, err := r.u32()
	if err != nil {
		return nil, err
	}
	for range groups {
		if _, err := r.u32(); err != nil {
			return nil, err
		}
		if _, err := r.byte(); err != nil {
			return nil, err
		}
	}
	out := make([]byte, 0, len(fn)*2)
	out = append(out, fn[:r.pos]...)

	var acc uint64
	for !r.eof() {
		start := r.pos
		op, err := decodeInstruction(r)
		if err != nil {
			return nil, err
		}
		acc += m.cost(op)
		if op.terminates() {
			out = m.charge(out, acc)
			acc = 0
		}
		out = append(out, fn[start:r.pos]...)
	}
	if len(fn) == 0 || fn[len(fn)-1] != byte(OpEnd) {
		return nil, fmt.Errorf("%w: function body does not end with end", ErrMalformed)
	}
	return out, nil
}

// charge emits:
//
//	global.get $remaining
//	i64.const cost
//	i64.lt_u
//	if
//	  i32.const 1
//	  global.set $exhausted
//	  unreachable
//	end
//	global.get $remaining
//	i64.const cost
//	i64.sub
//	global.set $remaining
func (m *meter) charge(out []byte, cost uint64) []byte {
	if cost == 0 {
		return out
	}
	out = append(out, 0x23)
	out = appendU32(out, m.remaining)
	out = append(out, 0x42)
	out = appendSigned(out, int64(cost))
	out = append(out, 0x54, 0x04, 0x40, 0x41, 0x01, 0x24)
	out = appendU32(out, m.exhausted)
	out = append(out, 0x00, 0x0b, 0x23)
	out = appendU32(out, m.remaining)
	out = append(out, 0x42)
	out = appendSigned(out, int64(cost))
	out = append(out, 0x7d, 0x24)
	return appendU32(out, m.remaining)
}
