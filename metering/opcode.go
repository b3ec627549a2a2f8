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

package metering

// Opcode identifies an instruction. Instructions behind the 0xFC prefix are
// represented as MiscPrefix<<8 | subopcode.
type Opcode uint32

// Opcodes the instrumenter treats specially. The numeric ranges used by
// Class cover the rest.
const (
	OpUnreachable  Opcode = 0x00
	OpNop          Opcode = 0x01
	OpBlock        Opcode = 0x02
	OpLoop         Opcode = 0x03
	OpIf           Opcode = 0x04
	OpElse         Opcode = 0x05
	OpEnd          Opcode = 0x0b
	OpBr           Opcode = 0x0c
	OpBrIf         Opcode = 0x0d
	OpBrTable      Opcode = 0x0e
	OpReturn       Opcode = 0x0f
	OpCall         Opcode = 0x10
	OpCallIndirect Opcode = 0x11
	OpDrop         Opcode = 0x1a
	OpSelect       Opcode = 0x1b
	OpTypedSelect  Opcode = 0x1c
	OpLocalGet     Opcode = 0x20
	OpLocalSet     Opcode = 0x21
	OpLocalTee     Opcode = 0x22
	OpGlobalGet    Opcode = 0x23
	OpGlobalSet    Opcode = 0x24
	OpTableGet     Opcode = 0x25
	OpTableSet     Opcode = 0x26
	OpI32Load      Opcode = 0x28
	OpI64Store32   Opcode = 0x3e
	OpMemorySize   Opcode = 0x3f
	OpMemoryGrow   Opcode = 0x40
	OpI32Const     Opcode = 0x41
	OpI64Const     Opcode = 0x42
	OpF32Const     Opcode = 0x43
	OpF64Const     Opcode = 0x44
	OpI32Eqz       Opcode = 0x45
	OpI64Extend32S Opcode = 0xc4
	OpRefNull      Opcode = 0xd0
	OpRefIsNull    Opcode = 0xd1
	OpRefFunc      Opcode = 0xd2

	MiscPrefix   = 0xfc
	SIMDPrefix   = 0xfd
	AtomicPrefix = 0xfe
)

// Misc returns the opcode of a 0xFC-prefixed instruction.
func Misc(sub uint32) Opcode { return Opcode(MiscPrefix<<8 | sub) }

// 0xFC subopcodes.
const (
	miscTruncSatLast = 0x07
	miscMemoryInit   = 0x08
	miscDataDrop     = 0x09
	miscMemoryCopy   = 0x0a
	miscMemoryFill   = 0x0b
	miscTableInit    = 0x0c
	miscElemDrop     = 0x0d
	miscTableCopy    = 0x0e
	miscTableGrow    = 0x0f
	miscTableSize    = 0x10
	miscTableFill    = 0x11
)

// IsMisc reports whether op is 0xFC-prefixed.
func (op Opcode) IsMisc() bool { return op>>8 == MiscPrefix }

// Class is a coarse instruction category used by cost policies.
type Class int

const (
	ClassConst Class = iota
	ClassVariable
	ClassArithmetic
	ClassControl
	ClassBranch
	ClassMemory
	ClassBulkMemory
	ClassCall
)

// Class returns the category of op.
func (op Opcode) Class() Class {
	if op.IsMisc() {
		if op&0xff <= miscTruncSatLast {
			return ClassArithmetic
		}
		return ClassBulkMemory
	}
	switch {
	case op == OpCall || op == OpCallIndirect:
		return ClassCall
	case op == OpBr || op == OpBrIf || op == OpBrTable:
		return ClassBranch
	case op <= OpReturn:
		return ClassControl
	case op >= OpLocalGet && op <= OpTableSet:
		return ClassVariable
	case op >= OpI32Load && op <= OpMemorySize:
		return ClassMemory
	case op == OpMemoryGrow:
		return ClassBulkMemory
	case op >= OpI32Const && op <= OpF64Const, op == OpRefNull, op == OpRefFunc:
		return ClassConst
	default:
		return ClassArithmetic
	}
}

// terminates reports whether op ends a metered basic block. The accumulated
// cost is charged immediately before such an instruction.
func (op Opcode) terminates() bool {
	switch op {
	case OpLoop, OpIf, OpElse, OpEnd, OpBr, OpBrIf, OpBrTable, OpCall, OpCallIndirect, OpReturn:
		return true
	}
	return false
}
