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

import "fmt"

// decodeInstruction reads one instruction, including its immediates, and
// returns its opcode. The reader is left positioned after the instruction.
func decodeInstruction(r *reader) (Opcode, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	op := Opcode(b)
	switch {
	case op == OpUnreachable, op == OpNop, op == OpElse, op == OpEnd, op == OpReturn,
		op == OpDrop, op == OpSelect, op == OpRefIsNull:
		return op, nil

	case op == OpBlock, op == OpLoop, op == OpIf:
		return op, r.blockType()

	case op == OpBr, op == OpBrIf, op == OpCall,
		op >= OpLocalGet && op <= OpTableSet,
		op == OpRefFunc:
		_, err := r.u32()
		return op, err

	case op == OpBrTable:
		n, err := r.u32()
		if err != nil {
			return 0, err
		}
		for range n + 1 {
			if _, err := r.u32(); err != nil {
				return 0, err
			}
		}
		return op, nil

	case op == OpCallIndirect:
		if _, err := r.u32(); err != nil {
			return 0, err
		}
		_, err := r.u32()
		return op, err

	case op == OpTypedSelect:
		n, err := r.u32()
		if err != nil {
			return 0, err
		}
		_, err = r.bytes(int(n))
		return op, err

	case op >= OpI32Load && op <= OpI64Store32:
		if _, err := r.u32(); err != nil {
			return 0, err
		}
		_, err := r.u32()
		return op, err

	case op == OpMemorySize, op == OpMemoryGrow:
		_, err := r.u32()
		return op, err

	case op == OpI32Const:
		return op, r.skipSigned(5)
	case op == OpI64Const:
		return op, r.skipSigned(10)
	case op == OpF32Const:
		_, err := r.bytes(4)
		return op, err
	case op == OpF64Const:
		_, err := r.bytes(8)
		return op, err

	case op >= OpI32Eqz && op <= OpI64Extend32S:
		return op, nil

	case op == OpRefNull:
		_, err := r.byte()
		return op, err

	case b == MiscPrefix:
		return r.misc()

	case b == SIMDPrefix, b == AtomicPrefix:
		return 0, fmt.Errorf("%w: prefix 0x%02x at offset %d", ErrUnsupportedOpcode, b, r.pos-1)
	}
	return 0, fmt.Errorf("%w: 0x%02x at offset %d", ErrUnsupportedOpcode, b, r.pos-1)
}

// blockType skips a block type: empty, a single value type, or a type index
// encoded as a signed 33-bit integer.
func (r *reader) blockType() error {
	if r.eof() {
		return fmt.Errorf("%w: missing block type", ErrMalformed)
	}
	switch r.b[r.pos] {
	case 0x40, 0x7f, 0x7e, 0x7d, 0x7c, 0x7b, 0x70, 0x6f:
		r.pos++
		return nil
	}
	return r.skipSigned(5)
}

func (r *reader) misc() (Opcode, error) {
	sub, err := r.u32()
	if err != nil {
		return 0, err
	}
	op := Misc(sub)
	switch {
	case sub <= miscTruncSatLast:
	case sub == miscMemoryInit:
		if _, err = r.u32(); err == nil {
			_, err = r.byte()
		}
	case sub == miscMemoryCopy:
		_, err = r.bytes(2)
	case sub == miscMemoryFill:
		_, err = r.byte()
	case sub == miscTableInit, sub == miscTableCopy:
		if _, err = r.u32(); err == nil {
			_, err = r.u32()
		}
	case sub == miscDataDrop, sub == miscElemDrop, sub == miscTableGrow,
		sub == miscTableSize, sub == miscTableFill:
		_, err = r.u32()
	default:
		return 0, fmt.Errorf("%w: 0xfc %d at offset %d", ErrUnsupportedOpcode, sub, r.pos)
	}
	if err != nil {
		return 0, err
	}
	return op, nil
}
