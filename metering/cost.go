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

// CostFunc returns the credits charged for executing op once. It must
// return at least 1 for every opcode.
type CostFunc func(op Opcode) uint64

// Policy names accepted by ByName.
const (
	PolicyUniform  = "uniform"
	PolicyWeighted = "weighted"
)

// Uniform charges one credit per instruction.
func Uniform(Opcode) uint64 { return 1 }

var weights = map[Class]uint64{
	ClassConst:      1,
	ClassVariable:   2,
	ClassArithmetic: 3,
	ClassControl:    2,
	ClassBranch:     3,
	ClassMemory:     5,
	ClassBulkMemory: 10,
	ClassCall:       10,
}

// Weighted charges by instruction class: memory traffic and calls cost more
// than register-like operations.
func Weighted(op Opcode) uint64 {
	if w, ok := weights[op.Class()]; ok {
		return w
	}
	return 1
}

// ByName returns the policy registered under name. An empty name selects
// Uniform.
func ByName(name string) (CostFunc, error) {
	switch name {
	case "", PolicyUniform:
		return Uniform, nil
	case PolicyWeighted:
		return Weighted, nil
	}
	return nil, fmt.Errorf("unknown metering policy %q", name)
}
