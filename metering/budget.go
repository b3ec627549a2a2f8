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

import (
	"errors"

	"github.com/tetratelabs/wazero/api"
)

// ErrNotInstrumented is returned when an instance lacks the metering globals.
var ErrNotInstrumented = errors.New("module is not instrumented")

// SetBudget seeds the remaining credits of an instrumented instance and
// clears its exhausted flag.
func SetBudget(mod api.Module, credits uint64) error {
	remaining, ok := mod.ExportedGlobal(RemainingExport).(api.MutableGlobal)
	if !ok {
		return ErrNotInstrumented
	}
	exhausted, ok := mod.ExportedGlobal(ExhaustedExport).(api.MutableGlobal)
	if !ok {
		return ErrNotInstrumented
	}
	remaining.Set(credits)
	exhausted.Set(0)
	return nil
}

// Budget reads the remaining credits of an instrumented instance and
// whether the guest was stopped for running out of them.
func Budget(mod api.Module) (remaining uint64, exhausted bool, err error) {
	rem := mod.ExportedGlobal(RemainingExport)
	exh := mod.ExportedGlobal(ExhaustedExport)
	if rem == nil || exh == nil {
		return 0, false, ErrNotInstrumented
	}
	return rem.Get(), uint32(exh.Get()) != 0, nil
}
