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

// Package usage publishes one record per billed function call.
package usage

import (
	"context"
	"time"
)

// Record describes a billed call.
type Record struct {
	UserID        int64     `json:"user_id"`
	ModuleID      int64     `json:"module_id"`
	Function      string    `json:"function"`
	CreditsUsed   int64     `json:"credits_used"`
	BalanceBefore int64     `json:"balance_before"`
	Timestamp     time.Time `json:"timestamp"`
}

// Publisher emits usage records.
type Publisher interface {
	Publish(ctx context.Context, r Record) error
	Close()
}

// Nop discards records.
type Nop struct{}

var _ Publisher = Nop{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Record) error { return nil }

// Close implements Publisher.
func (Nop) Close() {}
