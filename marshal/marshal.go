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

// Package marshal converts JSON call arguments into native WASM values and
// guest results back into JSON.
package marshal

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"github.com/tidwall/gjson"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/signature"
)

// Value is a native WASM value of one of the supported kinds.
type Value struct {
	kind signature.Type
	bits uint64
}

// I32 returns an i32 value.
func I32(v int32) Value { return Value{kind: signature.I32, bits: api.EncodeI32(v)} }

// F32 returns an f32 value.
func F32(v float32) Value { return Value{kind: signature.F32, bits: api.EncodeF32(v)} }

// Kind returns the value type.
func (v Value) Kind() signature.Type { return v.kind }

// Int32 returns the i32 payload. It is only meaningful when Kind is I32.
func (v Value) Int32() int32 { return api.DecodeI32(v.bits) }

// Float32 returns the f32 payload. It is only meaningful when Kind is F32.
func (v Value) Float32() float32 { return api.DecodeF32(v.bits) }

// Raw returns the value as it is placed on the guest stack.
func (v Value) Raw() uint64 { return v.bits }

// ToNative converts args into values matching expected, in order.
func ToNative(args []json.RawMessage, expected []signature.Type) ([]Value, error) {
	if len(args) != len(expected) {
		return nil, apierrors.New(apierrors.UnimplementedWasmType, "wrong number of arguments",
			apierrors.KV("expected", strconv.Itoa(len(expected))),
			apierrors.KV("actual", strconv.Itoa(len(args))))
	}
	out := make([]Value, len(args))
	for i, raw := range args {
		v, err := classify(raw)
		if err != nil {
			return nil, err
		}
		if v.kind != expected[i] {
			return nil, apierrors.New(apierrors.WasmWrongParameterType, "wrong parameter type",
				apierrors.KV("expected", expected[i].String()),
				apierrors.KV("actual", v.kind.String()),
				apierrors.KV("position", strconv.Itoa(i)))
		}
		out[i] = v
	}
	return out, nil
}

// classify picks the candidate native kind for a single JSON value. Integer
// literals become i32, any other number becomes f32.
func classify(raw json.RawMessage) (Value, error) {
	if !gjson.ValidBytes(raw) {
		return Value{}, unimplemented("invalid json")
	}
	res := gjson.ParseBytes(raw)
	if res.Type != gjson.Number {
		return Value{}, unimplemented(kindName(res))
	}
	lit := strings.TrimSpace(res.Raw)
	if !strings.ContainsAny(lit, ".eE") {
		n, err := strconv.ParseInt(lit, 10, 64)
		if err == nil {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return Value{}, apierrors.New(apierrors.WasmTypeConversionError, "integer out of i32 range",
					apierrors.KV("value", lit))
			}
			return I32(int32(n)), nil
		}
		if !errors.Is(err, strconv.ErrRange) {
			return Value{}, unimplemented("number")
		}
		// Integers wider than 64 bits are treated as floats.
	}
	return F32(float32(res.Float())), nil
}

func kindName(res gjson.Result) string {
	switch res.Type {
	case gjson.Null:
		return "null"
	case gjson.False, gjson.True:
		return "bool"
	case gjson.String:
		return "string"
	case gjson.JSON:
		if res.IsArray() {
			return "array"
		}
		return "object"
	}
	return "unknown"
}

func unimplemented(kind string) error {
	return apierrors.New(apierrors.UnimplementedWasmType, "unimplemented wasm type",
		apierrors.KV("type", kind))
}

// Encode returns the guest stack representation of values.
func Encode(values []Value) []uint64 {
	out := make([]uint64, len(values))
	for i, v := range values {
		out[i] = v.bits
	}
	return out
}

// ToJSON converts raw guest results into JSON values. Non-finite floats are
// rendered as null.
func ToJSON(raw []uint64, types []signature.Type) ([]json.RawMessage, error) {
	if len(raw) != len(types) {
		return nil, apierrors.New(apierrors.UnimplementedWasmType, "result count mismatch",
			apierrors.KV("expected", strconv.Itoa(len(types))),
			apierrors.KV("actual", strconv.Itoa(len(raw))))
	}
	out := make([]json.RawMessage, len(raw))
	for i, r := range raw {
		switch types[i] {
		case signature.I32:
			out[i] = json.RawMessage(strconv.FormatInt(int64(api.DecodeI32(r)), 10))
		case signature.F32:
			f := api.DecodeF32(r)
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				out[i] = json.RawMessage("null")
				continue
			}
			out[i] = json.RawMessage(strconv.FormatFloat(float64(f), 'g', -1, 32))
		default:
			return nil, unimplemented(types[i].String())
		}
	}
	return out, nil
}
