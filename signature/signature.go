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

// Package signature converts between the textual function signature stored
// alongside every deployed export, of the form "i32,f32->i32", and typed
// parameter and return lists.
package signature

import (
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/redpanda-data/wasm-functions/apierrors"
)

// Separator splits parameter and return lists.
const Separator = "->"

// Type is a WASM value type supported by the platform.
type Type uint8

// Supported value types. Adding one is an explicit change to this set and
// to every switch over it.
const (
	I32 Type = iota + 1
	F32
)

// String returns the type tag.
func (t Type) String() string {
	switch t {
	case I32:
		return "i32"
	case F32:
		return "f32"
	}
	return "unknown"
}

// ParseType parses a single type tag.
func ParseType(tag string) (Type, error) {
	switch tag {
	case "i32":
		return I32, nil
	case "f32":
		return F32, nil
	}
	return 0, apierrors.New(apierrors.UnimplementedWasmType, "unimplemented wasm type",
		apierrors.KV("type", tag))
}

// Signature is a parsed function signature.
type Signature struct {
	Params  []Type
	Returns []Type
}

// Parse parses sig. Empty tokens are skipped, so "->" describes a function
// without parameters or results.
func Parse(sig string) (Signature, error) {
	params, returns, ok := strings.Cut(sig, Separator)
	if !ok {
		return Signature{}, apierrors.New(apierrors.InvalidSignature, "invalid signature",
			apierrors.KV("signature", sig))
	}
	p, err := parseList(sig, params)
	if err != nil {
		return Signature{}, err
	}
	r, err := parseList(sig, returns)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Params: p, Returns: r}, nil
}

// parseList parses one side of sig. Tokens outside the supported tag set
// make the whole signature invalid.
func parseList(sig, s string) ([]Type, error) {
	var out []Type
	for tok := range strings.SplitSeq(s, ",") {
		if tok == "" {
			continue
		}
		t, err := ParseType(tok)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.InvalidSignature, err, "invalid signature",
				apierrors.KV("signature", sig), apierrors.KV("type", tok))
		}
		out = append(out, t)
	}
	return out, nil
}

// Format renders params and returns in canonical form.
func Format(params, returns []Type) string {
	var sb strings.Builder
	writeList(&sb, params)
	sb.WriteString(Separator)
	writeList(&sb, returns)
	return sb.String()
}

func writeList(sb *strings.Builder, types []Type) {
	for i, t := range types {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(t.String())
	}
}

// String implements fmt.Stringer.
func (s Signature) String() string {
	return Format(s.Params, s.Returns)
}

// FromValueTypes converts the types of a compiled export into a Signature.
func FromValueTypes(params, results []api.ValueType) (Signature, error) {
	p, err := fromValueTypes(params)
	if err != nil {
		return Signature{}, err
	}
	r, err := fromValueTypes(results)
	if err != nil {
		return Signature{}, err
	}
	return Signature{Params: p, Returns: r}, nil
}

func fromValueTypes(vts []api.ValueType) ([]Type, error) {
	out := make([]Type, 0, len(vts))
	for _, vt := range vts {
		switch vt {
		case api.ValueTypeI32:
			out = append(out, I32)
		case api.ValueTypeF32:
			out = append(out, F32)
		default:
			return nil, apierrors.New(apierrors.UnimplementedWasmType, "unimplemented wasm type",
				apierrors.KV("type", api.ValueTypeName(vt)))
		}
	}
	return out, nil
}
