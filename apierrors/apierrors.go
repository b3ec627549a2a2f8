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

// Package apierrors defines the closed set of failure kinds surfaced by the
// function platform and the single place where they are translated into
// transport status codes.
//
// Library code returns *Error values (or wraps them with fmt.Errorf and %w).
// Transports call Translate exactly once at the boundary.
package apierrors

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Kind discriminates platform failures.
type Kind int

// Failure kinds. The zero value is UnknownServerError so that an
// unclassified error is never reported as a client fault.
const (
	UnknownServerError Kind = iota
	InvalidCredentials
	DuplicateUsername
	Unauthorized
	NotFound
	DuplicateFunction
	UnimplementedWasmType
	EndpointNotFound
	FunctionNotFound
	WasmTypeConversionError
	WasmWrongParameterType
	WasmInstanceError
	InvalidSignature
	InvalidWasmModule
	InsufficientCredits
	PasswordTooShort
	PasswordTooWeak
	JwtSignatureFailure
	InvalidPageToken
)

// Category groups kinds by who is at fault and whether retrying can help.
type Category int

const (
	// CategoryInput covers malformed or mistyped requests, detected before
	// any guest code runs.
	CategoryInput Category = iota
	// CategoryExecution covers guest traps and instantiation failures.
	CategoryExecution
	// CategoryBilling covers budget exhaustion and lost debit races.
	CategoryBilling
	// CategoryInfrastructure covers storage and signing failures.
	CategoryInfrastructure
)

var kindNames = map[Kind]string{
	UnknownServerError:      "UNKNOWN_SERVER_ERROR",
	InvalidCredentials:      "INVALID_CREDENTIALS",
	DuplicateUsername:       "DUPLICATE_USERNAME",
	Unauthorized:            "UNAUTHORIZED",
	NotFound:                "NOT_FOUND",
	DuplicateFunction:       "DUPLICATE_FUNCTION",
	UnimplementedWasmType:   "UNIMPLEMENTED_WASM_TYPE",
	EndpointNotFound:        "ENDPOINT_NOT_FOUND",
	FunctionNotFound:        "FUNCTION_NOT_FOUND",
	WasmTypeConversionError: "WASM_TYPE_CONVERSION_ERROR",
	WasmWrongParameterType:  "WASM_WRONG_PARAMETER_TYPE",
	WasmInstanceError:       "WASM_INSTANCE_ERROR",
	InvalidSignature:        "INVALID_SIGNATURE",
	InvalidWasmModule:       "INVALID_WASM_MODULE",
	InsufficientCredits:     "INSUFFICIENT_CREDITS",
	PasswordTooShort:        "PASSWORD_TOO_SHORT",
	PasswordTooWeak:         "PASSWORD_TOO_WEAK",
	JwtSignatureFailure:     "JWT_SIGNATURE_FAILURE",
	InvalidPageToken:        "INVALID_PAGE_TOKEN",
}

// String returns the reason string used in ErrorInfo details.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("KIND_%d", int(k))
}

// Category reports the failure category of k.
func (k Kind) Category() Category {
	switch k {
	case WasmInstanceError:
		return CategoryExecution
	case InsufficientCredits:
		return CategoryBilling
	case UnknownServerError, JwtSignatureFailure, InvalidSignature:
		return CategoryInfrastructure
	default:
		return CategoryInput
	}
}

// Error is a classified platform failure. Metadata carries context such as
// expected and actual types, function names or the request URI.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Err      error
}

// New returns an *Error of the given kind.
func New(kind Kind, msg string, metadata ...KeyVal) *Error {
	e := &Error{Kind: kind, Message: msg}
	if len(metadata) > 0 {
		e.Metadata = make(map[string]string, len(metadata))
		for _, kv := range metadata {
			e.Metadata[kv.Key] = kv.Value
		}
	}
	return e
}

// Wrap returns an *Error of the given kind that wraps err.
func Wrap(kind Kind, err error, msg string, metadata ...KeyVal) *Error {
	e := New(kind, msg, metadata...)
	e.Err = err
	return e
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This allows
// errors.Is(err, apierrors.New(apierrors.NotFound, "")) style checks.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// SortedMetadataKeys returns the metadata keys in a stable order.
func (e *Error) SortedMetadataKeys() []string {
	return slices.Sorted(maps.Keys(e.Metadata))
}

// KeyVal is a key/value pair that is used to provide additional metadata labels.
type KeyVal struct {
	Key   string
	Value string
}

// KV is shorthand for constructing a KeyVal.
func KV(key, value string) KeyVal {
	return KeyVal{Key: key, Value: value}
}

// KindOf returns the kind of the first *Error in err's chain, or
// UnknownServerError when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return UnknownServerError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
