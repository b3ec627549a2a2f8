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

package apierrors

import (
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
)

// Domain is the ErrorInfo domain attached to every translated error.
const Domain = "redpanda.com/wasm-functions"

// Status is the transport view of an error.
type Status struct {
	HTTPStatus int
	Code       connect.Code
	Info       *errdetails.ErrorInfo
	Message    string
}

// Translate maps err onto its transport status. Errors that carry no
// *Error are reported as UnknownServerError with a generic message so that
// internal details do not leak to callers.
func Translate(err error) Status {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: UnknownServerError, Message: "internal server error"}
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	return Status{
		HTTPStatus: HTTPStatus(e.Kind),
		Code:       ConnectCode(e.Kind),
		Info:       NewErrorInfo(e.Kind, e.Metadata),
		Message:    msg,
	}
}

// HTTPStatus returns the HTTP status for kind.
func HTTPStatus(kind Kind) int {
	switch kind {
	case InsufficientCredits:
		return http.StatusPaymentRequired
	case NotFound, EndpointNotFound, FunctionNotFound:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case UnknownServerError, JwtSignatureFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// ConnectCode returns the connect code for kind.
func ConnectCode(kind Kind) connect.Code {
	switch kind {
	case InvalidCredentials, Unauthorized:
		return connect.CodeUnauthenticated
	case DuplicateUsername, DuplicateFunction:
		return connect.CodeAlreadyExists
	case NotFound, EndpointNotFound, FunctionNotFound:
		return connect.CodeNotFound
	case UnimplementedWasmType, WasmTypeConversionError, WasmWrongParameterType,
		InvalidWasmModule, PasswordTooShort, PasswordTooWeak, InvalidPageToken:
		return connect.CodeInvalidArgument
	case WasmInstanceError:
		return connect.CodeAborted
	case InvalidSignature:
		return connect.CodeFailedPrecondition
	case InsufficientCredits:
		return connect.CodeResourceExhausted
	default:
		return connect.CodeInternal
	}
}

// NewErrorInfo is a helper function to create a new ErrorInfo detail.
func NewErrorInfo(kind Kind, metadata map[string]string) *errdetails.ErrorInfo {
	var md map[string]string
	if len(metadata) > 0 {
		md = make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
	}
	return &errdetails.ErrorInfo{
		Reason:   kind.String(),
		Domain:   Domain,
		Metadata: md,
	}
}
