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

package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/redpanda-data/wasm-functions/apierrors"
	"github.com/redpanda-data/wasm-functions/logging"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error    string            `json:"error"`
	Code     string            `json:"code"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// writeError translates err and writes it with its HTTP status. Not found
// errors carry the request URI. The failure is logged with the request
// logger.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context())
	st := apierrors.Translate(err)
	md := st.Info.GetMetadata()
	msg := st.Message
	if st.HTTPStatus == http.StatusNotFound {
		if md == nil {
			md = map[string]string{}
		}
		md["uri"] = r.URL.RequestURI()
		if apierrors.KindOf(err) == apierrors.NotFound {
			msg = r.URL.RequestURI() + " not found"
		}
	}
	if st.HTTPStatus >= http.StatusInternalServerError {
		logger.Error(err, "request failed", "uri", r.URL.RequestURI(), "method", r.Method)
	} else {
		logger.V(1).Info("request rejected", "uri", r.URL.RequestURI(), "reason", st.Info.GetReason(), "error", err.Error())
	}
	if rm := getRequestMetadata(r.Context()); rm != nil {
		rm.err = err
	}
	writeJSON(w, st.HTTPStatus, ErrorResponse{
		Error:    msg,
		Code:     st.Code.String(),
		Reason:   st.Info.GetReason(),
		Metadata: md,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
