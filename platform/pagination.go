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

package platform

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	commonv1 "buf.build/gen/go/redpandadata/common/protocolbuffers/go/redpanda/api/common/v1alpha1"
	"google.golang.org/protobuf/proto"
)

const (
	// DefaultPageSize is used when a request does not set a page size.
	DefaultPageSize = 50
	// MaxPageSize caps the page size of a request.
	MaxPageSize = 500

	pageKeyModuleID = "module_id"
)

var (
	// ErrInvalidTokenFormat is returned when the given token cannot be decoded.
	ErrInvalidTokenFormat = errors.New("token format is malformed")
	// ErrInvalidTokenKey is returned when the token key is invalid.
	ErrInvalidTokenKey = errors.New("invalid pagination token key")
)

// PageRequest selects a page of a listing.
type PageRequest struct {
	// PageSize is clamped to [1, MaxPageSize]. Zero selects DefaultPageSize.
	PageSize int
	// PageToken is the NextPageToken of the previous page, empty for the
	// first page.
	PageToken string
}

func (r PageRequest) size() int {
	switch {
	case r.PageSize <= 0:
		return DefaultPageSize
	case r.PageSize > MaxPageSize:
		return MaxPageSize
	}
	return r.PageSize
}

// encodeToken returns a keyset token resuming at the row whose key is
// greater or equal to value.
func encodeToken(key, value string) (string, error) {
	token := commonv1.KeySetPageToken{
		Key:               key,
		ValueGreaterEqual: value,
	}
	encoded, err := proto.Marshal(&token)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encoded), nil
}

// decodeToken decodes a keyset token and checks that its key is key.
func decodeToken(tokenStr, key string) (*commonv1.KeySetPageToken, error) {
	decoded, err := base64.StdEncoding.DecodeString(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTokenFormat, err)
	}
	var token commonv1.KeySetPageToken
	if err := proto.Unmarshal(decoded, &token); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTokenFormat, err)
	}
	if token.Key != key {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTokenKey, token.Key)
	}
	return &token, nil
}

// startID returns the first module id of the requested page.
func (r PageRequest) startID() (int64, error) {
	if r.PageToken == "" {
		return 0, nil
	}
	token, err := decodeToken(r.PageToken, pageKeyModuleID)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(token.ValueGreaterEqual, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: bad module id %q", ErrInvalidTokenFormat, token.ValueGreaterEqual)
	}
	return id, nil
}
