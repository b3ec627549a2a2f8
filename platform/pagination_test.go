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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, PageRequest{}.size())
	assert.Equal(t, DefaultPageSize, PageRequest{PageSize: -3}.size())
	assert.Equal(t, 7, PageRequest{PageSize: 7}.size())
	assert.Equal(t, MaxPageSize, PageRequest{PageSize: MaxPageSize + 1}.size())
}

func TestStartID(t *testing.T) {
	token, err := encodeToken(pageKeyModuleID, "17")
	require.NoError(t, err)
	wrongKey, err := encodeToken("name", "17")
	require.NoError(t, err)
	notNumber, err := encodeToken(pageKeyModuleID, "seventeen")
	require.NoError(t, err)

	tt := []struct {
		name    string
		token   string
		want    int64
		wantErr error
	}{
		{name: "first page", token: "", want: 0},
		{name: "resume", token: token, want: 17},
		{name: "not base64", token: "!!", wantErr: ErrInvalidTokenFormat},
		{name: "truncated", token: "CgVhYg==", wantErr: ErrInvalidTokenFormat},
		{name: "other key", token: wrongKey, wantErr: ErrInvalidTokenKey},
		{name: "not a number", token: notNumber, wantErr: ErrInvalidTokenFormat},
	}
	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, err := PageRequest{PageToken: tc.token}.startID()
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
