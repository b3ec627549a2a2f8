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

package bolt

import (
	"encoding/binary"
	"encoding/json"
)

// Serde serializes records stored in a bucket.
type Serde[T any] interface {
	Serialize(v T) ([]byte, error)
	Deserialize(b []byte) (T, error)
}

// JSONSerde serializes values as JSON.
type JSONSerde[T any] struct{}

// JSON returns a JSON serde for type T.
func JSON[T any]() Serde[T] {
	return &JSONSerde[T]{}
}

// Serialize marshals the value to JSON.
func (*JSONSerde[T]) Serialize(v T) ([]byte, error) {
	return json.Marshal(v)
}

// Deserialize unmarshals JSON bytes to the value.
func (*JSONSerde[T]) Deserialize(b []byte) (T, error) {
	var v T
	err := json.Unmarshal(b, &v)
	return v, err
}

// key encodes ids big-endian so that cursor order is id order. Ids are
// always positive.
func key(ids ...int64) []byte {
	out := make([]byte, 0, 8*len(ids))
	for _, id := range ids {
		out = binary.BigEndian.AppendUint64(out, uint64(id))
	}
	return out
}

func decodeID(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}
