/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package wire implements the bit-packed big-endian (de)serialization
// of TWAMP control and test protocol messages (RFC 4656 / RFC 5357).
package wire

import "github.com/pkg/errors"

// ErrNotEnoughBytes is returned when a decode call is handed a buffer
// shorter than the record it is asked to parse.
var ErrNotEnoughBytes = errors.New("not enough bytes to decode record")

// ErrInvalidDiscriminant is returned when an enumeration byte doesn't
// match any declared discriminant.
var ErrInvalidDiscriminant = errors.New("invalid discriminant")

func needBytes(b []byte, n int) error {
	if len(b) < n {
		return errors.Wrapf(ErrNotEnoughBytes, "need %d bytes, got %d", n, len(b))
	}
	return nil
}
