// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides CBOR serialization for grove's durable state
// files (the crash-attempts map). Encoding uses Core Deterministic
// Encoding (RFC 8949 §4.2) so the same logical state always produces
// identical bytes; decoding ignores unknown fields for forward
// compatibility across grove versions reading each other's state.
package codec

import (
	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
