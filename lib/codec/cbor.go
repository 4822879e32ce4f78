// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding (RFC 8949 §4.2): sorted map keys, smallest integer
// encoding, no indefinite-length items.
var encMode cbor.EncMode

// decMode accepts standard CBOR. Unknown struct fields are ignored so
// producers may add fields without breaking older consumers.
var decMode cbor.DecMode

// streamDecMode is decMode with tighter structural limits, used on
// connections accepted from the network. A frame record is a flat map
// with a handful of fields, so deep nesting or huge containers are
// always a malformed or hostile peer.
var streamDecMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decOptions := cbor.DecOptions{
		// Targets typed as any decode maps as map[string]any rather
		// than the CBOR default of map[any]any.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	decMode, err = decOptions.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	decOptions.MaxNestedLevels = 8
	decOptions.MaxArrayElements = 256
	decOptions.MaxMapPairs = 64
	streamDecMode, err = decOptions.DecMode()
	if err != nil {
		panic("codec: CBOR stream decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// RawMessage is a raw encoded CBOR value, used to delay decoding or
// to forward pre-encoded bytes.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// NewStreamDecoder returns a decoder for untrusted peers. It rejects
// items that exceed the structural limits of streamDecMode; the
// caller is expected to bound the byte size of each item separately.
func NewStreamDecoder(r io.Reader) *Decoder {
	return streamDecMode.NewDecoder(r)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// entire contents of data. canctl uses it to print raw records.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
