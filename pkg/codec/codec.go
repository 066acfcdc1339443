// Package codec wraps the CBOR encoding used for replicated room state.
//
// Encoding uses Core Deterministic Encoding (RFC 8949 §4.2) so the same
// room state always produces identical bytes, which keeps snapshot
// checksums stable across nodes.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MaxArrayElements is the longest CBOR array the decoder accepts, the
// largest limit the cbor library allows.
const MaxArrayElements = 2147483647

var (
	encMode  cbor.EncMode
	decMode  cbor.DecMode
	diagMode cbor.DiagMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// any-typed targets decode maps as map[string]any so diagnostic
		// output and JSON conversion work without extra type switches.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Rooms under the "all" policy have no retention bound, so
		// the retained message array may be arbitrarily long.
		MaxArrayElements: MaxArrayElements,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	diagMode, err = cbor.DiagOptions{CBORSequence: true}.DiagMode()
	if err != nil {
		panic("codec: CBOR diagnostic mode initialization failed: " + err.Error())
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

// Encoder writes a sequence of CBOR data items.
type Encoder = cbor.Encoder

// Decoder reads a sequence of CBOR data items.
type Decoder = cbor.Decoder

// NewEncoder returns a deterministic CBOR stream encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for every
// data item in data. Items of a sequence are separated by ", ".
func Diagnose(data []byte) (string, error) {
	return diagMode.Diagnose(data)
}
