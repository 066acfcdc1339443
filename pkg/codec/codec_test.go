package codec

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

type sampleRecord struct {
	Room  string `cbor:"room"`
	Bound int    `cbor:"bound"`
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleRecord{Room: "lobby", Bound: 25}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestEncoderDecoderSequence(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)

	if err := encoder.Encode("number"); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := encoder.Encode(true); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := encoder.Encode(25); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoder := NewDecoder(&buffer)

	var name string
	if err := decoder.Decode(&name); err != nil || name != "number" {
		t.Fatalf("Decode name = %q, %v", name, err)
	}
	var flag bool
	if err := decoder.Decode(&flag); err != nil || !flag {
		t.Fatalf("Decode flag = %v, %v", flag, err)
	}
	var bound int
	if err := decoder.Decode(&bound); err != nil || bound != 25 {
		t.Fatalf("Decode bound = %d, %v", bound, err)
	}

	var extra any
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Errorf("expected io.EOF after last item, got %v", err)
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleRecord{Room: "lobby", Bound: 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	diagnostic, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(diagnostic, `"lobby"`) {
		t.Errorf("diagnostic %q does not mention room", diagnostic)
	}
}

func TestDecoderLongArray(t *testing.T) {
	// one past the cbor library's default element limit
	stanzas := make([]string, 131073)
	for i := range stanzas {
		stanzas[i] = "<message/>"
	}

	var buffer bytes.Buffer
	if err := NewEncoder(&buffer).Encode(stanzas); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var decoded []string
	if err := NewDecoder(&buffer).Decode(&decoded); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != len(stanzas) {
		t.Errorf("decoded %d elements, want %d", len(decoded), len(stanzas))
	}

	var unmarshaled []string
	data, err := Marshal(stanzas)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if err := Unmarshal(data, &unmarshaled); err != nil || len(unmarshaled) != len(stanzas) {
		t.Errorf("Unmarshal = %d elements, %v", len(unmarshaled), err)
	}
}
