// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type record struct {
	Opcode uint8
	Name   string
	Data   []byte
}

type positional struct {
	_      struct{} `cbor:",toarray"`
	Opcode uint8
	Name   string
}

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{"zeta": 1, "alpha": "x", "mid": []byte{1, 2}}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding changed between calls: %x != %x", first, again)
		}
	}
}

func TestToArrayIsPositional(t *testing.T) {
	data, err := Marshal(positional{Opcode: 3, Name: "kv"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// 0x82 = array of two, 0x03 = uint 3, 0x62 'k' 'v'.
	want := []byte{0x82, 0x03, 0x62, 'k', 'v'}
	if !bytes.Equal(data, want) {
		t.Errorf("encoding = %x, want %x", data, want)
	}
}

func TestMarshalLimit(t *testing.T) {
	small := record{Opcode: 1, Name: "a"}
	if _, err := MarshalLimit(small, 64); err != nil {
		t.Fatalf("MarshalLimit under limit: %v", err)
	}

	large := record{Opcode: 1, Data: make([]byte, 200)}
	_, err := MarshalLimit(large, 64)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("MarshalLimit over limit: got %v, want ErrTooLarge", err)
	}
}

func TestUnmarshalStrictRejectsUnknownField(t *testing.T) {
	data, err := Marshal(map[string]any{"Opcode": 1, "Name": "x", "Extra": true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var lenient record
	if err := Unmarshal(data, &lenient); err != nil {
		t.Fatalf("lenient Unmarshal: %v", err)
	}
	if lenient.Name != "x" {
		t.Errorf("lenient Name = %q, want x", lenient.Name)
	}

	var strict record
	if err := UnmarshalStrict(data, &strict); err == nil {
		t.Fatal("UnmarshalStrict accepted an unknown field")
	}
}

func TestUnmarshalStrictRejectsArityMismatch(t *testing.T) {
	data, err := Marshal([]any{1, "kv", "surplus"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded positional
	if err := UnmarshalStrict(data, &decoded); err == nil {
		t.Fatal("UnmarshalStrict accepted a three-element array for a two-field record")
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	data, err := Marshal(positional{Opcode: 1, Name: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data = append(data, 0x00)

	var decoded positional
	if err := UnmarshalStrict(data, &decoded); err == nil {
		t.Fatal("UnmarshalStrict accepted trailing bytes")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, name := range []string{"one", "two", "three"} {
		if err := encoder.Encode(record{Name: name}); err != nil {
			t.Fatalf("Encode(%s): %v", name, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"one", "two", "three"} {
		var got record
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got.Name != want {
			t.Errorf("Name = %q, want %q", got.Name, want)
		}
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(positional{Opcode: 7, Name: "fw"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(text, `"fw"`) {
		t.Errorf("Diagnose = %q, want it to mention \"fw\"", text)
	}
}
