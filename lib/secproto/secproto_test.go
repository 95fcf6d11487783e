// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secproto

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRequestRoundTrip(t *testing.T) {
	requests := []Request{
		&ListBuiltinsRequest{},
		&FindFileRequest{Name: "hello.model"},
		&GetFilePageRequest{FID: 3, Offset: 8192, Length: MaxPageData},
		&ReadKeyRequest{Bundle: "app1", Key: "k"},
		&WriteKeyRequest{Bundle: "app1", Key: "k", Value: []byte{1, 2, 3}},
		&DeleteKeyRequest{Bundle: "app1", Key: "k"},
		&DeleteBundleRequest{Bundle: "app1"},
		&GetMeasurementRequest{Name: "hello.model"},
		&TestRequest{Count: 16},
		&GetPackagesRequest{},
		&SizeBufferRequest{Bundle: "hello"},
		&LoadApplicationRequest{Bundle: "hello"},
		&LoadModelRequest{Bundle: "hello", Model: "mobilenet.model"},
		&InstallAppRequest{App: "hello"},
		&InstallModelRequest{App: "hello", Model: "mobilenet.model"},
	}
	seen := map[Opcode]bool{}
	for _, request := range requests {
		encoded, err := Encode(request)
		if err != nil {
			t.Fatalf("Encode(%s): %v", request.Opcode(), err)
		}
		if Opcode(encoded[0]) != request.Opcode() {
			t.Errorf("%s: opcode byte %#x", request.Opcode(), encoded[0])
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%s): %v", request.Opcode(), err)
		}
		if !reflect.DeepEqual(decoded, request) {
			t.Errorf("%s: decoded %+v, want %+v", request.Opcode(), decoded, request)
		}
		again, _ := Encode(decoded)
		if !bytes.Equal(again, encoded) {
			t.Errorf("%s: re-encoding differs", request.Opcode())
		}
		seen[request.Opcode()] = true
	}
	for _, op := range Opcodes() {
		if !seen[op] {
			t.Errorf("opcode %s not covered", op)
		}
	}
}

func TestEncodeRejectsOversizeRequest(t *testing.T) {
	_, err := Encode(&WriteKeyRequest{Bundle: "app1", Key: "k", Value: make([]byte, MaxMessageSize)})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("Encode = %v, want ErrFrameTooLarge", err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid, _ := Encode(&ReadKeyRequest{Bundle: "app1", Key: "k"})
	cases := map[string][]byte{
		"empty":          nil,
		"unknown opcode": {0x7f, 0x80},
		"trailing bytes": append(bytes.Clone(valid), 0x00),
		"wrong arity":    {byte(OpReadKey), 0x81, 0x61, 'a'},
		"truncated":      valid[:len(valid)-1],
	}
	for name, data := range cases {
		if _, err := Decode(data); !errors.Is(err, ErrMalformed) {
			t.Errorf("%s: Decode = %v, want ErrMalformed", name, err)
		}
	}
	if _, err := Decode(make([]byte, MaxMessageSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversize: Decode = %v, want ErrFrameTooLarge", err)
	}
}

func TestValidateLimits(t *testing.T) {
	long := strings.Repeat("k", MaxNameSize+1)
	cases := []struct {
		request Request
		status  Status
	}{
		{&WriteKeyRequest{Bundle: "app1", Key: "k", Value: make([]byte, MaxValueSize)}, StatusSuccess},
		{&WriteKeyRequest{Bundle: "app1", Key: "k", Value: make([]byte, MaxValueSize+1)}, StatusValueTooLarge},
		{&ReadKeyRequest{Bundle: "app1", Key: long}, StatusValueTooLarge},
		{&ReadKeyRequest{Bundle: "", Key: "k"}, StatusDeserializeFailed},
		{&GetFilePageRequest{FID: 1, Length: 0}, StatusPageInvalid},
		{&GetFilePageRequest{FID: 1, Length: MaxPageData + 1}, StatusPageInvalid},
		{&TestRequest{Count: MaxTestWords + 1}, StatusPageInvalid},
	}
	for _, tc := range cases {
		if got := StatusOf(tc.request.Validate()); got != tc.status {
			t.Errorf("%s %+v: status %s, want %s", tc.request.Opcode(), tc.request, got, tc.status)
		}
	}
}

func TestResponseStatusBecomesBackendError(t *testing.T) {
	encoded := EncodeError(Fail(OpReadKey, StatusKeyNotFound, "no key %q", "k"))
	var result ReadKeyResponse
	err := DecodeResponse(OpReadKey, encoded, &result)

	var backend *BackendError
	if !errors.As(err, &backend) {
		t.Fatalf("DecodeResponse = %v, want *BackendError", err)
	}
	if backend.Status != StatusKeyNotFound || backend.Op != OpReadKey {
		t.Errorf("BackendError = %+v", backend)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("KeyNotFound does not match ErrNotFound")
	}
	if errors.Is(Fail(OpWriteKey, StatusValueTooLarge, "x"), ErrNotFound) {
		t.Error("ValueTooLarge matches ErrNotFound")
	}
}

func TestEncodeErrorForPlainError(t *testing.T) {
	encoded := EncodeError(errors.New("disk on fire"))
	err := DecodeResponse(OpListBuiltins, encoded, nil)
	if StatusOf(err) != StatusUnknownError {
		t.Fatalf("status = %s, want UnknownError", StatusOf(err))
	}
	if !strings.Contains(err.Error(), "disk on fire") {
		t.Errorf("message lost: %v", err)
	}
}

func TestFullPageResponseFitsOneMessage(t *testing.T) {
	chunk := MaxPageChunk(MaxMessageSize)
	encoded, err := EncodeResponse(OpGetFilePage, GetFilePageResponse{Data: make([]byte, chunk)})
	if err != nil {
		t.Fatalf("EncodeResponse(%d bytes): %v", chunk, err)
	}
	if len(encoded) > MaxMessageSize {
		t.Fatalf("response is %d bytes, limit %d", len(encoded), MaxMessageSize)
	}

	var page GetFilePageResponse
	if err := DecodeResponse(OpGetFilePage, encoded, &page); err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if len(page.Data) != chunk {
		t.Errorf("page is %d bytes, want %d", len(page.Data), chunk)
	}

	_, err = EncodeResponse(OpTest, TestResponse{Data: make([]byte, MaxMessageSize)})
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("oversize response: %v, want ErrFrameTooLarge", err)
	}
}

func TestResponseStatus(t *testing.T) {
	success, err := EncodeResponse(OpDeleteKey, Empty{})
	if err != nil {
		t.Fatalf("EncodeResponse: %v", err)
	}
	if status, err := ResponseStatus(success); err != nil || status != StatusSuccess {
		t.Errorf("ResponseStatus(success) = %s, %v", status, err)
	}
	failure := EncodeError(Fail(OpReadKey, StatusPermissionDenied, "bundle app2"))
	if status, err := ResponseStatus(failure); err != nil || status != StatusPermissionDenied {
		t.Errorf("ResponseStatus(failure) = %s, %v", status, err)
	}
	if _, err := ResponseStatus([]byte{0xFF}); !errors.Is(err, ErrMalformed) {
		t.Errorf("ResponseStatus(garbage) = %v, want ErrMalformed", err)
	}
}
