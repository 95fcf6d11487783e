// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secproto

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/seclink/lib/codec"
)

// Response is the envelope every reply travels in. Body holds the
// opcode's response record when Status is StatusSuccess and is absent
// otherwise; Message optionally explains a failure.
type Response struct {
	_       struct{} `cbor:",toarray"`
	Status  Status
	Body    codec.RawMessage
	Message string
}

// Encode produces the wire form of request: its opcode byte followed by
// the CBOR record.
func Encode(request Request) ([]byte, error) {
	body, err := codec.MarshalLimit(request, MaxMessageSize-1)
	if err != nil {
		if errors.Is(err, codec.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %s request: %w", ErrFrameTooLarge, request.Opcode(), err)
		}
		return nil, fmt.Errorf("encoding %s request: %w", request.Opcode(), err)
	}
	encoded := make([]byte, 0, 1+len(body))
	encoded = append(encoded, byte(request.Opcode()))
	return append(encoded, body...), nil
}

// PeekOpcode returns the opcode of an encoded request without decoding
// the body.
func PeekOpcode(data []byte) (Opcode, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("%w: empty request", ErrMalformed)
	}
	return Opcode(data[0]), nil
}

// Decode parses an encoded request. The returned value is a pointer to
// one of the request records.
func Decode(data []byte) (Request, error) {
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: request is %d bytes", ErrFrameTooLarge, len(data))
	}
	op, err := PeekOpcode(data)
	if err != nil {
		return nil, err
	}
	request, err := newRequest(op)
	if err != nil {
		return nil, err
	}
	if err := codec.UnmarshalStrict(data[1:], request); err != nil {
		return nil, fmt.Errorf("%w: %s body: %v", ErrMalformed, op, err)
	}
	return request, nil
}

// EncodeResponse produces a success response carrying body.
func EncodeResponse(op Opcode, body any) ([]byte, error) {
	raw, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s response: %w", op, err)
	}
	encoded, err := codec.MarshalLimit(Response{Status: StatusSuccess, Body: raw}, MaxMessageSize)
	if err != nil {
		if errors.Is(err, codec.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %s response: %w", ErrFrameTooLarge, op, err)
		}
		return nil, fmt.Errorf("encoding %s response: %w", op, err)
	}
	return encoded, nil
}

// EncodeError produces a failure response for err. Errors that are not
// a BackendError are reported as StatusUnknownError.
func EncodeError(err error) []byte {
	response := Response{Status: StatusOf(err), Message: err.Error()}
	var backend *BackendError
	if errors.As(err, &backend) {
		response.Message = backend.Message
	}
	if len(response.Message) > MaxMessageSize/2 {
		response.Message = response.Message[:MaxMessageSize/2]
	}
	encoded, marshalErr := codec.Marshal(response)
	if marshalErr != nil {
		// A status and a bounded string always encode.
		panic(fmt.Sprintf("secproto: encoding error response: %v", marshalErr))
	}
	return encoded
}

// DecodeResponse parses an encoded response to a request with opcode
// op. A failure status is returned as a *BackendError; on success the
// body is decoded into result, which must be a pointer to the
// opcode's response record (or nil to ignore the body).
func DecodeResponse(op Opcode, data []byte, result any) error {
	var response Response
	if err := codec.UnmarshalStrict(data, &response); err != nil {
		return fmt.Errorf("%w: %s response: %v", ErrMalformed, op, err)
	}
	if response.Status != StatusSuccess {
		return &BackendError{Op: op, Status: response.Status, Message: response.Message}
	}
	if result == nil {
		return nil
	}
	if err := codec.UnmarshalStrict(response.Body, result); err != nil {
		return fmt.Errorf("%w: %s response body: %v", ErrMalformed, op, err)
	}
	return nil
}

// MaxPageChunk returns the largest GetFilePage length whose response
// fits a window of windowSize bytes.
func MaxPageChunk(windowSize int) int {
	return min(MaxPageData, windowSize-ResponseOverhead)
}

// ResponseStatus returns the status of an encoded response without
// decoding its body.
func ResponseStatus(data []byte) (Status, error) {
	var response Response
	if err := codec.Unmarshal(data, &response); err != nil {
		return 0, fmt.Errorf("%w: response: %v", ErrMalformed, err)
	}
	return response.Status, nil
}
