// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secproto

import (
	"errors"
	"fmt"
)

// Opcode tags a request. Opcodes fit in seven bits so they can ride in
// a mailbox frame header unchanged.
type Opcode uint8

const (
	OpListBuiltins   Opcode = 0x01
	OpFindFile       Opcode = 0x02
	OpGetFilePage    Opcode = 0x03
	OpReadKey        Opcode = 0x04
	OpWriteKey       Opcode = 0x05
	OpDeleteKey      Opcode = 0x06
	OpGetMeasurement Opcode = 0x07
	OpTest           Opcode = 0x08
	OpDeleteBundle   Opcode = 0x09

	// Package operations. The coordinator answers these from its
	// bundle registry and the builtin archive; the Security Core does
	// not see them.
	OpGetPackages     Opcode = 0x0A
	OpSizeBuffer      Opcode = 0x0B
	OpLoadApplication Opcode = 0x0C
	OpLoadModel       Opcode = 0x0D
	OpInstallApp      Opcode = 0x0E
	OpInstallModel    Opcode = 0x0F
)

var opcodeNames = map[Opcode]string{
	OpListBuiltins:   "ListBuiltins",
	OpFindFile:       "FindFile",
	OpGetFilePage:    "GetFilePage",
	OpReadKey:        "ReadKey",
	OpWriteKey:       "WriteKey",
	OpDeleteKey:      "DeleteKey",
	OpGetMeasurement: "GetMeasurement",
	OpTest:           "Test",
	OpDeleteBundle:   "DeleteBundle",

	OpGetPackages:     "GetPackages",
	OpSizeBuffer:      "SizeBuffer",
	OpLoadApplication: "LoadApplication",
	OpLoadModel:       "LoadModel",
	OpInstallApp:      "InstallApp",
	OpInstallModel:    "InstallModel",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(%#02x)", uint8(op))
}

// Opcodes returns every defined opcode in ascending order.
func Opcodes() []Opcode {
	return []Opcode{
		OpListBuiltins, OpFindFile, OpGetFilePage, OpReadKey, OpWriteKey,
		OpDeleteKey, OpGetMeasurement, OpTest, OpDeleteBundle,
		OpGetPackages, OpSizeBuffer, OpLoadApplication, OpLoadModel,
		OpInstallApp, OpInstallModel,
	}
}

// Status is the outcome the Security Core reports for a request.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusDeserializeFailed
	StatusSerializeFailed
	StatusUnknownError
	StatusPageInvalid
	StatusFileNotFound
	StatusFileOffsetInvalid
	StatusKeyNotFound
	StatusBundleNotFound
	StatusValueTooLarge
	StatusPermissionDenied
	StatusTestFailed
	StatusDeleteFirst
	StatusInstallFailed
)

var statusNames = [...]string{
	StatusSuccess:           "Success",
	StatusDeserializeFailed: "DeserializeFailed",
	StatusSerializeFailed:   "SerializeFailed",
	StatusUnknownError:      "UnknownError",
	StatusPageInvalid:       "PageInvalid",
	StatusFileNotFound:      "FileNotFound",
	StatusFileOffsetInvalid: "FileOffsetInvalid",
	StatusKeyNotFound:       "KeyNotFound",
	StatusBundleNotFound:    "BundleNotFound",
	StatusValueTooLarge:     "ValueTooLarge",
	StatusPermissionDenied:  "PermissionDenied",
	StatusTestFailed:        "TestFailed",
	StatusDeleteFirst:       "DeleteFirst",
	StatusInstallFailed:     "InstallFailed",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Protocol limits.
const (
	// MaxValueSize is the largest key-value store value.
	MaxValueSize = 100

	// MaxNameSize bounds bundle ids, keys and builtin names.
	MaxNameSize = 64

	// PageSize is the Security Core's page size.
	PageSize = 4096

	// MaxMessageSize bounds an encoded request or response.
	MaxMessageSize = 4096

	// ResponseOverhead is the most bytes a Response envelope adds
	// around a GetFilePage payload.
	ResponseOverhead = 16

	// MaxPageData is the largest GetFilePage transfer: a page less
	// the response envelope, so the response fits one message.
	MaxPageData = PageSize - ResponseOverhead

	// MaxTestWords bounds a Test request's count.
	MaxTestWords = MaxPageData / 4
)

var (
	// ErrFrameTooLarge reports an encoded message over MaxMessageSize.
	ErrFrameTooLarge = errors.New("secproto: message exceeds frame bound")

	// ErrMalformed reports bytes that are not a valid protocol message.
	ErrMalformed = errors.New("secproto: malformed message")

	// ErrNotFound matches a BackendError whose status is one of the
	// not-found statuses.
	ErrNotFound = errors.New("secproto: not found")
)

// BackendError is an explicit failure status from the Security Core.
// It is data, not a transport problem: the request was delivered and
// answered.
type BackendError struct {
	Op      Opcode
	Status  Status
	Message string
}

func (e *BackendError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Status)
}

// Is makes errors.Is(err, ErrNotFound) true for the not-found statuses.
func (e *BackendError) Is(target error) bool {
	if target != ErrNotFound {
		return false
	}
	switch e.Status {
	case StatusKeyNotFound, StatusFileNotFound, StatusBundleNotFound:
		return true
	}
	return false
}

// StatusOf returns the protocol status carried by err: the
// BackendError's status, StatusSuccess for nil, and StatusUnknownError
// otherwise.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var backend *BackendError
	if errors.As(err, &backend) {
		return backend.Status
	}
	return StatusUnknownError
}

// Fail builds a BackendError.
func Fail(op Opcode, status Status, format string, args ...any) *BackendError {
	return &BackendError{Op: op, Status: status, Message: fmt.Sprintf(format, args...)}
}
