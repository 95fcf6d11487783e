// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secproto

import "fmt"

// Request is one of the request records below.
type Request interface {
	Opcode() Opcode

	// Validate checks the fields against the protocol limits.
	Validate() error
}

// ListBuiltinsRequest asks for the names in the builtin archive.
type ListBuiltinsRequest struct {
	_ struct{} `cbor:",toarray"`
}

type ListBuiltinsResponse struct {
	_     struct{} `cbor:",toarray"`
	Names []string
}

// FindFileRequest resolves a builtin name to a file id and size.
type FindFileRequest struct {
	_    struct{} `cbor:",toarray"`
	Name string
}

type FindFileResponse struct {
	_    struct{} `cbor:",toarray"`
	FID  uint32
	Size uint32
}

// GetFilePageRequest reads up to Length bytes of a builtin starting at
// Offset. Length is at most MaxPageData.
type GetFilePageRequest struct {
	_      struct{} `cbor:",toarray"`
	FID    uint32
	Offset uint32
	Length uint32
}

// GetFilePageResponse carries the bytes read; fewer than requested at
// end of file.
type GetFilePageResponse struct {
	_    struct{} `cbor:",toarray"`
	Data []byte
}

// ReadKeyRequest reads one value from a bundle's key-value store.
type ReadKeyRequest struct {
	_      struct{} `cbor:",toarray"`
	Bundle string
	Key    string
}

type ReadKeyResponse struct {
	_     struct{} `cbor:",toarray"`
	Value []byte
}

// WriteKeyRequest stores one value, creating the bundle's store if
// needed.
type WriteKeyRequest struct {
	_      struct{} `cbor:",toarray"`
	Bundle string
	Key    string
	Value  []byte
}

// DeleteKeyRequest removes one value. Deleting an absent key succeeds.
type DeleteKeyRequest struct {
	_      struct{} `cbor:",toarray"`
	Bundle string
	Key    string
}

// DeleteBundleRequest removes a bundle's whole key-value store, as on
// uninstall.
type DeleteBundleRequest struct {
	_      struct{} `cbor:",toarray"`
	Bundle string
}

// GetMeasurementRequest asks for the digest of a builtin's contents.
type GetMeasurementRequest struct {
	_    struct{} `cbor:",toarray"`
	Name string
}

// GetMeasurementResponse is a BLAKE3-256 digest over the builtin's
// uncompressed bytes.
type GetMeasurementResponse struct {
	_      struct{} `cbor:",toarray"`
	Size   uint64
	Digest []byte
}

// TestRequest asks the Security Core to scribble Count words of a page
// and return it, exercising the long-reply path.
type TestRequest struct {
	_     struct{} `cbor:",toarray"`
	Count uint32
}

type TestResponse struct {
	_    struct{} `cbor:",toarray"`
	Data []byte
}

// GetPackagesRequest asks for every package name: registered bundles
// and builtins, sorted, without duplicates.
type GetPackagesRequest struct {
	_ struct{} `cbor:",toarray"`
}

type GetPackagesResponse struct {
	_     struct{} `cbor:",toarray"`
	Names []string
}

// SizeBufferRequest asks for the size of a registered bundle, found
// under its name or the name with an application or model suffix.
type SizeBufferRequest struct {
	_      struct{} `cbor:",toarray"`
	Bundle string
}

type SizeBufferResponse struct {
	_    struct{} `cbor:",toarray"`
	Size uint64
}

// LoadApplicationRequest loads an application bundle, registering it
// from the builtins under its name or its name with ".app" appended.
type LoadApplicationRequest struct {
	_      struct{} `cbor:",toarray"`
	Bundle string
}

// LoadModelRequest loads a model for a bundle. The model name must be
// given in full.
type LoadModelRequest struct {
	_      struct{} `cbor:",toarray"`
	Bundle string
	Model  string
}

// LoadResponse names the registry key a bundle or model loaded under
// and the builtin file holding its contents, read with GetFilePage.
type LoadResponse struct {
	_    struct{} `cbor:",toarray"`
	Key  string
	FID  uint32
	Size uint32
}

// InstallAppRequest installs an application under App, with ".app"
// appended if absent.
type InstallAppRequest struct {
	_   struct{} `cbor:",toarray"`
	App string
}

// InstallModelRequest installs a model for App under the exact name
// Model.
type InstallModelRequest struct {
	_     struct{} `cbor:",toarray"`
	App   string
	Model string
}

// Empty is the response record for operations with no result.
type Empty struct {
	_ struct{} `cbor:",toarray"`
}

func (ListBuiltinsRequest) Opcode() Opcode   { return OpListBuiltins }
func (FindFileRequest) Opcode() Opcode       { return OpFindFile }
func (GetFilePageRequest) Opcode() Opcode    { return OpGetFilePage }
func (ReadKeyRequest) Opcode() Opcode        { return OpReadKey }
func (WriteKeyRequest) Opcode() Opcode       { return OpWriteKey }
func (DeleteKeyRequest) Opcode() Opcode      { return OpDeleteKey }
func (DeleteBundleRequest) Opcode() Opcode   { return OpDeleteBundle }
func (GetMeasurementRequest) Opcode() Opcode { return OpGetMeasurement }
func (TestRequest) Opcode() Opcode           { return OpTest }

func (GetPackagesRequest) Opcode() Opcode     { return OpGetPackages }
func (SizeBufferRequest) Opcode() Opcode      { return OpSizeBuffer }
func (LoadApplicationRequest) Opcode() Opcode { return OpLoadApplication }
func (LoadModelRequest) Opcode() Opcode       { return OpLoadModel }
func (InstallAppRequest) Opcode() Opcode      { return OpInstallApp }
func (InstallModelRequest) Opcode() Opcode    { return OpInstallModel }

func (ListBuiltinsRequest) Validate() error { return nil }

func (r FindFileRequest) Validate() error {
	return checkName(OpFindFile, "name", r.Name)
}

func (r GetFilePageRequest) Validate() error {
	if r.Length == 0 || r.Length > MaxPageData {
		return Fail(OpGetFilePage, StatusPageInvalid, "length %d outside 1..%d", r.Length, MaxPageData)
	}
	return nil
}

func (r ReadKeyRequest) Validate() error {
	return checkBundleKey(OpReadKey, r.Bundle, r.Key)
}

func (r WriteKeyRequest) Validate() error {
	if err := checkBundleKey(OpWriteKey, r.Bundle, r.Key); err != nil {
		return err
	}
	if len(r.Value) > MaxValueSize {
		return Fail(OpWriteKey, StatusValueTooLarge, "value is %d bytes, limit %d", len(r.Value), MaxValueSize)
	}
	return nil
}

func (r DeleteKeyRequest) Validate() error {
	return checkBundleKey(OpDeleteKey, r.Bundle, r.Key)
}

func (r DeleteBundleRequest) Validate() error {
	return checkName(OpDeleteBundle, "bundle", r.Bundle)
}

func (r GetMeasurementRequest) Validate() error {
	return checkName(OpGetMeasurement, "name", r.Name)
}

func (r TestRequest) Validate() error {
	if r.Count > MaxTestWords {
		return Fail(OpTest, StatusPageInvalid, "count %d exceeds %d words", r.Count, MaxTestWords)
	}
	return nil
}

func (GetPackagesRequest) Validate() error { return nil }

func (r SizeBufferRequest) Validate() error {
	return checkName(OpSizeBuffer, "bundle", r.Bundle)
}

func (r LoadApplicationRequest) Validate() error {
	return checkName(OpLoadApplication, "bundle", r.Bundle)
}

func (r LoadModelRequest) Validate() error {
	if err := checkName(OpLoadModel, "bundle", r.Bundle); err != nil {
		return err
	}
	return checkName(OpLoadModel, "model", r.Model)
}

func (r InstallAppRequest) Validate() error {
	return checkName(OpInstallApp, "app", r.App)
}

func (r InstallModelRequest) Validate() error {
	if err := checkName(OpInstallModel, "app", r.App); err != nil {
		return err
	}
	return checkName(OpInstallModel, "model", r.Model)
}

func checkBundleKey(op Opcode, bundle, key string) error {
	if err := checkName(op, "bundle", bundle); err != nil {
		return err
	}
	return checkName(op, "key", key)
}

func checkName(op Opcode, field, value string) error {
	if value == "" {
		return Fail(op, StatusDeserializeFailed, "%s is empty", field)
	}
	if len(value) > MaxNameSize {
		return Fail(op, StatusValueTooLarge, "%s is %d bytes, limit %d", field, len(value), MaxNameSize)
	}
	return nil
}

// newRequest returns a zero request record for op.
func newRequest(op Opcode) (Request, error) {
	switch op {
	case OpListBuiltins:
		return &ListBuiltinsRequest{}, nil
	case OpFindFile:
		return &FindFileRequest{}, nil
	case OpGetFilePage:
		return &GetFilePageRequest{}, nil
	case OpReadKey:
		return &ReadKeyRequest{}, nil
	case OpWriteKey:
		return &WriteKeyRequest{}, nil
	case OpDeleteKey:
		return &DeleteKeyRequest{}, nil
	case OpDeleteBundle:
		return &DeleteBundleRequest{}, nil
	case OpGetMeasurement:
		return &GetMeasurementRequest{}, nil
	case OpTest:
		return &TestRequest{}, nil
	case OpGetPackages:
		return &GetPackagesRequest{}, nil
	case OpSizeBuffer:
		return &SizeBufferRequest{}, nil
	case OpLoadApplication:
		return &LoadApplicationRequest{}, nil
	case OpLoadModel:
		return &LoadModelRequest{}, nil
	case OpInstallApp:
		return &InstallAppRequest{}, nil
	case OpInstallModel:
		return &InstallModelRequest{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown opcode %#02x", ErrMalformed, uint8(op))
	}
}
