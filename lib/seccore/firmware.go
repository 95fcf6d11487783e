// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/seclink/lib/codec"
	"github.com/bureau-foundation/seclink/lib/secproto"
)

// testPattern is the word the Security Core writes at index i of a
// Test page: testPattern | i.
const testPattern = 0x5ca1_0000

// Firmware is the Security Core's request handler: it decodes a
// protocol request, serves it from the builtin archive or the key
// store, and encodes the response. Every backend routes requests
// through a Firmware.
type Firmware struct {
	archive *Archive
	store   KeyStore
	logger  *slog.Logger
}

// NewFirmware returns a handler over archive and store. A nil archive
// serves no builtins. A nil store fails every key-value request with
// UnknownError.
func NewFirmware(archive *Archive, store KeyStore, logger *slog.Logger) *Firmware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Firmware{archive: archive, store: store, logger: logger}
}

// Handle answers one encoded request with one encoded response. It
// never fails: every problem becomes a response status.
func (f *Firmware) Handle(ctx context.Context, request []byte) []byte {
	decoded, err := secproto.Decode(request)
	if err != nil {
		if f.logger.Enabled(ctx, slog.LevelDebug) {
			diagnostic, _ := codec.Diagnose(request[min(len(request), 1):])
			f.logger.Debug("undecodable request", "size", len(request), "body", diagnostic, "error", err)
		}
		return deserializeFailed(err)
	}
	op := decoded.Opcode()
	if err := decoded.Validate(); err != nil {
		return secproto.EncodeError(err)
	}

	body, err := f.serve(ctx, decoded)
	if err != nil {
		f.logger.Debug("request failed", "opcode", op.String(), "status", secproto.StatusOf(err).String(), "error", err)
		return secproto.EncodeError(err)
	}
	response, err := secproto.EncodeResponse(op, body)
	if err != nil {
		f.logger.Warn("encoding response", "opcode", op.String(), "error", err)
		return secproto.EncodeError(secproto.Fail(op, secproto.StatusSerializeFailed, "%v", err))
	}
	return response
}

func (f *Firmware) serve(ctx context.Context, request secproto.Request) (any, error) {
	switch request := request.(type) {
	case *secproto.ListBuiltinsRequest:
		response := secproto.ListBuiltinsResponse{Names: []string{}}
		if f.archive != nil {
			response.Names = f.archive.Names()
		}
		return response, nil

	case *secproto.FindFileRequest:
		if f.archive != nil {
			if fid, size, ok := f.archive.Lookup(request.Name); ok {
				return secproto.FindFileResponse{FID: fid, Size: size}, nil
			}
		}
		return nil, secproto.Fail(secproto.OpFindFile, secproto.StatusFileNotFound, "builtin %q", request.Name)

	case *secproto.GetFilePageRequest:
		return f.getFilePage(request)

	case *secproto.GetMeasurementRequest:
		return f.getMeasurement(request)

	case *secproto.ReadKeyRequest:
		if err := f.requireStore(secproto.OpReadKey); err != nil {
			return nil, err
		}
		value, err := f.store.ReadKey(ctx, request.Bundle, request.Key)
		if err != nil {
			return nil, storeFailure(secproto.OpReadKey, err)
		}
		return secproto.ReadKeyResponse{Value: value}, nil

	case *secproto.WriteKeyRequest:
		if err := f.requireStore(secproto.OpWriteKey); err != nil {
			return nil, err
		}
		if err := f.store.WriteKey(ctx, request.Bundle, request.Key, request.Value); err != nil {
			return nil, storeFailure(secproto.OpWriteKey, err)
		}
		return secproto.Empty{}, nil

	case *secproto.DeleteKeyRequest:
		if err := f.requireStore(secproto.OpDeleteKey); err != nil {
			return nil, err
		}
		if err := f.store.DeleteKey(ctx, request.Bundle, request.Key); err != nil {
			return nil, storeFailure(secproto.OpDeleteKey, err)
		}
		return secproto.Empty{}, nil

	case *secproto.DeleteBundleRequest:
		if err := f.requireStore(secproto.OpDeleteBundle); err != nil {
			return nil, err
		}
		if err := f.store.DeleteBundle(ctx, request.Bundle); err != nil {
			return nil, storeFailure(secproto.OpDeleteBundle, err)
		}
		return secproto.Empty{}, nil

	case *secproto.TestRequest:
		data := make([]byte, 0, int(request.Count)*4)
		for index := range request.Count {
			data = binary.LittleEndian.AppendUint32(data, testPattern|index)
		}
		return secproto.TestResponse{Data: data}, nil
	}
	return nil, secproto.Fail(request.Opcode(), secproto.StatusUnknownError, "no handler")
}

func (f *Firmware) getFilePage(request *secproto.GetFilePageRequest) (any, error) {
	if f.archive == nil {
		return nil, secproto.Fail(secproto.OpGetFilePage, secproto.StatusFileNotFound, "file %d", request.FID)
	}
	contents, found, err := f.archive.Contents(request.FID)
	if !found {
		return nil, secproto.Fail(secproto.OpGetFilePage, secproto.StatusFileNotFound, "file %d", request.FID)
	}
	if err != nil {
		return nil, secproto.Fail(secproto.OpGetFilePage, secproto.StatusUnknownError, "%v", err)
	}
	size := uint64(len(contents))
	offset := uint64(request.Offset)
	if offset > size {
		return nil, secproto.Fail(secproto.OpGetFilePage, secproto.StatusFileOffsetInvalid,
			"offset %d past end of %d-byte file", offset, size)
	}
	end := min(offset+uint64(request.Length), size)
	return secproto.GetFilePageResponse{Data: contents[offset:end]}, nil
}

func (f *Firmware) getMeasurement(request *secproto.GetMeasurementRequest) (any, error) {
	if f.archive == nil {
		return nil, secproto.Fail(secproto.OpGetMeasurement, secproto.StatusFileNotFound, "builtin %q", request.Name)
	}
	measurement, found, err := f.archive.Measurement(request.Name)
	if !found {
		return nil, secproto.Fail(secproto.OpGetMeasurement, secproto.StatusFileNotFound, "builtin %q", request.Name)
	}
	if err != nil {
		return nil, secproto.Fail(secproto.OpGetMeasurement, secproto.StatusUnknownError, "%v", err)
	}
	return secproto.GetMeasurementResponse{Size: measurement.Size, Digest: measurement.Digest[:]}, nil
}

func (f *Firmware) requireStore(op secproto.Opcode) error {
	if f.store == nil {
		return secproto.Fail(op, secproto.StatusUnknownError, "no key store")
	}
	return nil
}

// storeFailure keeps a store's status and reports anything else as
// UnknownError.
func storeFailure(op secproto.Opcode, err error) error {
	var backend *secproto.BackendError
	if errors.As(err, &backend) {
		return backend
	}
	return fmt.Errorf("%s: %w", op, err)
}
