// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/bureau-foundation/seclink/lib/secproto"
)

// Exchanger carries one encoded request to a Security Core and returns
// its encoded response.
type Exchanger interface {
	Exchange(ctx context.Context, request []byte) ([]byte, error)
}

// Client is the typed protocol interface over an Exchanger. Failure
// statuses come back as *secproto.BackendError; anything else is a
// link or encoding problem.
type Client struct {
	exchanger Exchanger
}

// NewClient returns a typed client over exchanger.
func NewClient(exchanger Exchanger) *Client {
	return &Client{exchanger: exchanger}
}

// Exchange passes an encoded request through unchanged.
func (c *Client) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	return c.exchanger.Exchange(ctx, request)
}

// ListBuiltins returns the names in the builtin archive.
func (c *Client) ListBuiltins(ctx context.Context) ([]string, error) {
	var response secproto.ListBuiltinsResponse
	if err := c.Call(ctx, secproto.ListBuiltinsRequest{}, &response); err != nil {
		return nil, err
	}
	return response.Names, nil
}

// FindFile resolves a builtin name to its file id and size.
func (c *Client) FindFile(ctx context.Context, name string) (fid, size uint32, err error) {
	var response secproto.FindFileResponse
	if err := c.Call(ctx, secproto.FindFileRequest{Name: name}, &response); err != nil {
		return 0, 0, err
	}
	return response.FID, response.Size, nil
}

// GetFilePage reads up to length bytes of file fid at offset.
func (c *Client) GetFilePage(ctx context.Context, fid, offset, length uint32) ([]byte, error) {
	var response secproto.GetFilePageResponse
	request := secproto.GetFilePageRequest{FID: fid, Offset: offset, Length: length}
	if err := c.Call(ctx, request, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

func (c *Client) ReadKey(ctx context.Context, bundle, key string) ([]byte, error) {
	var response secproto.ReadKeyResponse
	if err := c.Call(ctx, secproto.ReadKeyRequest{Bundle: bundle, Key: key}, &response); err != nil {
		return nil, err
	}
	return response.Value, nil
}

func (c *Client) WriteKey(ctx context.Context, bundle, key string, value []byte) error {
	return c.Call(ctx, secproto.WriteKeyRequest{Bundle: bundle, Key: key, Value: value}, nil)
}

func (c *Client) DeleteKey(ctx context.Context, bundle, key string) error {
	return c.Call(ctx, secproto.DeleteKeyRequest{Bundle: bundle, Key: key}, nil)
}

func (c *Client) DeleteBundle(ctx context.Context, bundle string) error {
	return c.Call(ctx, secproto.DeleteBundleRequest{Bundle: bundle}, nil)
}

// GetMeasurement returns the size and BLAKE3-256 digest of a builtin.
func (c *Client) GetMeasurement(ctx context.Context, name string) (Measurement, error) {
	var response secproto.GetMeasurementResponse
	if err := c.Call(ctx, secproto.GetMeasurementRequest{Name: name}, &response); err != nil {
		return Measurement{}, err
	}
	if len(response.Digest) != DigestSize {
		return Measurement{}, fmt.Errorf("%w: digest is %d bytes", secproto.ErrMalformed, len(response.Digest))
	}
	measurement := Measurement{Size: response.Size}
	copy(measurement.Digest[:], response.Digest)
	return measurement, nil
}

// Test has the Security Core scribble count words of a page and
// checks the page that comes back. A wrong page is StatusTestFailed.
func (c *Client) Test(ctx context.Context, count uint32) error {
	var response secproto.TestResponse
	if err := c.Call(ctx, secproto.TestRequest{Count: count}, &response); err != nil {
		return err
	}
	if len(response.Data) != int(count)*4 {
		return secproto.Fail(secproto.OpTest, secproto.StatusTestFailed,
			"page is %d bytes, want %d", len(response.Data), count*4)
	}
	for index := range count {
		word := binary.LittleEndian.Uint32(response.Data[index*4:])
		if word != testPattern|index {
			return secproto.Fail(secproto.OpTest, secproto.StatusTestFailed,
				"word %d is %#08x, want %#08x", index, word, testPattern|index)
		}
	}
	return nil
}

// Call validates and encodes request, exchanges it, and decodes the
// response into result, a pointer to the opcode's response record or
// nil.
func (c *Client) Call(ctx context.Context, request secproto.Request, result any) error {
	if err := request.Validate(); err != nil {
		return err
	}
	encoded, err := secproto.Encode(request)
	if err != nil {
		return err
	}
	response, err := c.exchanger.Exchange(ctx, encoded)
	if err != nil {
		return fmt.Errorf("%s: %w", request.Opcode(), err)
	}
	return secproto.DecodeResponse(request.Opcode(), response, result)
}
