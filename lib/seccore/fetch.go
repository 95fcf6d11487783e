// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/seclink/lib/secproto"
)

// FileReader is the part of the protocol FetchBuiltin needs.
type FileReader interface {
	FindFile(ctx context.Context, name string) (fid, size uint32, err error)
	GetFilePage(ctx context.Context, fid, offset, length uint32) ([]byte, error)
}

// FetchBuiltin reads a whole builtin in chunks of at most chunk bytes.
// chunk <= 0 or above secproto.MaxPageData means MaxPageData.
func FetchBuiltin(ctx context.Context, files FileReader, name string, chunk int) ([]byte, error) {
	fid, size, err := files.FindFile(ctx, name)
	if err != nil {
		return nil, err
	}
	contents, err := FetchFile(ctx, files, fid, size, chunk)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", name, err)
	}
	return contents, nil
}

// FetchFile reads size bytes of file fid, as resolved by FindFile or a
// package load, in chunks of at most chunk bytes.
func FetchFile(ctx context.Context, files FileReader, fid, size uint32, chunk int) ([]byte, error) {
	if chunk <= 0 || chunk > secproto.MaxPageData {
		chunk = secproto.MaxPageData
	}
	contents := make([]byte, 0, size)
	for uint32(len(contents)) < size {
		length := min(uint32(chunk), size-uint32(len(contents)))
		page, err := files.GetFilePage(ctx, fid, uint32(len(contents)), length)
		if err != nil {
			return nil, fmt.Errorf("file %d at offset %d: %w", fid, len(contents), err)
		}
		if len(page) == 0 || len(page) > int(length) {
			return nil, fmt.Errorf("%w: file %d page at offset %d is %d bytes, asked for %d",
				secproto.ErrMalformed, fid, len(contents), len(page), length)
		}
		contents = append(contents, page...)
	}
	return contents, nil
}
