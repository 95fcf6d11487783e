// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import (
	"fmt"
	"io"

	"github.com/bureau-foundation/seclink/lib/region"
)

// copyWindow is the transport's page-sized staging buffer for moving
// long payloads out of Security Core memory. It holds at most one
// physical page of data, and only while that page is being copied.
type copyWindow struct {
	page   *region.Locked
	mapped bool
	staged int64
}

func newCopyWindow() (*copyWindow, error) {
	page, err := region.NewLocked(region.PageSize)
	if err != nil {
		return nil, fmt.Errorf("mailbox: allocating copy window: %w", err)
	}
	return &copyWindow{page: page}, nil
}

// stage copies len(destination) bytes starting at physical address
// address of source into destination, one physical page at a time.
func (w *copyWindow) stage(destination []byte, source io.ReaderAt, address uint64) error {
	copied := 0
	for copied < len(destination) {
		current := address + uint64(copied)
		// Never let one mapping span a page boundary.
		span := region.PageSize - int(current%region.PageSize)
		span = min(span, len(destination)-copied)

		view := w.mapAt(span)
		_, err := source.ReadAt(view, int64(current))
		if err == nil {
			copy(destination[copied:], view)
		}
		w.unmap()
		if err != nil {
			return fmt.Errorf("mailbox: staging %d bytes at %#x: %w", span, current, err)
		}
		copied += span
		w.staged += int64(span)
	}
	return nil
}

func (w *copyWindow) mapAt(span int) []byte {
	if w.mapped {
		panic("mailbox: copy window mapped twice")
	}
	w.mapped = true
	return w.page.Bytes()[:span]
}

func (w *copyWindow) unmap() {
	clear(w.page.Bytes())
	w.mapped = false
}

func (w *copyWindow) close() error {
	return w.page.Close()
}
