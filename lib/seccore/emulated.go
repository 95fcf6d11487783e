// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import "context"

// emulatedLink hands requests straight to the firmware.
type emulatedLink struct {
	firmware *Firmware
}

func (l *emulatedLink) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if answer, err := checkRequest(request); answer != nil || err != nil {
		return answer, err
	}
	return l.firmware.Handle(ctx, request), nil
}

func (l *emulatedLink) Close() error { return nil }
