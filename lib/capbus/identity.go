// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capbus

import "fmt"

// Identity is the unforgeable name of one attached client. It is
// minted by [Server.Connect] and reaches handlers only through
// [Server.Accept]; clients never construct or present one. Identities
// are comparable and may be used as map keys. Badges are never reused
// within a process.
type Identity struct {
	badge uint64
}

// IsZero reports whether the identity is the zero value, which no
// attached client ever has.
func (id Identity) IsZero() bool { return id.badge == 0 }

// String returns a stable, log-friendly form of the identity.
func (id Identity) String() string {
	return fmt.Sprintf("badge:%d", id.badge)
}
