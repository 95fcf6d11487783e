// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import "fmt"

// IRQ names one of the mailbox interrupt lines.
type IRQ int

const (
	// IRQWriteSpace fires when the peer has drained outbox words.
	IRQWriteSpace IRQ = iota
	// IRQReadData fires while the inbox holds words.
	IRQReadData
	// IRQError fires when the link reports a read or write error.
	IRQError
)

func (irq IRQ) String() string {
	switch irq {
	case IRQWriteSpace:
		return "wtirq"
	case IRQReadData:
		return "rtirq"
	case IRQError:
		return "eirq"
	default:
		return fmt.Sprintf("irq(%d)", int(irq))
	}
}

// InterruptLine is one interrupt source. A notification arrives on C
// at most once per arming; the handler re-arms the line with Ack.
type InterruptLine interface {
	C() <-chan struct{}
	Ack()
	// Enable unmasks or masks the line.
	Enable(on bool)
}

// ErrorStatus is the link's error register.
type ErrorStatus struct {
	Read  bool
	Write bool
}

func (s ErrorStatus) String() string {
	return fmt.Sprintf("read=%t write=%t", s.Read, s.Write)
}

// Device is the host side of a mailbox link.
type Device interface {
	// TryWrite pushes one word to the outbox, reporting false if the
	// outbox is full.
	TryWrite(word uint32) bool

	// TryRead pops one word from the inbox, reporting false if the
	// inbox is empty.
	TryRead() (uint32, bool)

	// Line returns the given interrupt line.
	Line(irq IRQ) InterruptLine

	// ErrorStatus reads and clears the error register.
	ErrorStatus() ErrorStatus

	// Flush discards the contents of both FIFOs.
	Flush()
}
