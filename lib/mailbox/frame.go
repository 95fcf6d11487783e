// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import (
	"encoding/binary"
	"fmt"
)

// WordSize is the width of one FIFO entry in bytes.
const WordSize = 4

// FlagLong marks a frame whose payload is not inline in the FIFO but
// sits in Security Core memory at the physical address carried in the
// word after the header.
const FlagLong = 0x80

// MaxFrameLength is the largest length a header can express.
const MaxFrameLength = 0xFFFF

// Frame is one message on the link. On the wire the header is a single
// word:
//
//	bits 31..16  length   payload length in bytes
//	bits 15..8   opcode   request tag; bit 7 is FlagLong
//	bits  7..0   sequence correlation id echoed by the reply
//
// An inline payload follows as ceil(length/4) little-endian words, the
// last one zero-padded.
//
// A reply echoes both the opcode and the sequence of its request, and
// the host accepts only a reply matching both. The sequence skips zero
// and wraps after 255 calls, so a reply abandoned by a cancelled call
// and held back by the peer for 255 further calls is indistinguishable
// from the current one if the opcodes also agree. The link does not
// guard against that; a peer answers in order or not at all.
type Frame struct {
	Opcode   uint8
	Sequence uint8
	Payload  []byte
}

// Header packs a frame header word.
func Header(length uint16, opcode, sequence uint8) uint32 {
	return uint32(length)<<16 | uint32(opcode)<<8 | uint32(sequence)
}

// ParseHeader unpacks a frame header word.
func ParseHeader(word uint32) (length uint16, opcode, sequence uint8) {
	return uint16(word >> 16), uint8(word >> 8), uint8(word)
}

// wordCount returns the number of FIFO words an inline payload of
// length bytes occupies.
func wordCount(length int) int {
	return (length + WordSize - 1) / WordSize
}

// AppendWords appends the inline wire form of f (header plus payload
// words) to words. The opcode must not carry FlagLong.
func AppendWords(words []uint32, f Frame) ([]uint32, error) {
	if f.Opcode&FlagLong != 0 {
		return words, fmt.Errorf("mailbox: opcode %#02x uses the long-frame flag", f.Opcode)
	}
	if len(f.Payload) > MaxFrameLength {
		return words, fmt.Errorf("%w: %d bytes, header limit %d", ErrFrameTooLarge, len(f.Payload), MaxFrameLength)
	}
	words = append(words, Header(uint16(len(f.Payload)), f.Opcode, f.Sequence))

	var padded [WordSize]byte
	for offset := 0; offset < len(f.Payload); offset += WordSize {
		chunk := f.Payload[offset:min(offset+WordSize, len(f.Payload))]
		clear(padded[:])
		copy(padded[:], chunk)
		words = append(words, binary.LittleEndian.Uint32(padded[:]))
	}
	return words, nil
}

// assembler rebuilds frames from a stream of inbox words. Frames can
// straddle read-data interrupts, so its state persists between drains.
type assembler struct {
	maxPayload int

	inFrame   bool
	long      bool
	needAddr  bool
	oversize  bool
	length    int
	opcode    uint8
	sequence  uint8
	remaining int
	payload   []byte
}

// pending is one decoded frame awaiting the caller, or the reason it
// could not be received.
type pending struct {
	frame   Frame
	long    bool
	address uint64
	err     error
}

// push consumes one word. It returns a completed frame when the word
// finishes one.
func (a *assembler) push(word uint32) (pending, bool) {
	if !a.inFrame {
		length, opcode, sequence := ParseHeader(word)
		a.inFrame = true
		a.length = int(length)
		a.opcode = opcode &^ FlagLong
		a.long = opcode&FlagLong != 0
		a.sequence = sequence
		a.needAddr = a.long
		// Checked before any payload byte is stored.
		a.oversize = a.length > a.maxPayload
		a.payload = nil
		if a.long {
			a.remaining = 0
		} else {
			a.remaining = wordCount(a.length)
			if !a.oversize {
				a.payload = make([]byte, 0, a.remaining*WordSize)
			}
		}
		return a.finishIfComplete(0)
	}

	if a.needAddr {
		a.needAddr = false
		return a.finishIfComplete(uint64(word))
	}

	a.remaining--
	if !a.oversize {
		a.payload = binary.LittleEndian.AppendUint32(a.payload, word)
	}
	return a.finishIfComplete(0)
}

func (a *assembler) finishIfComplete(address uint64) (pending, bool) {
	if a.needAddr || a.remaining > 0 {
		return pending{}, false
	}
	a.inFrame = false

	result := pending{
		frame: Frame{Opcode: a.opcode, Sequence: a.sequence},
		long:  a.long,
	}
	if a.oversize {
		result.err = fmt.Errorf("%w: reply declares %d bytes, buffer is %d", ErrFrameTooLarge, a.length, a.maxPayload)
		return result, true
	}
	if a.long {
		result.address = address
		result.frame.Payload = make([]byte, a.length)
		return result, true
	}
	result.frame.Payload = a.payload[:a.length]
	a.payload = nil
	return result, true
}

// reset discards any partially assembled frame.
func (a *assembler) reset() {
	*a = assembler{maxPayload: a.maxPayload}
}
