// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mailbox

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultInlineLimit is the largest reply a Peer sends inline in the
// FIFO; longer replies are placed in memory and sent as long frames.
const DefaultInlineLimit = 256

// PeerHandler answers one request. Returning ok=false sends no reply.
type PeerHandler func(request Frame) (reply Frame, ok bool)

// Peer is the Security Core end of a SimDevice.
type Peer struct {
	Device *SimDevice

	// Memory receives long reply payloads. Without it every reply is
	// sent inline.
	Memory *SimMemory

	// InlineLimit is the inline reply threshold. Zero means
	// DefaultInlineLimit.
	InlineLimit int

	// LongBase is the physical address long payloads are written at.
	LongBase uint64
}

// ReadFrame reads one request frame from the host. If the host resets
// the link partway through, the partial frame is dropped and
// ErrLinkReset returned.
func (p *Peer) ReadFrame(ctx context.Context) (Frame, error) {
	header, err := p.Device.PeerRead(ctx)
	if err != nil {
		return Frame{}, err
	}
	length, opcode, sequence := ParseHeader(header)
	if opcode&FlagLong != 0 {
		return Frame{}, fmt.Errorf("mailbox: host sent long frame opcode %#02x", opcode)
	}
	payload := make([]byte, 0, wordCount(int(length))*WordSize)
	for range wordCount(int(length)) {
		word, err := p.Device.PeerRead(ctx)
		if err != nil {
			return Frame{}, err
		}
		payload = binary.LittleEndian.AppendUint32(payload, word)
	}
	return Frame{Opcode: opcode, Sequence: sequence, Payload: payload[:length]}, nil
}

// WriteFrame sends one reply frame to the host, as a long frame if the
// payload exceeds the inline limit and Memory is set.
func (p *Peer) WriteFrame(ctx context.Context, reply Frame) error {
	limit := p.InlineLimit
	if limit == 0 {
		limit = DefaultInlineLimit
	}
	if p.Memory == nil || len(reply.Payload) <= limit {
		words, err := AppendWords(nil, reply)
		if err != nil {
			return err
		}
		return p.writeWords(ctx, words)
	}

	if len(reply.Payload) > MaxFrameLength {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(reply.Payload))
	}
	if _, err := p.Memory.WriteAt(reply.Payload, int64(p.LongBase)); err != nil {
		return err
	}
	header := Header(uint16(len(reply.Payload)), reply.Opcode|FlagLong, reply.Sequence)
	return p.writeWords(ctx, []uint32{header, uint32(p.LongBase)})
}

func (p *Peer) writeWords(ctx context.Context, words []uint32) error {
	for _, word := range words {
		if err := p.Device.PeerWrite(ctx, word); err != nil {
			return err
		}
	}
	return nil
}

// Serve answers requests with handler until ctx ends. Replies echo the
// request's sequence number unless the handler sets its own. A host
// reset abandons the frame being read or the reply being written.
func (p *Peer) Serve(ctx context.Context, handler PeerHandler) error {
	for {
		request, err := p.ReadFrame(ctx)
		if errors.Is(err, ErrLinkReset) {
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		reply, ok := handler(request)
		if !ok {
			continue
		}
		if reply.Sequence == 0 {
			reply.Sequence = request.Sequence
		}
		if err := p.WriteFrame(ctx, reply); err != nil {
			if errors.Is(err, ErrLinkReset) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
