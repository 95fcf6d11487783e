// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/seclink/lib/mailbox"
	"github.com/bureau-foundation/seclink/lib/region"
	"github.com/bureau-foundation/seclink/lib/secproto"
)

// Simulated Security Core memory: long replies are written one page in,
// so a full-size response spans the page boundary only if it is larger
// than a page.
const (
	hardwareLongBase   = region.PageSize
	hardwareMemorySize = 2*region.PageSize + secproto.MaxMessageSize
)

// hardwareLink exchanges requests over the mailbox transport. The
// Security Core end is a simulated device whose peer runs the firmware.
type hardwareLink struct {
	transport *mailbox.Transport
	stopPeer  context.CancelFunc
	peerDone  chan struct{}
}

func openHardware(ctx context.Context, cfg Config, firmware *Firmware, logger *slog.Logger) (*hardwareLink, error) {
	device := mailbox.NewSimDevice(cfg.FIFODepth)
	memory := mailbox.NewSimMemory(hardwareMemorySize)

	mailboxConfig := cfg.Mailbox
	if mailboxConfig.Logger == nil {
		mailboxConfig.Logger = logger
	}
	if mailboxConfig.MaxPayload != 0 && mailboxConfig.MaxPayload < secproto.MaxMessageSize {
		return nil, fmt.Errorf("mailbox MaxPayload %d is below the protocol message bound %d",
			mailboxConfig.MaxPayload, secproto.MaxMessageSize)
	}
	transport, err := mailbox.New(device, memory, mailboxConfig)
	if err != nil {
		return nil, err
	}

	// The link outlives the context it was opened under.
	runContext, stop := context.WithCancel(context.WithoutCancel(ctx))
	transport.Start(runContext)

	peer := &mailbox.Peer{
		Device:      device,
		Memory:      memory,
		InlineLimit: cfg.InlineLimit,
		LongBase:    hardwareLongBase,
	}
	link := &hardwareLink{transport: transport, stopPeer: stop, peerDone: make(chan struct{})}
	go func() {
		defer close(link.peerDone)
		err := peer.Serve(runContext, func(request mailbox.Frame) (mailbox.Frame, bool) {
			encoded := make([]byte, 0, 1+len(request.Payload))
			encoded = append(encoded, request.Opcode)
			encoded = append(encoded, request.Payload...)
			return mailbox.Frame{Opcode: request.Opcode, Payload: firmware.Handle(runContext, encoded)}, true
		})
		if err != nil {
			logger.Error("security core peer stopped", "error", err)
		}
	}()
	return link, nil
}

func (l *hardwareLink) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if answer, err := checkRequest(request); answer != nil || err != nil {
		return answer, err
	}
	reply, err := l.transport.Call(ctx, mailbox.Frame{Opcode: request[0], Payload: request[1:]})
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}

func (l *hardwareLink) Close() error {
	err := l.transport.Close()
	l.stopPeer()
	<-l.peerDone
	return err
}
