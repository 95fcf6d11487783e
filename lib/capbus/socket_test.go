// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package capbus_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/seclink/lib/capbus"
	"github.com/bureau-foundation/seclink/lib/codec"
	"github.com/bureau-foundation/seclink/lib/testutil"
)

// listen starts a socket bridge for server and waits for the socket
// file to appear.
func listen(t *testing.T, server *capbus.Server) string {
	t.Helper()
	path := filepath.Join(testutil.SocketDir(t), "bus.sock")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- capbus.ListenSocket(ctx, capbus.SocketConfig{
			Path:   path,
			Server: server,
			Authenticate: func(token []byte) (string, error) {
				label, ok := strings.CutPrefix(string(token), "token-for-")
				if !ok {
					return "", errors.New("unrecognized token")
				}
				return label, nil
			},
		})
	}()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 5*time.Second, "ListenSocket return"); err != nil {
			t.Errorf("ListenSocket: %v", err)
		}
	})

	ready := make(chan struct{})
	go func() {
		defer close(ready)
		for {
			if _, err := os.Stat(path); err == nil {
				return
			}
			if ctx.Err() != nil {
				return
			}
			time.Sleep(time.Millisecond) //nolint:realclock polling for socket file
		}
	}()
	testutil.RequireClosed(t, ready, 5*time.Second, "socket file")
	return path
}

func dial(t *testing.T, path, token string) *capbus.SocketClient {
	t.Helper()
	client, err := capbus.DialSocket(context.Background(), path, []byte(token))
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSocketRoundTrip(t *testing.T) {
	server := newServer(t, 4)
	serve(t, server)
	path := listen(t, server)

	client := dial(t, path, "token-for-app1")
	if client.WindowSize() != 4096 {
		t.Errorf("WindowSize = %d, want 4096", client.WindowSize())
	}

	request := []byte{opEcho, 'h', 'i'}
	response, err := client.Call(context.Background(), request)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !bytes.Equal(response, request) {
		t.Errorf("response = %q, want %q", response, request)
	}

	who, err := client.Call(context.Background(), []byte{opWho})
	if err != nil {
		t.Fatalf("Call who: %v", err)
	}
	if !strings.HasPrefix(string(who), "app1|") {
		t.Errorf("label over socket = %q, want app1 prefix", who)
	}
}

func TestSocketEachConnectionIsOneIdentity(t *testing.T) {
	server := newServer(t, 4)
	serve(t, server)
	path := listen(t, server)

	first := dial(t, path, "token-for-app1")
	second := dial(t, path, "token-for-app1")
	if first.Identity() == second.Identity() {
		t.Fatalf("two connections share identity %s", first.Identity())
	}
}

func TestSocketRefusesBadToken(t *testing.T) {
	server := newServer(t, 4)
	serve(t, server)
	path := listen(t, server)

	_, err := capbus.DialSocket(context.Background(), path, []byte("forged"))
	if err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("DialSocket with bad token: got %v, want refusal", err)
	}
}

func TestSocketPreservesErrorKinds(t *testing.T) {
	server := newServer(t, 4)
	serve(t, server)
	path := listen(t, server)
	client := dial(t, path, "token-for-app2")

	_, err := client.Call(context.Background(), []byte{opFail})
	var remote *capbus.RemoteError
	if !errors.As(err, &remote) || remote.Message != "key not found" {
		t.Fatalf("opFail: got %v, want RemoteError(key not found)", err)
	}

	_, err = client.Call(context.Background(), []byte{opBig})
	if !errors.Is(err, capbus.ErrFrameTooLarge) {
		t.Fatalf("opBig: got %v, want ErrFrameTooLarge", err)
	}

	_, err = client.Call(context.Background(), make([]byte, client.WindowSize()+1))
	if !errors.Is(err, capbus.ErrFrameTooLarge) {
		t.Fatalf("oversize request: got %v, want ErrFrameTooLarge", err)
	}

	if _, err := client.Call(context.Background(), []byte{opEcho}); err != nil {
		t.Fatalf("Call after errors: %v", err)
	}
}

// An envelope declaring a payload far larger than the window is refused
// once the bridge has read past the window, not after buffering it.
func TestSocketRefusesEnvelopeBeyondWindow(t *testing.T) {
	server := newServer(t, 4)
	serve(t, server)
	path := listen(t, server)

	conn, err := net.Dial("unix", path)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:realclock bounds a hung bridge

	type wireResponse struct {
		OK   bool   `cbor:"ok"`
		Code string `cbor:"code"`
	}
	encoder := codec.NewEncoder(conn)
	decoder := codec.NewDecoder(conn)
	if err := encoder.Encode(map[string][]byte{"token": []byte("token-for-app1")}); err != nil {
		t.Fatalf("writing attach: %v", err)
	}
	var attached wireResponse
	if err := decoder.Decode(&attached); err != nil || !attached.OK {
		t.Fatalf("attach: ok=%v err=%v", attached.OK, err)
	}

	// {"payload": h'...'} with a 1 GiB length, followed by more filler
	// than the window allows.
	envelope := append([]byte{0xA1, 0x67}, "payload"...)
	envelope = append(envelope, 0x5A)
	envelope = binary.BigEndian.AppendUint32(envelope, 1<<30)
	envelope = append(envelope, make([]byte, 2*4096)...)
	if _, err := conn.Write(envelope); err != nil {
		t.Fatalf("writing envelope: %v", err)
	}

	var refused wireResponse
	if err := decoder.Decode(&refused); err != nil {
		t.Fatalf("reading refusal: %v", err)
	}
	if refused.OK || refused.Code != "frame_too_large" {
		t.Fatalf("response = %+v, want frame_too_large", refused)
	}
	// The bridge closes with filler unread, so a reset is as good as EOF.
	if err := decoder.Decode(&refused); !capbus.IsClosed(err) {
		t.Fatalf("after refusal: got %v, want the connection closed", err)
	}
}

func TestSocketServerCloseIsChannelClosed(t *testing.T) {
	server := newServer(t, 4)
	serve(t, server)
	path := listen(t, server)
	client := dial(t, path, "token-for-app1")

	server.Close()
	_, err := client.Call(context.Background(), []byte{opEcho})
	if !errors.Is(err, capbus.ErrChannelClosed) {
		t.Fatalf("Call after server close: got %v, want ErrChannelClosed", err)
	}
}
