// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccoord

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/seclink/lib/capbus"
	"github.com/bureau-foundation/seclink/lib/seccore"
	"github.com/bureau-foundation/seclink/lib/secproto"
)

// Caller is a bus client that knows its shared window size:
// *capbus.Client or *capbus.SocketClient.
type Caller interface {
	capbus.Caller
	WindowSize() int
}

// Client calls the coordinator. Backend failures are
// *secproto.BackendError; bus failures are the capbus errors.
type Client struct {
	*seccore.Client
	caller Caller
}

// NewClient wraps caller. The Client owns it and closes it on Close.
func NewClient(caller Caller) *Client {
	return &Client{Client: seccore.NewClient(busExchanger{caller}), caller: caller}
}

// FetchBuiltin reads a whole builtin, in pages sized so each reply
// fits the shared window.
func (c *Client) FetchBuiltin(ctx context.Context, name string) ([]byte, error) {
	return seccore.FetchBuiltin(ctx, c, name, secproto.MaxPageChunk(c.caller.WindowSize()))
}

// GetPackages returns every package name the coordinator knows:
// loaded bundles and builtins, sorted.
func (c *Client) GetPackages(ctx context.Context) ([]string, error) {
	var response secproto.GetPackagesResponse
	if err := c.Call(ctx, secproto.GetPackagesRequest{}, &response); err != nil {
		return nil, err
	}
	return response.Names, nil
}

// SizeBuffer returns the size of a loaded bundle.
func (c *Client) SizeBuffer(ctx context.Context, bundle string) (uint64, error) {
	var response secproto.SizeBufferResponse
	if err := c.Call(ctx, secproto.SizeBufferRequest{Bundle: bundle}, &response); err != nil {
		return 0, err
	}
	return response.Size, nil
}

// Loaded is a package a load resolved: the key it is registered
// under and the builtin file that holds it.
type Loaded struct {
	Key  string
	FID  uint32
	Size uint32
}

// LoadApplication loads an application bundle, by name or by name with
// ".app" appended.
func (c *Client) LoadApplication(ctx context.Context, bundle string) (Loaded, error) {
	return c.load(ctx, secproto.LoadApplicationRequest{Bundle: bundle})
}

// LoadModel loads a model for bundle. model is the full name.
func (c *Client) LoadModel(ctx context.Context, bundle, model string) (Loaded, error) {
	return c.load(ctx, secproto.LoadModelRequest{Bundle: bundle, Model: model})
}

func (c *Client) load(ctx context.Context, request secproto.Request) (Loaded, error) {
	var response secproto.LoadResponse
	if err := c.Call(ctx, request, &response); err != nil {
		return Loaded{}, err
	}
	return Loaded{Key: response.Key, FID: response.FID, Size: response.Size}, nil
}

// ReadLoaded reads a loaded package's contents, in pages sized to the
// shared window.
func (c *Client) ReadLoaded(ctx context.Context, loaded Loaded) ([]byte, error) {
	contents, err := seccore.FetchFile(ctx, c, loaded.FID, loaded.Size, secproto.MaxPageChunk(c.caller.WindowSize()))
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", loaded.Key, err)
	}
	return contents, nil
}

// InstallApp installs an application. Packages come only from the
// builtin archive, so this fails with DeleteFirst when the
// application is loaded and InstallFailed otherwise.
func (c *Client) InstallApp(ctx context.Context, app string) error {
	return c.Call(ctx, secproto.InstallAppRequest{App: app}, nil)
}

// InstallModel installs a model for app, failing as InstallApp does.
func (c *Client) InstallModel(ctx context.Context, app, model string) error {
	return c.Call(ctx, secproto.InstallModelRequest{App: app, Model: model}, nil)
}

// Close detaches from the bus.
func (c *Client) Close() error {
	return c.caller.Close()
}

type busExchanger struct {
	caller capbus.Caller
}

func (b busExchanger) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	return b.caller.Call(ctx, request)
}
