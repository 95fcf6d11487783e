// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package seccoord

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/seclink/lib/seccore"
	"github.com/bureau-foundation/seclink/lib/secproto"
)

// Package name suffixes, in the order a bare name is tried.
const (
	appSuffix    = ".app"
	kelvinSuffix = ".kelvin"
	modelSuffix  = ".model"
)

// bundle is a registered package: a builtin file promoted into the
// registry by a load.
type bundle struct {
	fid  uint32
	size uint32
}

// registry holds the bundles loaded since the coordinator started.
type registry struct {
	mu      sync.Mutex
	bundles map[string]bundle
}

func newRegistry() *registry {
	return &registry{bundles: make(map[string]bundle)}
}

// find returns the key name is registered under: name itself, or name
// with the application, kelvin or model suffix.
func (r *registry) find(name string) (string, bundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range []string{name, name + appSuffix, name + kelvinSuffix, name + modelSuffix} {
		if entry, ok := r.bundles[key]; ok {
			return key, entry, true
		}
	}
	return "", bundle{}, false
}

func (r *registry) lookup(key string) (bundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.bundles[key]
	return entry, ok
}

// add registers key unless it already is, and returns the entry that
// is registered.
func (r *registry) add(key string, entry bundle) bundle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.bundles[key]; ok {
		return existing
	}
	r.bundles[key] = entry
	return entry
}

// remove drops the entry name finds, if any.
func (r *registry) remove(name string) {
	key, _, ok := r.find(name)
	if !ok {
		return
	}
	r.mu.Lock()
	delete(r.bundles, key)
	r.mu.Unlock()
}

func (r *registry) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.bundles))
	for key := range r.bundles {
		keys = append(keys, key)
	}
	return keys
}

// promoteKey returns name if it already ends in one of suffixes, and
// name with the first suffix appended otherwise.
func promoteKey(name string, suffixes ...string) string {
	for _, suffix := range suffixes {
		if strings.HasSuffix(name, suffix) {
			return name
		}
	}
	return name + suffixes[0]
}

// packages answers the package operations. builtins reaches the
// Security Core for the archive.
type packages struct {
	registry *registry
	builtins *seccore.Client
}

func (p *packages) serve(ctx context.Context, request secproto.Request) (any, error) {
	switch request := request.(type) {
	case *secproto.GetPackagesRequest:
		builtins, err := p.builtins.ListBuiltins(ctx)
		if err != nil {
			return nil, err
		}
		names := append(p.registry.keys(), builtins...)
		slices.Sort(names)
		return secproto.GetPackagesResponse{Names: slices.Compact(names)}, nil

	case *secproto.SizeBufferRequest:
		_, entry, ok := p.registry.find(request.Bundle)
		if !ok {
			return nil, secproto.Fail(secproto.OpSizeBuffer, secproto.StatusBundleNotFound, "bundle %q is not loaded", request.Bundle)
		}
		return secproto.SizeBufferResponse{Size: uint64(entry.size)}, nil

	case *secproto.LoadApplicationRequest:
		return p.loadApplication(ctx, request.Bundle)

	case *secproto.LoadModelRequest:
		return p.loadModel(ctx, request.Model)

	case *secproto.InstallAppRequest:
		return nil, p.install(secproto.OpInstallApp, promoteKey(request.App, appSuffix))

	case *secproto.InstallModelRequest:
		return nil, p.install(secproto.OpInstallModel, request.Model)
	}
	return nil, secproto.Fail(request.Opcode(), secproto.StatusUnknownError, "not a package operation")
}

// loadApplication registers an application from the builtins, trying
// the name as given and then with ".app" appended.
func (p *packages) loadApplication(ctx context.Context, name string) (any, error) {
	keys := []string{name}
	if promoted := promoteKey(name, appSuffix); promoted != name && len(promoted) <= secproto.MaxNameSize {
		keys = append(keys, promoted)
	}
	for _, key := range keys {
		if entry, ok := p.registry.lookup(key); ok {
			return loaded(key, entry), nil
		}
		entry, err := p.findBuiltin(ctx, key)
		if errors.Is(err, secproto.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return loaded(key, p.registry.add(key, entry)), nil
	}
	return nil, secproto.Fail(secproto.OpLoadApplication, secproto.StatusBundleNotFound, "no application %q", name)
}

// loadModel serves a registered model or a builtin of exactly that
// name. A builtin model is not registered.
func (p *packages) loadModel(ctx context.Context, model string) (any, error) {
	if entry, ok := p.registry.lookup(model); ok {
		return loaded(model, entry), nil
	}
	entry, err := p.findBuiltin(ctx, model)
	if errors.Is(err, secproto.ErrNotFound) {
		return nil, secproto.Fail(secproto.OpLoadModel, secproto.StatusBundleNotFound, "no model %q", model)
	}
	if err != nil {
		return nil, err
	}
	return loaded(model, entry), nil
}

// install refuses a key that is already registered. Packages arrive
// only through the builtin archive, so any other install fails.
func (p *packages) install(op secproto.Opcode, key string) error {
	if _, ok := p.registry.lookup(key); ok {
		return secproto.Fail(op, secproto.StatusDeleteFirst, "%q is installed", key)
	}
	return secproto.Fail(op, secproto.StatusInstallFailed, "dynamic install of %q is not supported", key)
}

func (p *packages) findBuiltin(ctx context.Context, name string) (bundle, error) {
	fid, size, err := p.builtins.FindFile(ctx, name)
	if err != nil {
		return bundle{}, err
	}
	return bundle{fid: fid, size: size}, nil
}

func loaded(key string, entry bundle) secproto.LoadResponse {
	return secproto.LoadResponse{Key: key, FID: entry.fid, Size: entry.size}
}
