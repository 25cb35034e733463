// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// This package moves shipped artifacts out of DepotGate. A sink is selected
// by the scheme of the shipping destination from a closed table built at
// startup. Sinks never retry; transient failures surface to the caller.
package sinks

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/sanitize"
)

// A ContentGetter returns the byte stream for one artifact. Sinks call it
// lazily, per artifact, so payloads are never held in memory all at once.
type ContentGetter func(ctx context.Context, artifactId uuid.UUID) (io.ReadCloser, error)

// A Sink transfers a set of artifacts plus their manifest to an external
// destination. The destination passed to Ship is the scheme-stripped body
// for path-style sinks, or the full URL for network sinks.
type Sink interface {
	Ship(ctx context.Context, artifacts []depot.ArtifactPointer, destination string,
		manifest depot.ShipmentManifest, getContent ContentGetter) error
}

// options consumed by sink constructors
type Options struct {
	// base directory for the filesystem sink
	FilesystemBasePath string
	// request timeout for the HTTP sink, in seconds (0 = no timeout)
	HttpTimeoutSeconds int
}

// The Registry maps destination schemes to the sinks enabled for this
// process. It is built once by the composition root.
type Registry struct {
	sinks map[string]Sink
}

// constructs a registry holding the named sinks; recognized names are
// "fs", "http", and "https" (http and https share one sink)
func NewRegistry(enabled []string, options Options) (*Registry, error) {
	registry := &Registry{sinks: make(map[string]Sink)}
	for _, name := range enabled {
		switch name {
		case "fs":
			sink, err := newFilesystemSink(options)
			if err != nil {
				return nil, err
			}
			registry.sinks["fs"] = sink
		case "http", "https":
			sink := newHttpSink(options)
			registry.sinks["http"] = sink
			registry.sinks["https"] = sink
		default:
			return nil, &UnknownSinkError{Scheme: name}
		}
	}
	return registry, nil
}

// resolves a shipping destination to its sink and the destination string
// the sink consumes: for fs the scheme-stripped body, for http(s) the full
// URL
func (registry *Registry) ForDestination(destination string) (Sink, string, error) {
	scheme, body, err := sanitize.ParseLocation(destination)
	if err != nil {
		return nil, "", err
	}
	sink, found := registry.sinks[scheme]
	if !found {
		return nil, "", &UnknownSinkError{Scheme: scheme}
	}
	if scheme == "http" || scheme == "https" {
		return sink, destination, nil
	}
	return sink, body, nil
}
