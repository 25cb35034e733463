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

package sinks

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/sanitize"
)

// This sink writes shipments under a base directory as
// <base>/<destination>/<manifest_id>/<artifact_id>[.ext], with a
// manifest.json descriptor alongside the artifacts.
type filesystemSink struct {
	base string
}

func newFilesystemSink(options Options) (Sink, error) {
	if options.FilesystemBasePath == "" {
		return nil, fmt.Errorf("no filesystem sink base path was specified")
	}
	base, err := filepath.Abs(options.FilesystemBasePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, err
	}
	return &filesystemSink{base: base}, nil
}

func (sink *filesystemSink) Ship(ctx context.Context,
	artifacts []depot.ArtifactPointer, destination string,
	manifest depot.ShipmentManifest, getContent ContentGetter) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// absolute destinations are rejected; ".." segments are neutralized
	// before resolution, and the result must stay under the sink base
	if filepath.IsAbs(destination) {
		return &sanitize.PathViolationError{Path: destination}
	}
	resolved, err := sanitize.ResolveUnderBase(sink.base,
		sanitize.NeutralizeDotDot(destination))
	if err != nil {
		return err
	}

	shipmentDir := filepath.Join(resolved, manifest.ManifestId.String())
	if err := os.MkdirAll(shipmentDir, 0755); err != nil {
		return &TransportFailureError{Destination: destination, Err: err}
	}

	for _, pointer := range artifacts {
		if err := sink.writeArtifact(ctx, shipmentDir, pointer, getContent); err != nil {
			return err
		}
	}

	document, err := marshalManifest(manifest)
	if err != nil {
		return err
	}
	manifestPath := filepath.Join(shipmentDir, "manifest.json")
	if err := os.WriteFile(manifestPath, document, 0644); err != nil {
		return &TransportFailureError{Destination: destination, Err: err}
	}
	return nil
}

// streams a single artifact into the shipment directory
func (sink *filesystemSink) writeArtifact(ctx context.Context, shipmentDir string,
	pointer depot.ArtifactPointer, getContent ContentGetter) error {
	content, err := getContent(ctx, pointer.ArtifactId)
	if err != nil {
		return err
	}
	defer content.Close()

	file, err := os.Create(filepath.Join(shipmentDir, artifactFilename(pointer)))
	if err != nil {
		return &TransportFailureError{Destination: shipmentDir, Err: err}
	}
	if _, err := io.Copy(file, content); err != nil {
		file.Close()
		return &TransportFailureError{Destination: shipmentDir, Err: err}
	}
	return file.Close()
}
