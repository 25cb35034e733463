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

// This package stores and retrieves opaque artifact byte payloads. A backend
// is selected by URI scheme from a small closed table at startup; exactly one
// backend is active per process.
package storage

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// A Backend stores, retrieves, and deletes opaque byte payloads addressed by
// storage-agnostic location URIs. Implementations must verify that every
// location they touch stays inside their configured base namespace.
type Backend interface {
	// stores the content and returns its location URI, actual length, and
	// hex SHA-256 hash; a configured size limit is enforced mid-stream
	Store(ctx context.Context, tenantId, rootTaskId string, artifactId uuid.UUID,
		content io.Reader, mimeType string) (location string, sizeBytes int64,
		contentHash string, err error)
	// opens the payload at the given location for reading
	Retrieve(ctx context.Context, location string) (io.ReadCloser, error)
	// removes the payload at the given location
	Delete(ctx context.Context, location string) error
	// reports whether a payload exists at the given location
	Exists(ctx context.Context, location string) (bool, error)
}

// options consumed by backend constructors
type Options struct {
	// root directory for the filesystem backend
	BasePath string
	// maximum accepted artifact size in bytes (0 = unlimited)
	MaxArtifactBytes int64
}

// the closed table of backend constructors, keyed by location scheme;
// runtime registration is deliberately not supported
var constructors = map[string]func(Options) (Backend, error){
	"fs":  newFilesystemBackend,
	"mem": newMemoryBackend,
}

// creates the storage backend for the given scheme
func New(scheme string, options Options) (Backend, error) {
	construct, found := constructors[scheme]
	if !found {
		return nil, &UnknownBackendError{Scheme: scheme}
	}
	return construct(options)
}
