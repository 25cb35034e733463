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

package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/sanitize"
)

// An in-memory backend used by tests. Locations use the mem:// scheme with
// the same tenant/task/artifact layout as the filesystem backend.
type memoryBackend struct {
	mutex    sync.RWMutex
	payloads map[string][]byte
	maxBytes int64
}

func newMemoryBackend(options Options) (Backend, error) {
	return &memoryBackend{
		payloads: make(map[string][]byte),
		maxBytes: options.MaxArtifactBytes,
	}, nil
}

func (backend *memoryBackend) key(location string) (string, error) {
	scheme, body, err := sanitize.ParseLocation(location)
	if err != nil {
		return "", err
	}
	if scheme != "mem" {
		return "", &sanitize.InvalidLocationError{Location: location}
	}
	return body, nil
}

func (backend *memoryBackend) Store(ctx context.Context, tenantId,
	rootTaskId string, artifactId uuid.UUID, content io.Reader,
	mimeType string) (string, int64, string, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, "", err
	}

	data, err := io.ReadAll(content)
	if err != nil {
		return "", 0, "", &FailureError{Op: "store", Err: err}
	}
	size := int64(len(data))
	if backend.maxBytes > 0 && size > backend.maxBytes {
		return "", 0, "", &ArtifactTooLargeError{SizeBytes: size, Limit: backend.maxBytes}
	}

	body := sanitize.Component(tenantId) + "/" + sanitize.Component(rootTaskId) +
		"/" + artifactId.String()
	backend.mutex.Lock()
	backend.payloads[body] = data
	backend.mutex.Unlock()

	hash := sha256.Sum256(data)
	return "mem://" + body, size, hex.EncodeToString(hash[:]), nil
}

func (backend *memoryBackend) Retrieve(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := backend.key(location)
	if err != nil {
		return nil, err
	}
	backend.mutex.RLock()
	data, found := backend.payloads[body]
	backend.mutex.RUnlock()
	if !found {
		return nil, &ArtifactMissingError{Location: location}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (backend *memoryBackend) Delete(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := backend.key(location)
	if err != nil {
		return err
	}
	backend.mutex.Lock()
	defer backend.mutex.Unlock()
	if _, found := backend.payloads[body]; !found {
		return &ArtifactMissingError{Location: location}
	}
	delete(backend.payloads, body)
	return nil
}

func (backend *memoryBackend) Exists(ctx context.Context, location string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	body, err := backend.key(location)
	if err != nil {
		return false, err
	}
	backend.mutex.RLock()
	_, found := backend.payloads[body]
	backend.mutex.RUnlock()
	return found, nil
}
