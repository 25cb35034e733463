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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/sanitize"
)

// copy buffer size for streaming ingest
const ingestChunkSize = 64 * 1024

// This backend lays artifacts out on a local filesystem as
// <base>/<sanitized-tenant>/<sanitized-task>/<artifact_id> and addresses
// them with fs:// locations relative to the base.
type filesystemBackend struct {
	base     string
	maxBytes int64
}

func newFilesystemBackend(options Options) (Backend, error) {
	if options.BasePath == "" {
		return nil, fmt.Errorf("no storage base path was specified")
	}
	base, err := filepath.Abs(options.BasePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, &FailureError{Op: "init", Err: err}
	}
	return &filesystemBackend{
		base:     base,
		maxBytes: options.MaxArtifactBytes,
	}, nil
}

// parses an fs:// location and resolves it under the base, rejecting
// anything that escapes
func (backend *filesystemBackend) resolve(location string) (string, error) {
	scheme, body, err := sanitize.ParseLocation(location)
	if err != nil {
		return "", err
	}
	if scheme != "fs" {
		return "", &sanitize.InvalidLocationError{Location: location}
	}
	return sanitize.ResolveUnderBase(backend.base, body)
}

func (backend *filesystemBackend) Store(ctx context.Context, tenantId,
	rootTaskId string, artifactId uuid.UUID, content io.Reader,
	mimeType string) (string, int64, string, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, "", err
	}

	rel := filepath.Join(sanitize.Component(tenantId),
		sanitize.Component(rootTaskId), artifactId.String())
	path := filepath.Join(backend.base, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", 0, "", &FailureError{Op: "store", Err: err}
	}

	file, err := os.Create(path)
	if err != nil {
		return "", 0, "", &FailureError{Op: "store", Err: err}
	}

	// single-pass ingest: hash and count while writing, enforcing the
	// size limit incrementally so oversized streams stop early
	hasher := sha256.New()
	var size int64
	buffer := make([]byte, ingestChunkSize)
	for {
		n, readErr := content.Read(buffer)
		if n > 0 {
			size += int64(n)
			if backend.maxBytes > 0 && size > backend.maxBytes {
				file.Close()
				os.Remove(path)
				return "", 0, "", &ArtifactTooLargeError{
					SizeBytes: size,
					Limit:     backend.maxBytes,
				}
			}
			hasher.Write(buffer[:n])
			if _, err := file.Write(buffer[:n]); err != nil {
				file.Close()
				os.Remove(path)
				return "", 0, "", &FailureError{Op: "store", Err: err}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			file.Close()
			os.Remove(path)
			return "", 0, "", &FailureError{Op: "store", Err: readErr}
		}
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return "", 0, "", &FailureError{Op: "store", Err: err}
	}

	location := "fs://" + filepath.ToSlash(rel)
	return location, size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (backend *filesystemBackend) Retrieve(ctx context.Context,
	location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := backend.resolve(location)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ArtifactMissingError{Location: location}
		}
		return nil, &FailureError{Op: "retrieve", Err: err}
	}
	return file, nil
}

func (backend *filesystemBackend) Delete(ctx context.Context, location string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := backend.resolve(location)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ArtifactMissingError{Location: location}
		}
		return &FailureError{Op: "delete", Err: err}
	}

	// sweep now-empty task and tenant directories
	parent := filepath.Dir(path)
	for parent != backend.base {
		if entries, err := os.ReadDir(parent); err != nil || len(entries) > 0 {
			break
		}
		os.Remove(parent)
		parent = filepath.Dir(parent)
	}
	return nil
}

func (backend *filesystemBackend) Exists(ctx context.Context, location string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	path, err := backend.resolve(location)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, &FailureError{Op: "exists", Err: err}
}
