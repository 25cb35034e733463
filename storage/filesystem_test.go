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
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/depotgate/depotgate/sanitize"
)

var testingDir string

func TestMain(m *testing.M) {
	var err error
	testingDir, err = os.MkdirTemp(os.TempDir(), "depotgate-storage-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
	status := m.Run()
	os.RemoveAll(testingDir)
	os.Exit(status)
}

func newTestBackend(t *testing.T, maxBytes int64) Backend {
	base, err := os.MkdirTemp(testingDir, "staging-")
	assert.NoError(t, err)
	backend, err := New("fs", Options{BasePath: base, MaxArtifactBytes: maxBytes})
	assert.NoError(t, err)
	return backend
}

func TestStoreAndRetrieve(t *testing.T) {
	assert := assert.New(t)
	backend := newTestBackend(t, 0)
	ctx := context.Background()

	payload := []byte("hello")
	artifactId := uuid.New()
	location, size, hash, err := backend.Store(ctx, "tenant-1", "task-1",
		artifactId, bytes.NewReader(payload), "text/plain")
	assert.NoError(err)
	assert.Equal(int64(len(payload)), size)
	expected := sha256.Sum256(payload)
	assert.Equal(hex.EncodeToString(expected[:]), hash)
	assert.True(strings.HasPrefix(location, "fs://tenant-1/task-1/"))

	reader, err := backend.Retrieve(ctx, location)
	assert.NoError(err)
	read, err := io.ReadAll(reader)
	reader.Close()
	assert.NoError(err)
	assert.Equal(payload, read)

	// retrieval is idempotent
	reader, err = backend.Retrieve(ctx, location)
	assert.NoError(err)
	again, err := io.ReadAll(reader)
	reader.Close()
	assert.NoError(err)
	assert.Equal(read, again)

	exists, err := backend.Exists(ctx, location)
	assert.NoError(err)
	assert.True(exists)
}

func TestStoreEmptyArtifact(t *testing.T) {
	assert := assert.New(t)
	backend := newTestBackend(t, 0)

	location, size, hash, err := backend.Store(context.Background(), "tenant-1",
		"task-1", uuid.New(), bytes.NewReader(nil), "application/octet-stream")
	assert.NoError(err)
	assert.Equal(int64(0), size)
	empty := sha256.Sum256(nil)
	assert.Equal(hex.EncodeToString(empty[:]), hash)

	reader, err := backend.Retrieve(context.Background(), location)
	assert.NoError(err)
	read, err := io.ReadAll(reader)
	reader.Close()
	assert.NoError(err)
	assert.Empty(read)
}

func TestStoreSizeLimit(t *testing.T) {
	assert := assert.New(t)
	backend := newTestBackend(t, 8)
	ctx := context.Background()

	// exactly at the limit is accepted
	_, size, _, err := backend.Store(ctx, "tenant-1", "task-1", uuid.New(),
		bytes.NewReader([]byte("12345678")), "text/plain")
	assert.NoError(err)
	assert.Equal(int64(8), size)

	// one byte over fails and cleans up the partial file
	artifactId := uuid.New()
	var tooLarge *ArtifactTooLargeError
	_, _, _, err = backend.Store(ctx, "tenant-1", "task-1", artifactId,
		bytes.NewReader([]byte("123456789")), "text/plain")
	assert.ErrorAs(err, &tooLarge)
	exists, err := backend.Exists(ctx, "fs://tenant-1/task-1/"+artifactId.String())
	assert.NoError(err)
	assert.False(exists)
}

func TestStoreSanitizesNamespace(t *testing.T) {
	assert := assert.New(t)
	base, err := os.MkdirTemp(testingDir, "staging-")
	assert.NoError(err)
	backend, err := New("fs", Options{BasePath: base})
	assert.NoError(err)

	// hostile tenant and task ids land strictly inside the base
	location, _, _, err := backend.Store(context.Background(), "../../etc",
		"../cron.d", uuid.New(), bytes.NewReader([]byte("x")), "text/plain")
	assert.NoError(err)
	assert.True(strings.HasPrefix(location, "fs://_etc/_cron_d/"))

	_, body, err := sanitize.ParseLocation(location)
	assert.NoError(err)
	resolved, err := sanitize.ResolveUnderBase(base, body)
	assert.NoError(err)
	assert.True(strings.HasPrefix(resolved, filepath.Clean(base)+string(os.PathSeparator)))
}

func TestRetrievePathSafety(t *testing.T) {
	assert := assert.New(t)
	backend := newTestBackend(t, 0)
	ctx := context.Background()

	var violation *sanitize.PathViolationError
	_, err := backend.Retrieve(ctx, "fs://../outside")
	assert.ErrorAs(err, &violation)
	err = backend.Delete(ctx, "fs://a/../../escape")
	assert.ErrorAs(err, &violation)

	var invalid *sanitize.InvalidLocationError
	_, err = backend.Retrieve(ctx, "/etc/passwd")
	assert.ErrorAs(err, &invalid)
	_, err = backend.Retrieve(ctx, "bare/path")
	assert.ErrorAs(err, &invalid)
	_, err = backend.Retrieve(ctx, "mem://tenant/task/artifact")
	assert.ErrorAs(err, &invalid)
}

func TestDeleteRemovesBytes(t *testing.T) {
	assert := assert.New(t)
	backend := newTestBackend(t, 0)
	ctx := context.Background()

	location, _, _, err := backend.Store(ctx, "tenant-1", "task-1", uuid.New(),
		bytes.NewReader([]byte("doomed")), "text/plain")
	assert.NoError(err)

	assert.NoError(backend.Delete(ctx, location))
	exists, err := backend.Exists(ctx, location)
	assert.NoError(err)
	assert.False(exists)

	var missing *ArtifactMissingError
	_, err = backend.Retrieve(ctx, location)
	assert.ErrorAs(err, &missing)
	assert.ErrorAs(backend.Delete(ctx, location), &missing)
}

func TestUnknownScheme(t *testing.T) {
	var unknown *UnknownBackendError
	_, err := New("s3", Options{})
	assert.ErrorAs(t, err, &unknown)
}
