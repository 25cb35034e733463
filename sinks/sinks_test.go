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
	"bytes"
	"context"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/frictionlessdata/datapackage-go/datapackage"
	"github.com/frictionlessdata/datapackage-go/validator"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/sanitize"
)

// working directory for the filesystem sink
var testDir string

// this function gets called when the tests are run
func TestMain(m *testing.M) {
	var err error
	testDir, err = os.MkdirTemp(os.TempDir(), "depotgate-sink-tests-")
	if err != nil {
		log.Panicf("Couldn't create temporary directory: %s", err.Error())
	}
	status := m.Run()
	os.RemoveAll(testDir)
	os.Exit(status)
}

// builds a manifest with one text artifact and one opaque artifact, plus a
// content getter serving fixed payloads for them
func testShipment() (depot.ShipmentManifest, map[uuid.UUID][]byte, ContentGetter) {
	textId := uuid.New()
	blobId := uuid.New()
	manifest := depot.ShipmentManifest{
		ManifestId:    uuid.New(),
		DeliverableId: uuid.New(),
		TenantId:      "tenant-a",
		RootTaskId:    "task-1",
		ArtifactPointers: []depot.ArtifactPointer{
			{
				ArtifactId:   textId,
				TenantId:     "tenant-a",
				RootTaskId:   "task-1",
				SizeBytes:    5,
				MimeType:     "text/plain",
				ContentHash:  "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
				ArtifactRole: depot.RoleFinalOutput,
			},
			{
				ArtifactId:   blobId,
				TenantId:     "tenant-a",
				RootTaskId:   "task-1",
				SizeBytes:    3,
				MimeType:     "application/octet-stream",
				ContentHash:  "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
				ArtifactRole: depot.RoleSupporting,
			},
		},
		Destination: "fs://outbox",
		ShippedAt:   time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	payloads := map[uuid.UUID][]byte{
		textId: []byte("hello"),
		blobId: []byte("abc"),
	}
	getContent := func(ctx context.Context, artifactId uuid.UUID) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payloads[artifactId])), nil
	}
	return manifest, payloads, getContent
}

func TestRegistryResolvesDestinations(t *testing.T) {
	assert := assert.New(t)

	registry, err := NewRegistry([]string{"fs", "http"},
		Options{FilesystemBasePath: testDir})
	assert.Nil(err)

	sink, destination, err := registry.ForDestination("fs://outbox/run-1")
	assert.Nil(err)
	assert.NotNil(sink)
	assert.Equal("outbox/run-1", destination)

	sink, destination, err = registry.ForDestination("https://example.com/intake")
	assert.Nil(err)
	assert.NotNil(sink)
	assert.Equal("https://example.com/intake", destination)

	_, _, err = registry.ForDestination("sftp://example.com/intake")
	var unknownErr *UnknownSinkError
	assert.ErrorAs(err, &unknownErr)
	assert.Equal("sftp", unknownErr.Scheme)

	_, _, err = registry.ForDestination("/no/scheme")
	var locationErr *sanitize.InvalidLocationError
	assert.ErrorAs(err, &locationErr)
}

func TestRegistryRejectsUnknownSinkName(t *testing.T) {
	assert := assert.New(t)
	_, err := NewRegistry([]string{"carrier-pigeon"}, Options{})
	var unknownErr *UnknownSinkError
	assert.ErrorAs(err, &unknownErr)
}

func TestFilesystemSinkShipsArtifactsAndManifest(t *testing.T) {
	assert := assert.New(t)

	registry, err := NewRegistry([]string{"fs"},
		Options{FilesystemBasePath: testDir})
	assert.Nil(err)
	sink, destination, err := registry.ForDestination("fs://outbox/run-1")
	assert.Nil(err)

	manifest, payloads, getContent := testShipment()
	err = sink.Ship(context.Background(), manifest.ArtifactPointers, destination,
		manifest, getContent)
	assert.Nil(err)

	shipmentDir := filepath.Join(testDir, "outbox", "run-1",
		manifest.ManifestId.String())

	// the text artifact ships with a .txt extension, the opaque one bare
	textPointer := manifest.ArtifactPointers[0]
	content, err := os.ReadFile(filepath.Join(shipmentDir,
		textPointer.ArtifactId.String()+".txt"))
	assert.Nil(err)
	assert.Equal(payloads[textPointer.ArtifactId], content)

	blobPointer := manifest.ArtifactPointers[1]
	content, err = os.ReadFile(filepath.Join(shipmentDir,
		blobPointer.ArtifactId.String()))
	assert.Nil(err)
	assert.Equal(payloads[blobPointer.ArtifactId], content)

	// manifest.json must be a valid Frictionless data package
	document, err := os.ReadFile(filepath.Join(shipmentDir, "manifest.json"))
	assert.Nil(err)
	pkg, err := datapackage.FromString(string(document), "manifest.json",
		validator.InMemoryLoader())
	assert.Nil(err)
	descriptor := pkg.Descriptor()
	assert.Equal("depotgate-shipment", descriptor["name"])
	assert.Equal(manifest.ManifestId.String(), descriptor["manifest_id"])
	assert.Equal(manifest.DeliverableId.String(), descriptor["deliverable_id"])
	resources := descriptor["resources"].([]interface{})
	assert.Equal(2, len(resources))
	first := resources[0].(map[string]interface{})
	assert.Equal(textPointer.ArtifactId.String()+".txt", first["path"])
	assert.Equal("sha256:"+textPointer.ContentHash, first["hash"])
	assert.Equal("final_output", first["role"])
}

func TestFilesystemSinkNeutralizesTraversal(t *testing.T) {
	assert := assert.New(t)

	registry, err := NewRegistry([]string{"fs"},
		Options{FilesystemBasePath: testDir})
	assert.Nil(err)
	sink, destination, err := registry.ForDestination("fs://../../outside")
	assert.Nil(err)

	manifest, _, getContent := testShipment()
	err = sink.Ship(context.Background(), manifest.ArtifactPointers, destination,
		manifest, getContent)
	assert.Nil(err)

	// the ".." segments drop, so the shipment lands under the base
	info, err := os.Stat(filepath.Join(testDir, "outside",
		manifest.ManifestId.String(), "manifest.json"))
	assert.Nil(err)
	assert.False(info.IsDir())
}

func TestFilesystemSinkRejectsAbsoluteDestination(t *testing.T) {
	assert := assert.New(t)

	registry, err := NewRegistry([]string{"fs"},
		Options{FilesystemBasePath: testDir})
	assert.Nil(err)
	sink, destination, err := registry.ForDestination("fs:///etc/cron.d")
	assert.Nil(err)
	assert.Equal("/etc/cron.d", destination)

	manifest, _, getContent := testShipment()
	err = sink.Ship(context.Background(), manifest.ArtifactPointers, destination,
		manifest, getContent)
	var pathErr *sanitize.PathViolationError
	assert.ErrorAs(err, &pathErr)
}

func TestHttpSinkPostsMultipartShipment(t *testing.T) {
	assert := assert.New(t)

	type receivedPart struct {
		field    string
		filename string
		content  []byte
	}
	var received []receivedPart
	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
			assert.Nil(err)
			assert.Equal("multipart/form-data", mediaType)
			reader := multipart.NewReader(r.Body, params["boundary"])
			for {
				part, err := reader.NextPart()
				if err == io.EOF {
					break
				}
				assert.Nil(err)
				content, err := io.ReadAll(part)
				assert.Nil(err)
				received = append(received, receivedPart{
					field:    part.FormName(),
					filename: part.FileName(),
					content:  content,
				})
			}
			w.WriteHeader(http.StatusOK)
		}))
	defer server.Close()

	registry, err := NewRegistry([]string{"http"}, Options{HttpTimeoutSeconds: 5})
	assert.Nil(err)
	sink, destination, err := registry.ForDestination(server.URL + "/intake")
	assert.Nil(err)

	manifest, payloads, getContent := testShipment()
	err = sink.Ship(context.Background(), manifest.ArtifactPointers, destination,
		manifest, getContent)
	assert.Nil(err)

	// manifest first, then one part per artifact
	assert.Equal(3, len(received))
	assert.Equal("manifest", received[0].field)
	assert.Equal("manifest.json", received[0].filename)
	pkg, err := datapackage.FromString(string(received[0].content),
		"manifest.json", validator.InMemoryLoader())
	assert.Nil(err)
	assert.Equal("depotgate-shipment", pkg.Descriptor()["name"])

	textPointer := manifest.ArtifactPointers[0]
	assert.Equal("artifact", received[1].field)
	assert.Equal(textPointer.ArtifactId.String()+".txt", received[1].filename)
	assert.Equal(payloads[textPointer.ArtifactId], received[1].content)
}

func TestHttpSinkReportsRemoteFailure(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
	defer server.Close()

	registry, err := NewRegistry([]string{"http"}, Options{})
	assert.Nil(err)
	sink, destination, err := registry.ForDestination(server.URL)
	assert.Nil(err)

	manifest, _, getContent := testShipment()
	err = sink.Ship(context.Background(), manifest.ArtifactPointers, destination,
		manifest, getContent)
	var transportErr *TransportFailureError
	assert.ErrorAs(err, &transportErr)
}
