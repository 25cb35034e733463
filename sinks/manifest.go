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
	"encoding/json"
	"strings"
	"time"

	"github.com/depotgate/depotgate/depot"
)

// The shipped manifest.json is a Frictionless data package descriptor
// (https://specs.frictionlessdata.io/data-package/) carrying the shipment
// manifest in its top-level fields and one resource per shipped artifact.
type manifestDescriptor struct {
	// the data-package name (fixed) and creation time
	Name    string `json:"name"`
	Created string `json:"created"`
	// shipment identity
	ManifestId    string `json:"manifest_id"`
	DeliverableId string `json:"deliverable_id"`
	TenantId      string `json:"tenant_id"`
	RootTaskId    string `json:"root_task_id"`
	Destination   string `json:"destination"`
	ShippedAt     string `json:"shipped_at"`
	// one resource per shipped artifact
	Resources []manifestResource `json:"resources"`
}

// a data resource describing one shipped artifact
type manifestResource struct {
	// artifact UUID, which doubles as the resource name
	Name string `json:"name"`
	// filename of the artifact within the shipment directory
	Path string `json:"path"`
	// file format derived from the MIME type (extension without the dot)
	Format string `json:"format,omitempty"`
	// the artifact's declared MIME type
	MediaType string `json:"mediatype,omitempty"`
	// stored length in bytes
	Bytes int64 `json:"bytes"`
	// hash with an explicit algorithm prefix
	Hash string `json:"hash"`
	// the artifact's role within its task
	Role string `json:"role,omitempty"`
}

// renders the shipment manifest as an indented descriptor document
func marshalManifest(manifest depot.ShipmentManifest) ([]byte, error) {
	descriptor := manifestDescriptor{
		Name:          "depotgate-shipment",
		Created:       manifest.ShippedAt.UTC().Format(time.RFC3339),
		ManifestId:    manifest.ManifestId.String(),
		DeliverableId: manifest.DeliverableId.String(),
		TenantId:      manifest.TenantId,
		RootTaskId:    manifest.RootTaskId,
		Destination:   manifest.Destination,
		ShippedAt:     manifest.ShippedAt.UTC().Format(time.RFC3339),
		Resources:     make([]manifestResource, len(manifest.ArtifactPointers)),
	}
	for i, pointer := range manifest.ArtifactPointers {
		descriptor.Resources[i] = manifestResource{
			Name:      pointer.ArtifactId.String(),
			Path:      artifactFilename(pointer),
			Format:    strings.TrimPrefix(extensionForMimeType(pointer.MimeType), "."),
			MediaType: pointer.MimeType,
			Bytes:     pointer.SizeBytes,
			Hash:      "sha256:" + pointer.ContentHash,
			Role:      string(pointer.ArtifactRole),
		}
	}
	return json.MarshalIndent(descriptor, "", "  ")
}

// the filename an artifact is shipped under: its UUID plus an extension
// inferred from the MIME type
func artifactFilename(pointer depot.ArtifactPointer) string {
	return pointer.ArtifactId.String() + extensionForMimeType(pointer.MimeType)
}

// maps well-known MIME types to extensions; unrecognized types (including
// application/octet-stream) ship under the bare artifact id
func extensionForMimeType(mimeType string) string {
	switch mimeType {
	case "application/json":
		return ".json"
	case "application/xml":
		return ".xml"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	case "text/html":
		return ".html"
	case "text/css":
		return ".css"
	case "text/javascript":
		return ".js"
	case "text/markdown":
		return ".md"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/svg+xml":
		return ".svg"
	}
	return ""
}
