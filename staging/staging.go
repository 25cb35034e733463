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

// This package stages artifacts into the depot: bytes go to the storage
// backend, a pointer goes to the metadata store, and an artifact_staged
// receipt goes to the receipt store, in that order. A pointer is never
// visible without its bytes.
package staging

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/metadata"
	"github.com/depotgate/depotgate/receipts"
	"github.com/depotgate/depotgate/sanitize"
	"github.com/depotgate/depotgate/storage"
)

// Area is the staging surface for a depot. All fields are required.
type Area struct {
	Storage  storage.Backend
	Metadata *metadata.Store
	Receipts *receipts.Store
}

// a request to stage one artifact
type StageRequest struct {
	TenantId   string
	RootTaskId string
	// the artifact's bytes, streamed through to storage
	Content io.Reader
	// declared MIME type (opaque; empty means application/octet-stream)
	MimeType string
	// role from the closed vocabulary (empty means supporting)
	Role string
	// optional causal back-link to the receipt that produced the content
	ProducedByReceiptId string
}

// stages an artifact, returning its pointer. If the pointer was registered
// but the receipt write failed, the pointer is returned together with a
// receipts.WriteFailedError; the artifact is staged either way.
func (area *Area) Stage(ctx context.Context, request StageRequest) (depot.ArtifactPointer, error) {
	if err := sanitize.ValidateTaskId(request.TenantId); err != nil {
		return depot.ArtifactPointer{}, err
	}
	if err := sanitize.ValidateTaskId(request.RootTaskId); err != nil {
		return depot.ArtifactPointer{}, err
	}
	role, err := depot.ParseArtifactRole(request.Role)
	if err != nil {
		return depot.ArtifactPointer{}, &InvalidRequestError{Reason: err.Error()}
	}
	if !receipts.ValidCausalLink(request.ProducedByReceiptId) {
		return depot.ArtifactPointer{}, &InvalidRequestError{
			Reason: "produced_by_receipt_id is not a receipt id",
		}
	}
	mimeType := request.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// bytes first, so the pointer never dangles
	artifactId := uuid.New()
	location, sizeBytes, contentHash, err := area.Storage.Store(ctx,
		request.TenantId, request.RootTaskId, artifactId, request.Content, mimeType)
	if err != nil {
		return depot.ArtifactPointer{}, err
	}

	pointer := depot.ArtifactPointer{
		ArtifactId:          artifactId,
		TenantId:            request.TenantId,
		RootTaskId:          request.RootTaskId,
		Location:            location,
		SizeBytes:           sizeBytes,
		MimeType:            mimeType,
		ContentHash:         contentHash,
		ArtifactRole:        role,
		ProducedByReceiptId: request.ProducedByReceiptId,
		CreatedAt:           time.Now().UTC(),
	}
	if err := area.Metadata.InsertPointer(ctx, pointer); err != nil {
		// the pointer never registered, so the stored bytes are orphans
		if deleteErr := area.Storage.Delete(ctx, location); deleteErr != nil {
			slog.Error("Couldn't remove orphaned artifact bytes",
				"location", location, "error", deleteErr.Error())
		}
		return depot.ArtifactPointer{}, err
	}

	receipt, err := receipts.New(request.TenantId, request.RootTaskId,
		depot.ReceiptArtifactStaged, stagedPayload{Pointer: pointer},
		request.ProducedByReceiptId)
	if err == nil {
		err = area.Receipts.Append(receipt)
	}
	if err != nil {
		// the artifact is staged; only the trace is incomplete
		slog.Error("Couldn't record artifact_staged receipt",
			"artifact", artifactId.String(), "error", err.Error())
		return pointer, &receipts.WriteFailedError{Err: err}
	}

	slog.Info("Staged artifact", "tenant", request.TenantId,
		"task", request.RootTaskId, "artifact", artifactId.String(),
		"bytes", sizeBytes)
	return pointer, nil
}

// the payload of an artifact_staged receipt
type stagedPayload struct {
	Pointer depot.ArtifactPointer `json:"pointer"`
}

// lists a task's live pointers, newest first, optionally filtered by role
func (area *Area) List(ctx context.Context, tenantId, rootTaskId,
	role string) ([]depot.ArtifactPointer, error) {
	if err := sanitize.ValidateTaskId(tenantId); err != nil {
		return nil, err
	}
	if err := sanitize.ValidateTaskId(rootTaskId); err != nil {
		return nil, err
	}
	filter := metadata.PointerFilter{}
	if role != "" {
		parsed, err := depot.ParseArtifactRole(role)
		if err != nil {
			return nil, &InvalidRequestError{Reason: err.Error()}
		}
		filter.Role = parsed
	}
	return area.Metadata.LivePointers(ctx, tenantId, rootTaskId, filter)
}

// fetches a live pointer by id
func (area *Area) Get(ctx context.Context, tenantId string,
	artifactId uuid.UUID) (depot.ArtifactPointer, error) {
	return area.Metadata.GetPointer(ctx, tenantId, artifactId)
}

// opens the content stream for a live artifact; the caller closes it
func (area *Area) Content(ctx context.Context, tenantId string,
	artifactId uuid.UUID) (io.ReadCloser, depot.ArtifactPointer, error) {
	pointer, err := area.Metadata.GetPointer(ctx, tenantId, artifactId)
	if err != nil {
		return nil, depot.ArtifactPointer{}, err
	}
	content, err := area.Storage.Retrieve(ctx, pointer.Location)
	if err != nil {
		return nil, depot.ArtifactPointer{}, err
	}
	return content, pointer, nil
}
