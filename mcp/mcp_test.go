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

package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/depotgate/depotgate/deliverables"
	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/metadata"
	"github.com/depotgate/depotgate/receipts"
	"github.com/depotgate/depotgate/shipping"
	"github.com/depotgate/depotgate/sinks"
	"github.com/depotgate/depotgate/staging"
	"github.com/depotgate/depotgate/storage"
)

// directory holding per-test database files and sink output
var testDir string

// this function gets called when the tests are run
func TestMain(m *testing.M) {
	var err error
	testDir, err = os.MkdirTemp(os.TempDir(), "depotgate-mcp-tests-")
	if err != nil {
		log.Panicf("Couldn't create temporary directory: %s", err.Error())
	}
	status := m.Run()
	os.RemoveAll(testDir)
	os.Exit(status)
}

// creates a tool server over a fresh depot
func testServer(t *testing.T) *Server {
	dir, err := os.MkdirTemp(testDir, "case-")
	assert.Nil(t, err)

	backend, err := storage.New("mem", storage.Options{MaxArtifactBytes: 1 << 20})
	assert.Nil(t, err)
	metadataStore, err := metadata.Open(context.Background(),
		filepath.Join(dir, "metadata.db"))
	assert.Nil(t, err)
	receiptStore, err := receipts.Open(filepath.Join(dir, "receipts.db"))
	assert.Nil(t, err)
	registry, err := sinks.NewRegistry([]string{"fs"}, sinks.Options{
		FilesystemBasePath: filepath.Join(dir, "outbox"),
	})
	assert.Nil(t, err)
	t.Cleanup(func() {
		metadataStore.Close()
		receiptStore.Close()
	})

	manager := &deliverables.Manager{Metadata: metadataStore}
	return New(Components{
		Staging: &staging.Area{
			Storage:  backend,
			Metadata: metadataStore,
			Receipts: receiptStore,
		},
		Deliverables: manager,
		Shipping: &shipping.Service{
			Deliverables: manager,
			Metadata:     metadataStore,
			Receipts:     receiptStore,
			Storage:      backend,
			Sinks:        registry,
		},
		Receipts: receiptStore,
	})
}

func arguments(t *testing.T, value map[string]any) json.RawMessage {
	encoded, err := json.Marshal(value)
	assert.Nil(t, err)
	return json.RawMessage(encoded)
}

// checks that the catalog names every dispatchable tool
func TestToolCatalog(t *testing.T) {
	assert := assert.New(t)

	names := make([]string, 0)
	for _, tool := range tools() {
		names = append(names, tool.Name)
		assert.NotEmpty(tool.Description)
		assert.Equal("object", tool.InputSchema["type"])
	}
	assert.ElementsMatch([]string{"stage_artifact", "list_artifacts",
		"declare_deliverable", "check_closure", "mark_requirement",
		"ship_deliverable", "purge_artifacts", "list_receipts"}, names)
}

// stages an artifact through the tool surface and lists it back
func TestStageAndListTools(t *testing.T) {
	assert := assert.New(t)
	server := testServer(t)
	ctx := context.Background()

	result := server.stageArtifact(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"root_task_id":   "task-1",
		"content_base64": base64.StdEncoding.EncodeToString([]byte("tool content")),
		"mime_type":      "text/plain",
		"role":           "final_output",
	}))
	assert.True(result.Success, result.Error)
	pointer, ok := result.Result.(depot.ArtifactPointer)
	assert.True(ok)
	assert.Equal(depot.RoleFinalOutput, pointer.ArtifactRole)
	assert.Equal(int64(len("tool content")), pointer.SizeBytes)

	result = server.listArtifacts(ctx, arguments(t, map[string]any{
		"tenant_id":    "tenant-a",
		"root_task_id": "task-1",
	}))
	assert.True(result.Success)
	pointers, ok := result.Result.([]depot.ArtifactPointer)
	assert.True(ok)
	assert.Equal(1, len(pointers))

	// receipts followed the staging
	result = server.listReceipts(ctx, arguments(t, map[string]any{
		"tenant_id":    "tenant-a",
		"root_task_id": "task-1",
	}))
	assert.True(result.Success)
	listed, ok := result.Result.([]depot.Receipt)
	assert.True(ok)
	assert.Equal(1, len(listed))
	assert.Equal(depot.ReceiptArtifactStaged, listed[0].Kind)
}

// walks a deliverable from declaration to shipment through the tools
func TestDeliverableTools(t *testing.T) {
	assert := assert.New(t)
	server := testServer(t)
	ctx := context.Background()

	staged := server.stageArtifact(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"root_task_id":   "task-2",
		"content_base64": base64.StdEncoding.EncodeToString([]byte("result")),
		"mime_type":      "text/plain",
		"role":           "final_output",
	}))
	assert.True(staged.Success, staged.Error)

	declared := server.declareDeliverable(ctx, arguments(t, map[string]any{
		"tenant_id":            "tenant-a",
		"root_task_id":         "task-2",
		"artifact_roles":       []string{"final_output"},
		"requirements":         []string{"review"},
		"shipping_destination": "fs://outbox",
	}))
	assert.True(declared.Success, declared.Error)
	deliverable, ok := declared.Result.(depot.Deliverable)
	assert.True(ok)
	id := deliverable.DeliverableId.String()

	// closure fails until the requirement is marked
	checked := server.checkClosure(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"deliverable_id": id,
	}))
	assert.True(checked.Success)
	report := checked.Result.(depot.ClosureReport)
	assert.False(report.Satisfied)

	marked := server.markRequirement(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"deliverable_id": id,
		"name":           "review",
	}))
	assert.True(marked.Success, marked.Error)

	shipped := server.shipDeliverable(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"root_task_id":   "task-2",
		"deliverable_id": id,
	}))
	assert.True(shipped.Success, shipped.Error)
	manifest, ok := shipped.Result.(depot.ShipmentManifest)
	assert.True(ok)
	assert.Equal(1, len(manifest.ArtifactPointers))

	// a second shipment is a tool failure, not a panic
	again := server.shipDeliverable(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"root_task_id":   "task-2",
		"deliverable_id": id,
	}))
	assert.False(again.Success)
	assert.NotEmpty(again.Error)
}

// purges through the tool surface
func TestPurgeTool(t *testing.T) {
	assert := assert.New(t)
	server := testServer(t)
	ctx := context.Background()

	staged := server.stageArtifact(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"root_task_id":   "task-3",
		"content_base64": base64.StdEncoding.EncodeToString([]byte("ephemeral")),
	}))
	assert.True(staged.Success, staged.Error)
	pointer := staged.Result.(depot.ArtifactPointer)

	purged := server.purgeArtifacts(ctx, arguments(t, map[string]any{
		"tenant_id":    "tenant-a",
		"root_task_id": "task-3",
		"artifact_ids": []string{pointer.ArtifactId.String()},
		"policy":       "immediate",
	}))
	assert.True(purged.Success, purged.Error)

	listed := server.listArtifacts(ctx, arguments(t, map[string]any{
		"tenant_id":    "tenant-a",
		"root_task_id": "task-3",
	}))
	assert.True(listed.Success)
	assert.Equal(0, len(listed.Result.([]depot.ArtifactPointer)))
}

// checks that malformed arguments come back as tool failures
func TestBadToolArguments(t *testing.T) {
	assert := assert.New(t)
	server := testServer(t)
	ctx := context.Background()

	// content that isn't base64
	result := server.stageArtifact(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"root_task_id":   "task-4",
		"content_base64": "not base64!!!",
	}))
	assert.False(result.Success)
	assert.Contains(result.Error, "base64")

	// a deliverable id that isn't a UUID
	result = server.checkClosure(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"deliverable_id": "not-a-uuid",
	}))
	assert.False(result.Success)
	assert.Contains(result.Error, "deliverable_id")

	// an unknown deliverable is a domain failure
	result = server.checkClosure(ctx, arguments(t, map[string]any{
		"tenant_id":      "tenant-a",
		"deliverable_id": uuid.NewString(),
	}))
	assert.False(result.Success)
	assert.NotEmpty(result.Error)
}
