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

package deliverables

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/metadata"
)

// directory holding per-test database files
var testDir string

// this function gets called when the tests are run
func TestMain(m *testing.M) {
	var err error
	testDir, err = os.MkdirTemp(os.TempDir(), "depotgate-deliverable-tests-")
	if err != nil {
		log.Panicf("Couldn't create temporary directory: %s", err.Error())
	}
	status := m.Run()
	os.RemoveAll(testDir)
	os.Exit(status)
}

// assembles a manager over a fresh metadata store
func testManager(t *testing.T) *Manager {
	store, err := metadata.Open(context.Background(),
		filepath.Join(testDir, t.Name()+".db"))
	if err != nil {
		t.Fatalf("Couldn't open metadata store: %s", err.Error())
	}
	t.Cleanup(func() { store.Close() })
	return &Manager{Metadata: store}
}

// registers a live pointer directly in the metadata store
func stagePointer(t *testing.T, store *metadata.Store, tenantId, rootTaskId string,
	role depot.ArtifactRole) depot.ArtifactPointer {
	pointer := depot.ArtifactPointer{
		ArtifactId:   uuid.New(),
		TenantId:     tenantId,
		RootTaskId:   rootTaskId,
		Location:     "mem://" + tenantId + "/" + rootTaskId + "/blob",
		SizeBytes:    5,
		MimeType:     "text/plain",
		ContentHash:  "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		ArtifactRole: role,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.InsertPointer(context.Background(), pointer); err != nil {
		t.Fatalf("Couldn't register pointer: %s", err.Error())
	}
	return pointer
}

func TestDeclareValidatesContracts(t *testing.T) {
	assert := assert.New(t)
	manager := testManager(t)
	ctx := context.Background()

	var specErr *InvalidSpecError

	_, err := manager.Declare(ctx, "tenant-a", "task-1", depot.DeliverableSpec{})
	assert.ErrorAs(err, &specErr)

	_, err = manager.Declare(ctx, "tenant-a", "task-1", depot.DeliverableSpec{
		ShippingDestination: "no-scheme-here",
	})
	assert.ErrorAs(err, &specErr)

	_, err = manager.Declare(ctx, "tenant-a", "task-1", depot.DeliverableSpec{
		ArtifactRoles:       []depot.ArtifactRole{"masterpiece"},
		ShippingDestination: "fs://outbox",
	})
	assert.ErrorAs(err, &specErr)

	_, err = manager.Declare(ctx, "tenant-a", "task-1", depot.DeliverableSpec{
		Requirements:        []string{""},
		ShippingDestination: "fs://outbox",
	})
	assert.ErrorAs(err, &specErr)

	// duplicate requirement names collapse
	deliverable, err := manager.Declare(ctx, "tenant-a", "task-1",
		depot.DeliverableSpec{
			Requirements:        []string{"review", "review", "sign-off"},
			ShippingDestination: "fs://outbox",
		})
	assert.Nil(err)
	assert.Equal([]string{"review", "sign-off"}, deliverable.Spec.Requirements)
	assert.Equal(depot.StatusDeclared, deliverable.Status)
}

func TestClosureReportsMissingPieces(t *testing.T) {
	assert := assert.New(t)
	manager := testManager(t)
	ctx := context.Background()

	staged := stagePointer(t, manager.Metadata, "tenant-a", "task-1",
		depot.RoleSupporting)
	wanted := uuid.New()
	deliverable, err := manager.Declare(ctx, "tenant-a", "task-1",
		depot.DeliverableSpec{
			ArtifactIds:         []uuid.UUID{staged.ArtifactId, wanted},
			ArtifactRoles:       []depot.ArtifactRole{depot.RoleFinalOutput},
			Requirements:        []string{"review"},
			ShippingDestination: "fs://outbox",
		})
	assert.Nil(err)

	report, err := manager.CheckClosure(ctx, "tenant-a", deliverable.DeliverableId)
	assert.Nil(err)
	assert.False(report.Satisfied)
	assert.Equal([]uuid.UUID{wanted}, report.MissingIds)
	assert.Equal([]depot.ArtifactRole{depot.RoleFinalOutput}, report.MissingRoles)
	assert.Equal([]string{"review"}, report.MissingRequirements)
	// the staged pointer matches by id even though closure fails
	assert.Equal(1, len(report.MatchedPointers))
	assert.Equal(staged.ArtifactId, report.MatchedPointers[0].ArtifactId)
}

func TestClosureSatisfiedByUnionOfMatches(t *testing.T) {
	assert := assert.New(t)
	manager := testManager(t)
	ctx := context.Background()

	byId := stagePointer(t, manager.Metadata, "tenant-a", "task-1",
		depot.RoleSupporting)
	byRole := stagePointer(t, manager.Metadata, "tenant-a", "task-1",
		depot.RoleFinalOutput)
	unmatched := stagePointer(t, manager.Metadata, "tenant-a", "task-1",
		depot.RoleLog)

	deliverable, err := manager.Declare(ctx, "tenant-a", "task-1",
		depot.DeliverableSpec{
			ArtifactIds:         []uuid.UUID{byId.ArtifactId},
			ArtifactRoles:       []depot.ArtifactRole{depot.RoleFinalOutput},
			Requirements:        []string{"review"},
			ShippingDestination: "fs://outbox",
		})
	assert.Nil(err)

	assert.Nil(manager.MarkRequirement(ctx, "tenant-a",
		deliverable.DeliverableId, "review"))

	report, err := manager.CheckClosure(ctx, "tenant-a", deliverable.DeliverableId)
	assert.Nil(err)
	assert.True(report.Satisfied)
	assert.Equal(2, len(report.MatchedPointers))
	matched := make(map[uuid.UUID]bool)
	for _, pointer := range report.MatchedPointers {
		matched[pointer.ArtifactId] = true
	}
	assert.True(matched[byId.ArtifactId])
	assert.True(matched[byRole.ArtifactId])
	assert.False(matched[unmatched.ArtifactId])
}

func TestEmptyContractMatchesAllLivePointers(t *testing.T) {
	assert := assert.New(t)
	manager := testManager(t)
	ctx := context.Background()

	first := stagePointer(t, manager.Metadata, "tenant-a", "task-1",
		depot.RoleSupporting)
	second := stagePointer(t, manager.Metadata, "tenant-a", "task-1",
		depot.RoleLog)

	deliverable, err := manager.Declare(ctx, "tenant-a", "task-1",
		depot.DeliverableSpec{ShippingDestination: "fs://outbox"})
	assert.Nil(err)

	report, err := manager.CheckClosure(ctx, "tenant-a", deliverable.DeliverableId)
	assert.Nil(err)
	assert.True(report.Satisfied)
	assert.Equal(2, len(report.MatchedPointers))
	matched := make(map[uuid.UUID]bool)
	for _, pointer := range report.MatchedPointers {
		matched[pointer.ArtifactId] = true
	}
	assert.True(matched[first.ArtifactId])
	assert.True(matched[second.ArtifactId])
}

func TestMarkRequirementRules(t *testing.T) {
	assert := assert.New(t)
	manager := testManager(t)
	ctx := context.Background()

	deliverable, err := manager.Declare(ctx, "tenant-a", "task-1",
		depot.DeliverableSpec{
			Requirements:        []string{"review"},
			ShippingDestination: "fs://outbox",
		})
	assert.Nil(err)

	// unknown names are refused
	err = manager.MarkRequirement(ctx, "tenant-a", deliverable.DeliverableId,
		"sign-off")
	var unknownErr *UnknownRequirementError
	assert.ErrorAs(err, &unknownErr)

	// known names mark idempotently
	assert.Nil(manager.MarkRequirement(ctx, "tenant-a",
		deliverable.DeliverableId, "review"))
	assert.Nil(manager.MarkRequirement(ctx, "tenant-a",
		deliverable.DeliverableId, "review"))

	// terminal deliverables refuse further marks
	assert.Nil(manager.Metadata.TransitionDeliverable(ctx, "tenant-a",
		deliverable.DeliverableId, depot.StatusDeclared, depot.StatusRejected))
	err = manager.MarkRequirement(ctx, "tenant-a", deliverable.DeliverableId,
		"review")
	var notDeclaredErr *NotDeclaredError
	assert.ErrorAs(err, &notDeclaredErr)

	// unknown deliverables report not found
	err = manager.MarkRequirement(ctx, "tenant-a", uuid.New(), "review")
	var notFoundErr *metadata.NotFoundError
	assert.ErrorAs(err, &notFoundErr)
}

func TestListFiltersByStatus(t *testing.T) {
	assert := assert.New(t)
	manager := testManager(t)
	ctx := context.Background()

	first, err := manager.Declare(ctx, "tenant-a", "task-1",
		depot.DeliverableSpec{ShippingDestination: "fs://outbox"})
	assert.Nil(err)
	_, err = manager.Declare(ctx, "tenant-a", "task-1",
		depot.DeliverableSpec{ShippingDestination: "fs://outbox"})
	assert.Nil(err)
	assert.Nil(manager.Metadata.TransitionDeliverable(ctx, "tenant-a",
		first.DeliverableId, depot.StatusDeclared, depot.StatusRejected))

	all, err := manager.List(ctx, "tenant-a", "task-1", "")
	assert.Nil(err)
	assert.Equal(2, len(all))

	rejected, err := manager.List(ctx, "tenant-a", "task-1", "rejected")
	assert.Nil(err)
	assert.Equal(1, len(rejected))
	assert.Equal(first.DeliverableId, rejected[0].DeliverableId)

	_, err = manager.List(ctx, "tenant-a", "task-1", "lost")
	var specErr *InvalidSpecError
	assert.ErrorAs(err, &specErr)
}
