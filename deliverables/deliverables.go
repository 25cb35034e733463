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

// This package manages deliverable contracts and evaluates their closure
// against the live artifact set. Closure checks are pure queries; they never
// change state.
package deliverables

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/metadata"
	"github.com/depotgate/depotgate/sanitize"
)

// Manager is the deliverable surface for a depot.
type Manager struct {
	Metadata *metadata.Store
}

// validates a contract, normalizing roles and deduplicating requirements
func validateSpec(spec depot.DeliverableSpec) (depot.DeliverableSpec, error) {
	if spec.ShippingDestination == "" {
		return spec, &InvalidSpecError{Reason: "no shipping destination was given"}
	}
	if _, _, err := sanitize.ParseLocation(spec.ShippingDestination); err != nil {
		return spec, &InvalidSpecError{Reason: err.Error()}
	}
	for _, role := range spec.ArtifactRoles {
		if _, err := depot.ParseArtifactRole(string(role)); err != nil || role == "" {
			return spec, &InvalidSpecError{Reason: "invalid artifact role: " + string(role)}
		}
	}
	seen := make(map[string]bool)
	requirements := make([]string, 0, len(spec.Requirements))
	for _, name := range spec.Requirements {
		if name == "" {
			return spec, &InvalidSpecError{Reason: "requirement names must be nonempty"}
		}
		if !seen[name] {
			seen[name] = true
			requirements = append(requirements, name)
		}
	}
	spec.Requirements = requirements
	return spec, nil
}

// declares a deliverable with the given contract; the deliverable starts in
// the declared status
func (manager *Manager) Declare(ctx context.Context, tenantId, rootTaskId string,
	spec depot.DeliverableSpec) (depot.Deliverable, error) {
	if err := sanitize.ValidateTaskId(tenantId); err != nil {
		return depot.Deliverable{}, err
	}
	if err := sanitize.ValidateTaskId(rootTaskId); err != nil {
		return depot.Deliverable{}, err
	}
	spec, err := validateSpec(spec)
	if err != nil {
		return depot.Deliverable{}, err
	}
	if len(spec.ArtifactIds) == 0 && len(spec.ArtifactRoles) == 0 &&
		len(spec.Requirements) == 0 {
		// legal, but such a deliverable ships whatever happens to be live
		slog.Warn("Declared a deliverable with an empty contract",
			"tenant", tenantId, "task", rootTaskId)
	}

	deliverable := depot.Deliverable{
		DeliverableId: uuid.New(),
		TenantId:      tenantId,
		RootTaskId:    rootTaskId,
		Spec:          spec,
		Status:        depot.StatusDeclared,
		CreatedAt:     time.Now().UTC(),
	}
	if err := manager.Metadata.InsertDeliverable(ctx, deliverable); err != nil {
		return depot.Deliverable{}, err
	}
	slog.Info("Declared deliverable", "tenant", tenantId, "task", rootTaskId,
		"deliverable", deliverable.DeliverableId.String(),
		"destination", spec.ShippingDestination)
	return deliverable, nil
}

func (manager *Manager) Get(ctx context.Context, tenantId string,
	deliverableId uuid.UUID) (depot.Deliverable, error) {
	return manager.Metadata.GetDeliverable(ctx, tenantId, deliverableId)
}

// lists a task's deliverables, optionally filtered by status
func (manager *Manager) List(ctx context.Context, tenantId, rootTaskId,
	status string) ([]depot.Deliverable, error) {
	if err := sanitize.ValidateTaskId(tenantId); err != nil {
		return nil, err
	}
	if err := sanitize.ValidateTaskId(rootTaskId); err != nil {
		return nil, err
	}
	switch depot.DeliverableStatus(status) {
	case "", depot.StatusDeclared, depot.StatusShipped, depot.StatusRejected:
	default:
		return nil, &InvalidSpecError{Reason: "invalid status filter: " + status}
	}
	return manager.Metadata.ListDeliverables(ctx, tenantId, rootTaskId,
		depot.DeliverableStatus(status))
}

// marks a named requirement of a declared deliverable satisfied; the name
// must appear in the deliverable's contract, and marking twice is idempotent
func (manager *Manager) MarkRequirement(ctx context.Context, tenantId string,
	deliverableId uuid.UUID, name string) error {
	deliverable, err := manager.Metadata.GetDeliverable(ctx, tenantId, deliverableId)
	if err != nil {
		return err
	}
	if deliverable.Status != depot.StatusDeclared {
		return &NotDeclaredError{DeliverableId: deliverableId,
			Status: deliverable.Status}
	}
	declared := false
	for _, required := range deliverable.Spec.Requirements {
		if required == name {
			declared = true
			break
		}
	}
	if !declared {
		return &UnknownRequirementError{DeliverableId: deliverableId, Name: name}
	}
	return manager.Metadata.MarkRequirement(ctx, tenantId, deliverableId, name,
		time.Now().UTC())
}

// evaluates a deliverable's contract against the live artifact set. The
// matched pointers are the union of id matches and role matches; a contract
// with neither ids nor roles matches every live pointer of the task.
func (manager *Manager) CheckClosure(ctx context.Context, tenantId string,
	deliverableId uuid.UUID) (depot.ClosureReport, error) {
	deliverable, err := manager.Metadata.GetDeliverable(ctx, tenantId, deliverableId)
	if err != nil {
		return depot.ClosureReport{}, err
	}
	live, err := manager.Metadata.LivePointers(ctx, tenantId,
		deliverable.RootTaskId, metadata.PointerFilter{})
	if err != nil {
		return depot.ClosureReport{}, err
	}
	marks, err := manager.Metadata.RequirementMarks(ctx, tenantId, deliverableId)
	if err != nil {
		return depot.ClosureReport{}, err
	}

	report := depot.ClosureReport{
		MissingIds:          []uuid.UUID{},
		MissingRoles:        []depot.ArtifactRole{},
		MissingRequirements: []string{},
		MatchedPointers:     []depot.ArtifactPointer{},
	}
	spec := deliverable.Spec

	liveById := make(map[uuid.UUID]depot.ArtifactPointer)
	liveByRole := make(map[depot.ArtifactRole]bool)
	for _, pointer := range live {
		liveById[pointer.ArtifactId] = pointer
		liveByRole[pointer.ArtifactRole] = true
	}
	for _, required := range spec.ArtifactIds {
		if _, found := liveById[required]; !found {
			report.MissingIds = append(report.MissingIds, required)
		}
	}
	for _, required := range spec.ArtifactRoles {
		if !liveByRole[required] {
			report.MissingRoles = append(report.MissingRoles, required)
		}
	}
	for _, required := range spec.Requirements {
		if !marks[required] {
			report.MissingRequirements = append(report.MissingRequirements, required)
		}
	}

	if len(spec.ArtifactIds) == 0 && len(spec.ArtifactRoles) == 0 {
		report.MatchedPointers = append(report.MatchedPointers, live...)
	} else {
		wantedIds := make(map[uuid.UUID]bool)
		for _, required := range spec.ArtifactIds {
			wantedIds[required] = true
		}
		wantedRoles := make(map[depot.ArtifactRole]bool)
		for _, required := range spec.ArtifactRoles {
			wantedRoles[required] = true
		}
		for _, pointer := range live {
			if wantedIds[pointer.ArtifactId] || wantedRoles[pointer.ArtifactRole] {
				report.MatchedPointers = append(report.MatchedPointers, pointer)
			}
		}
	}

	report.Satisfied = len(report.MissingIds) == 0 &&
		len(report.MissingRoles) == 0 &&
		len(report.MissingRequirements) == 0
	return report, nil
}
