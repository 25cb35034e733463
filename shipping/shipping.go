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

// This package drives the deliverable state machine. Shipping follows a
// strict order: gate on closure, snapshot the matched pointers, send the
// bytes, then commit the status transition and manifest in one transaction.
// The compare-and-set in the metadata store picks the single winner among
// concurrent shippers. Purging marks pointers dead and, depending on policy,
// deletes their bytes.
package shipping

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/depotgate/depotgate/deliverables"
	"github.com/depotgate/depotgate/depot"
	"github.com/depotgate/depotgate/metadata"
	"github.com/depotgate/depotgate/receipts"
	"github.com/depotgate/depotgate/sanitize"
	"github.com/depotgate/depotgate/sinks"
	"github.com/depotgate/depotgate/storage"
)

// Service is the shipping and purging surface for a depot. All fields are
// required.
type Service struct {
	Deliverables *deliverables.Manager
	Metadata     *metadata.Store
	Receipts     *receipts.Store
	Storage      storage.Backend
	Sinks        *sinks.Registry
}

// the payload of a shipment_rejected receipt
type rejectedPayload struct {
	DeliverableId string              `json:"deliverable_id"`
	Report        depot.ClosureReport `json:"report"`
}

// the payload of a shipment_complete receipt
type completePayload struct {
	Manifest depot.ShipmentManifest `json:"manifest"`
}

// the payload of a purged receipt
type purgedPayload struct {
	Policy        string   `json:"policy"`
	PolicyVersion string   `json:"policy_version"`
	ArtifactIds   []string `json:"artifact_ids"`
}

// ships a declared deliverable whose contract is satisfied, returning the
// frozen manifest. An unsatisfied contract rejects the deliverable
// permanently. Transport failures leave the deliverable declared so the
// caller may retry.
func (service *Service) Ship(ctx context.Context, tenantId, rootTaskId string,
	deliverableId uuid.UUID) (depot.ShipmentManifest, error) {
	if err := sanitize.ValidateTaskId(rootTaskId); err != nil {
		return depot.ShipmentManifest{}, err
	}
	deliverable, err := service.Metadata.GetDeliverable(ctx, tenantId, deliverableId)
	if err != nil {
		return depot.ShipmentManifest{}, err
	}
	if deliverable.RootTaskId != rootTaskId {
		return depot.ShipmentManifest{}, &WrongTaskError{
			DeliverableId: deliverableId, RootTaskId: rootTaskId}
	}
	switch deliverable.Status {
	case depot.StatusShipped:
		return depot.ShipmentManifest{}, &AlreadyShippedError{DeliverableId: deliverableId}
	case depot.StatusRejected:
		return depot.ShipmentManifest{}, &AlreadyRejectedError{DeliverableId: deliverableId}
	}

	// the closure gate comes before anything else
	report, err := service.Deliverables.CheckClosure(ctx, tenantId, deliverableId)
	if err != nil {
		return depot.ShipmentManifest{}, err
	}
	if !report.Satisfied {
		return depot.ShipmentManifest{}, service.reject(ctx, deliverable, report)
	}
	if len(report.MatchedPointers) == 0 {
		return depot.ShipmentManifest{}, &NoArtifactsError{DeliverableId: deliverableId}
	}

	// resolve the sink before moving any bytes
	sink, destination, err := service.Sinks.ForDestination(
		deliverable.Spec.ShippingDestination)
	if err != nil {
		return depot.ShipmentManifest{}, err
	}

	// freeze the matched pointers into the manifest
	manifest := depot.ShipmentManifest{
		ManifestId:       uuid.New(),
		DeliverableId:    deliverableId,
		TenantId:         tenantId,
		RootTaskId:       deliverable.RootTaskId,
		ArtifactPointers: report.MatchedPointers,
		Destination:      deliverable.Spec.ShippingDestination,
		ShippedAt:        time.Now().UTC(),
	}

	locations := make(map[uuid.UUID]string, len(manifest.ArtifactPointers))
	for _, pointer := range manifest.ArtifactPointers {
		locations[pointer.ArtifactId] = pointer.Location
	}
	getContent := func(ctx context.Context, artifactId uuid.UUID) (io.ReadCloser, error) {
		return service.Storage.Retrieve(ctx, locations[artifactId])
	}

	// bytes move before the status transition; a failure here leaves the
	// deliverable declared
	if err := sink.Ship(ctx, manifest.ArtifactPointers, destination, manifest,
		getContent); err != nil {
		return depot.ShipmentManifest{}, err
	}

	// commit the transition and the manifest atomically
	if err := service.Metadata.CommitShipment(ctx, manifest); err != nil {
		var casErr *metadata.CASFailedError
		if errors.As(err, &casErr) {
			slog.Warn("Lost a concurrent shipment race", "tenant", tenantId,
				"deliverable", deliverableId.String())
			return depot.ShipmentManifest{}, &RaceLostError{DeliverableId: deliverableId}
		}
		return depot.ShipmentManifest{},
			&ManifestPersistFailedError{DeliverableId: deliverableId, Err: err}
	}

	slog.Info("Shipped deliverable", "tenant", tenantId,
		"deliverable", deliverableId.String(),
		"manifest", manifest.ManifestId.String(),
		"artifacts", len(manifest.ArtifactPointers),
		"destination", manifest.Destination)

	receipt, err := receipts.New(tenantId, deliverable.RootTaskId,
		depot.ReceiptShipmentComplete, completePayload{Manifest: manifest}, "")
	if err == nil {
		err = service.Receipts.Append(receipt)
	}
	if err != nil {
		// the shipment stands; only the trace is incomplete
		slog.Error("Couldn't record shipment_complete receipt",
			"deliverable", deliverableId.String(), "error", err.Error())
		return manifest, &receipts.WriteFailedError{Err: err}
	}
	return manifest, nil
}

// rejects a deliverable whose contract was not satisfied at ship time; the
// compare-and-set tolerates a concurrent shipper reaching a terminal state
// first
func (service *Service) reject(ctx context.Context, deliverable depot.Deliverable,
	report depot.ClosureReport) error {
	err := service.Metadata.TransitionDeliverable(ctx, deliverable.TenantId,
		deliverable.DeliverableId, depot.StatusDeclared, depot.StatusRejected)
	if err != nil {
		var casErr *metadata.CASFailedError
		if errors.As(err, &casErr) {
			if casErr.Status == depot.StatusShipped {
				return &AlreadyShippedError{DeliverableId: deliverable.DeliverableId}
			}
			return &AlreadyRejectedError{DeliverableId: deliverable.DeliverableId}
		}
		return err
	}

	slog.Info("Rejected deliverable", "tenant", deliverable.TenantId,
		"deliverable", deliverable.DeliverableId.String(),
		"missing_ids", len(report.MissingIds),
		"missing_roles", len(report.MissingRoles),
		"missing_requirements", len(report.MissingRequirements))

	rejection := &ClosureNotSatisfiedError{
		DeliverableId: deliverable.DeliverableId,
		Report:        report,
	}
	receipt, err := receipts.New(deliverable.TenantId, deliverable.RootTaskId,
		depot.ReceiptShipmentRejected, rejectedPayload{
			DeliverableId: deliverable.DeliverableId.String(),
			Report:        report,
		}, "")
	if err == nil {
		err = service.Receipts.Append(receipt)
	}
	if err != nil {
		slog.Error("Couldn't record shipment_rejected receipt",
			"deliverable", deliverable.DeliverableId.String(), "error", err.Error())
	}
	return rejection
}

// purges artifacts under a retention policy. Pointers leave the live set
// immediately; bytes are deleted now (immediate), after a delay recorded for
// an operator (retain policies), or not at all (manual). Returns the ids
// actually purged; already-purged and unknown ids are skipped.
func (service *Service) Purge(ctx context.Context, tenantId, rootTaskId string,
	artifactIds []uuid.UUID, policy string) ([]uuid.UUID, error) {
	if err := sanitize.ValidateTaskId(tenantId); err != nil {
		return nil, err
	}
	if err := sanitize.ValidateTaskId(rootTaskId); err != nil {
		return nil, err
	}
	parsed, err := depot.ParsePurgePolicy(policy)
	if err != nil {
		return nil, &InvalidPurgeError{Reason: err.Error()}
	}
	// with no ids given, the whole live set for the task is purged
	if len(artifactIds) == 0 {
		live, err := service.Metadata.LivePointers(ctx, tenantId, rootTaskId,
			metadata.PointerFilter{})
		if err != nil {
			return nil, err
		}
		for _, pointer := range live {
			artifactIds = append(artifactIds, pointer.ArtifactId)
		}
	}

	var purgedIds []uuid.UUID
	var payloadIds []string
	if parsed == depot.PurgeManual {
		// manual records intent only; pointer state is untouched
		purgedIds = artifactIds
		for _, id := range artifactIds {
			payloadIds = append(payloadIds, id.String())
		}
	} else {
		now := time.Now().UTC()
		var purgeAfter *time.Time
		if retain, delayed := parsed.RetainFor(); delayed {
			deadline := now.Add(retain)
			purgeAfter = &deadline
		}
		marked, err := service.Metadata.MarkPurged(ctx, tenantId, rootTaskId,
			artifactIds, now, purgeAfter)
		if err != nil {
			return nil, err
		}

		purgedIds = make([]uuid.UUID, len(marked))
		payloadIds = make([]string, len(marked))
		for i, pointer := range marked {
			purgedIds[i] = pointer.ArtifactId
			payloadIds[i] = pointer.ArtifactId.String()
			if parsed == depot.PurgeImmediate {
				// best effort: the pointer is already dead either way
				if err := service.Storage.Delete(ctx, pointer.Location); err != nil {
					slog.Error("Couldn't delete purged artifact bytes",
						"location", pointer.Location, "error", err.Error())
				}
			}
		}
	}

	slog.Info("Purged artifacts", "tenant", tenantId, "task", rootTaskId,
		"policy", string(parsed), "count", len(purgedIds))

	receipt, err := receipts.New(tenantId, rootTaskId, depot.ReceiptPurged,
		purgedPayload{
			Policy:        string(parsed),
			PolicyVersion: "1",
			ArtifactIds:   payloadIds,
		}, "")
	if err == nil {
		err = service.Receipts.Append(receipt)
	}
	if err != nil {
		slog.Error("Couldn't record purged receipt", "tenant", tenantId,
			"task", rootTaskId, "error", err.Error())
		return purgedIds, &receipts.WriteFailedError{Err: err}
	}
	return purgedIds, nil
}

// fetches a shipment manifest by id
func (service *Service) Manifest(ctx context.Context, tenantId string,
	manifestId uuid.UUID) (depot.ShipmentManifest, error) {
	return service.Metadata.GetManifest(ctx, tenantId, manifestId)
}

// lists a task's shipment manifests in shipping order
func (service *Service) Manifests(ctx context.Context, tenantId,
	rootTaskId string) ([]depot.ShipmentManifest, error) {
	if err := sanitize.ValidateTaskId(tenantId); err != nil {
		return nil, err
	}
	if err := sanitize.ValidateTaskId(rootTaskId); err != nil {
		return nil, err
	}
	return service.Metadata.ListManifests(ctx, tenantId, rootTaskId)
}
